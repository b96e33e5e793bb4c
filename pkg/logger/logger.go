package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = zap.NewNop().Sugar()

// Init builds the process logger. Development uses a console encoder with
// debug output; everything else gets JSON at info level.
func Init(environment string) error {
	var (
		base *zap.Logger
		err  error
	)

	if environment == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		base, err = cfg.Build(zap.AddCallerSkip(1))
	} else {
		base, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(base)
	sugar = base.Sugar()
	return nil
}

// L exposes the underlying zap logger for components that log structured fields.
func L() *zap.Logger {
	return sugar.Desugar()
}

func Sync() {
	_ = sugar.Sync()
}

func Info(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}
