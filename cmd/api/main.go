package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

const (
	exitFatal            = 1
	exitStoreUnavailable = 2
)

func main() {
	app := &cli.Command{
		Name:  "timbermart-chat",
		Usage: "Real-time buyer/seller chat for the timber marketplace",
		Commands: []*cli.Command{
			newServeCmd(),
			newMigrateCmd(),
			newTokenCmd(),
		},
		DefaultCommand: "serve",
		// Exit codes are decided below so deferred cleanup in commands runs first.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(exitFatal)
	}
}
