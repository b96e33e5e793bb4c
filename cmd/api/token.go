package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"timbermart/internal/infrastructure/auth"
	"timbermart/pkg/config"
)

// newTokenCmd issues an HS256 token for local testing against AUTH_PROVIDER=jwt.
func newTokenCmd() *cli.Command {
	var (
		userID string
		ttl    time.Duration
	)

	return &cli.Command{
		Name:  "token",
		Usage: "issue a development token for a user id",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "user-id",
				Usage:       "marketplace user id to embed in the token",
				Required:    true,
				Destination: &userID,
			},
			&cli.DurationFlag{
				Name:        "ttl",
				Usage:       "token lifetime",
				Value:       24 * time.Hour,
				Destination: &ttl,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDevelopment() {
				return cli.Exit("token issuing is only available in development", exitFatal)
			}

			token, err := auth.NewJWTVerifier(cfg.JWTSecret).GenerateToken(userID, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
