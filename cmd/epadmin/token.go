package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deductiv/export-everything-sub000/internal/auth"
)

type tokenOutput struct {
	Token     string    `json:"token" yaml:"token"`
	Username  string    `json:"username" yaml:"username"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

func (c *cli) newTokenCmd() *cobra.Command {
	var (
		roles []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USERNAME",
		Short: "Issue a token for the listing server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			tok, exp, err := auth.New(c.cfg.JWTSecret).IssueToken(args[0], roles, ttl)
			if err != nil {
				return err
			}
			if ok, err := c.print(tokenOutput{Token: tok, Username: args[0], ExpiresAt: exp}); ok {
				return err
			}
			fmt.Fprintln(c.out, tok)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role granted by the token (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
