package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/config"
)

func newTokenCommand() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API session token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			token, expiresAt, err := issueSessionToken(settings, accountID)
			if err != nil {
				return err
			}

			fmt.Println(token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Platform account ID (required)")

	return cmd
}

func issueSessionToken(settings *config.Settings, accountID string) (string, time.Time, error) {
	sessions, err := newTokenIssuer(settings, auth.AudienceSession)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating session issuer: %w", err)
	}

	token, expiresAt, err := sessions.Issue(accountID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issuing token: %w", err)
	}

	return token, expiresAt, nil
}
