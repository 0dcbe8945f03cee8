package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/peteski22/donorsync/internal/auth"
	"github.com/peteski22/donorsync/internal/config"
	"github.com/peteski22/donorsync/internal/contacts"
)

func newConnectCommand() *cobra.Command {
	var accountID string
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Start the Google Contacts authorization flow for an account",
		Long: `Prints the Google consent URL for the account and opens it in a browser.
The running server receives the callback on google.redirect_url, stores the
connection and starts the initial sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(accountID, !noBrowser)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Platform account ID to connect (required)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the URL without opening a browser")

	return cmd
}

func runConnect(accountID string, launch bool) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	authURL, err := connectURL(settings, accountID)
	if err != nil {
		return err
	}

	fmt.Println("=== Google Contacts Authorization ===")
	fmt.Println()
	fmt.Println("Visit this URL to grant access:")
	fmt.Println(authURL)
	fmt.Println()

	if launch {
		if err := openBrowser(authURL); err != nil {
			fmt.Printf("Could not open browser: %s\n", err)
		}
	}

	fmt.Printf("The server at %s completes the connection.\n", settings.Google.RedirectURL)

	return nil
}

// connectURL returns the consent URL carrying a signed state for the account.
func connectURL(settings *config.Settings, accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", errors.New("--account is required")
	}

	states, err := newTokenIssuer(settings, auth.AudienceOAuthState)
	if err != nil {
		return "", fmt.Errorf("creating state issuer: %w", err)
	}

	state, _, err := states.Issue(accountID)
	if err != nil {
		return "", fmt.Errorf("issuing state: %w", err)
	}

	oauth, err := contacts.NewOAuth(contacts.OAuthConfig{
		ClientID:     settings.Google.ClientID,
		ClientSecret: settings.Google.ClientSecret,
		RedirectURL:  settings.Google.RedirectURL,
	})
	if err != nil {
		return "", fmt.Errorf("creating OAuth client: %w", err)
	}

	return oauth.AuthCodeURL(state), nil
}

// browserCommand returns the command and arguments to open a URL on the current OS.
func browserCommand(targetURL string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{targetURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", targetURL}
	default:
		return "xdg-open", []string{targetURL}
	}
}

// openBrowser opens the default web browser to the specified URL.
func openBrowser(targetURL string) error {
	name, args := browserCommand(targetURL)
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	return cmd.Start()
}
