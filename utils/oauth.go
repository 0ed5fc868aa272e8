package utils

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"coldrelay/config"
	"coldrelay/models"
)

// OAuthConfig returns the provider OAuth configuration for an account,
// or nil for plain SMTP/IMAP providers.
func OAuthConfig(provider string) *oauth2.Config {
	switch provider {
	case "gmail":
		return &oauth2.Config{
			ClientID:     config.AppConfig.GoogleClientID,
			ClientSecret: config.AppConfig.GoogleClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://mail.google.com/"},
		}
	case "outlook":
		return &oauth2.Config{
			ClientID:     config.AppConfig.MicrosoftClientID,
			ClientSecret: config.AppConfig.MicrosoftClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			Scopes: []string{
				"https://outlook.office.com/SMTP.Send",
				"https://outlook.office.com/IMAP.AccessAsUser.All",
				"offline_access",
			},
		}
	default:
		return nil
	}
}

// AccessToken exchanges the account's stored refresh token for a live
// access token.
func AccessToken(ctx context.Context, account *models.EmailAccount) (string, error) {
	cfg := OAuthConfig(account.Provider)
	if cfg == nil {
		return "", fmt.Errorf("provider %q does not use oauth", account.Provider)
	}

	refresh, err := Decrypt(account.OAuthRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	if refresh == "" {
		return "", fmt.Errorf("account %d has no oauth refresh token", account.ID)
	}

	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh oauth token: %w", err)
	}
	return token.AccessToken, nil
}
