package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/sheets/v4"
)

// ErrNoToken reports that no token file is configured or present. Callers
// fall back to the anonymous identity.
var ErrNoToken = errors.New("no oauth token")

// Scopes requested from Google: spreadsheet read/write and Drive metadata
// for discovery.
var Scopes = []string{sheets.SpreadsheetsScope, drive.DriveMetadataReadonlyScope}

// LoadTokenSource reads an oauth2.Token saved as JSON at tokenFile. When
// clientFile names an OAuth client secret, the token refreshes itself;
// otherwise it is used as-is until it expires.
func LoadTokenSource(ctx context.Context, tokenFile, clientFile string) (oauth2.TokenSource, error) {
	if tokenFile == "" {
		return nil, ErrNoToken
	}
	raw, err := os.ReadFile(tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", tokenFile, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}

	if clientFile == "" {
		return oauth2.StaticTokenSource(&tok), nil
	}
	secret, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	conf, err := google.ConfigFromJSON(secret, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	return conf.TokenSource(ctx, &tok), nil
}
