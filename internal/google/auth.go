package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const redirectURL = "urn:ietf:wg:oauth:2.0:oob"

// AuthFiles locates the OAuth client credentials and the saved user token.
// ClientID and ClientSecret, when both set, take precedence over CredentialsPath.
type AuthFiles struct {
	CredentialsPath string
	TokenPath       string
	ClientID        string
	ClientSecret    string
}

// OAuthConfig reads credentials and returns an OAuth2 config with read-write
// calendar scope.
func (a AuthFiles) OAuthConfig() (*oauth2.Config, error) {
	if a.ClientID != "" && a.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(a.CredentialsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or place the OAuth client file there", a.CredentialsPath)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL
	return config, nil
}

// HTTPClient returns an authorized client. Refreshed tokens are written back
// to TokenPath so the refresh token survives restarts.
func (a AuthFiles) HTTPClient(ctx context.Context, logger *slog.Logger) (*http.Client, error) {
	config, err := a.OAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}
	token, err := TokenFromFile(a.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("could not load token from %s: %w. Please run the 'auth' command first", a.TokenPath, err)
	}

	src := &savingTokenSource{
		base:   config.TokenSource(ctx, token),
		path:   a.TokenPath,
		last:   token.AccessToken,
		logger: logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// Exchange trades an authorization code for a token.
func (a AuthFiles) Exchange(ctx context.Context, authCode string) (*oauth2.Token, error) {
	config, err := a.OAuthConfig()
	if err != nil {
		return nil, err
	}
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// TokenFromFile retrieves a token from a local file.
func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// savingTokenSource persists a token whenever the wrapped source hands out a
// new access token.
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token", "file", s.path, "error", err)
		}
	}
	return tok, nil
}
