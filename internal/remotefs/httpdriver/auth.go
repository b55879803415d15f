package httpdriver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/duotree/agent/internal/tokenfile"
)

// OAuthProvider names the vendor-specific OAuth2 endpoint/scopes a device
// account is configured against. A generic REST driver like this one
// supports any provider whose OAuth2 endpoint is supplied by config.
type OAuthProvider struct {
	Endpoint     oauth2.Endpoint
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// tokenSource adapts an oauth2.TokenSource to this package's TokenSource
// interface, mirroring the teacher's graph.tokenBridge.
type tokenSource struct {
	src oauth2.TokenSource
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	tok, err := t.src.Token()
	if err != nil {
		return "", err
	}

	return tok.AccessToken, nil
}

// oauthConfig builds an *oauth2.Config whose OnTokenChange callback
// persists refreshed tokens back to tokenPath, mirroring the teacher's
// graph.oauthConfig. This is the callback
// github.com/tonimelisma/oauth2's fork adds over upstream oauth2.Config
// (see the module's replace directive) — without it, a refreshed token
// would live only in memory and re-trigger a full login after restart.
func oauthConfig(provider OAuthProvider, tokenPath string, logger *slog.Logger) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     provider.ClientID,
		ClientSecret: provider.ClientSecret,
		Endpoint:     provider.Endpoint,
		Scopes:       provider.Scopes,
		OnTokenChange: func(tok *oauth2.Token) {
			meta, _ := tokenfile.ReadMeta(tokenPath) //nolint:errcheck // best-effort: preserve existing meta, absent file is fine
			if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
				logger.Warn("httpdriver: failed to persist refreshed token", "path", tokenPath, "error", err)
			} else {
				logger.Debug("httpdriver: persisted refreshed token", "path", tokenPath)
			}
		},
	}
}

// TokenSourceFromPath loads a previously saved token from tokenPath and
// wraps it in an auto-refreshing, auto-persisting TokenSource, mirroring
// the teacher's graph.TokenSourceFromPath.
func TokenSourceFromPath(ctx context.Context, tokenPath string, provider OAuthProvider, logger *slog.Logger) (TokenSource, error) {
	tok, _, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("httpdriver: loading token from %s: %w", tokenPath, err)
	}

	cfg := oauthConfig(provider, tokenPath, logger)

	return &tokenSource{src: cfg.TokenSource(ctx, tok)}, nil
}

// Logout removes the persisted token, forcing the next start to
// re-authenticate.
func Logout(tokenPath string) error {
	if err := os.Remove(tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("httpdriver: removing token file %s: %w", tokenPath, err)
	}

	return nil
}
