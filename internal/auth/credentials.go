// ABOUTME: Credential providers resolving the bearer token for each stream session
// ABOUTME: Static, env/file and JWT-expiry-guarded providers, chainable with First

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no provider has a token.
var ErrNoToken = errors.New("no token configured")

// DefaultTokenEnv is the environment variable EnvFileToken reads first.
const DefaultTokenEnv = "OTTO_TOKEN"

// CredentialProvider returns the bearer token for a new session.
type CredentialProvider interface {
	Token() (string, error)
}

// ProviderFunc adapts a function to CredentialProvider.
type ProviderFunc func() (string, error)

// Token calls f.
func (f ProviderFunc) Token() (string, error) {
	return f()
}

// StaticToken always returns itself.
type StaticToken string

// Token returns the fixed token, or ErrNoToken when it is empty.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// EnvFileToken reads the token from an environment variable, falling back to
// a file. Empty fields use OTTO_TOKEN and $XDG_CONFIG_HOME/otto/token.
type EnvFileToken struct {
	EnvVar string
	Path   string
}

// Token returns the first non-empty token found.
func (e EnvFileToken) Token() (string, error) {
	envVar := e.EnvVar
	if envVar == "" {
		envVar = DefaultTokenEnv
	}
	if token := strings.TrimSpace(os.Getenv(envVar)); token != "" {
		return token, nil
	}

	path := e.Path
	if path == "" {
		var err error
		path, err = DefaultTokenPath()
		if err != nil {
			return "", ErrNoToken
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// DefaultTokenPath returns $XDG_CONFIG_HOME/otto/token (or ~/.config/otto/token).
func DefaultTokenPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "otto", "token"), nil
}

// First tries each provider in order and returns the first token. Errors
// other than ErrNoToken stop the chain.
func First(providers ...CredentialProvider) CredentialProvider {
	return ProviderFunc(func() (string, error) {
		for _, p := range providers {
			token, err := p.Token()
			if err == nil {
				return token, nil
			}
			if !errors.Is(err, ErrNoToken) {
				return "", err
			}
		}
		return "", ErrNoToken
	})
}

// JWTGuard rejects tokens that are JWTs whose exp claim has passed. The
// signature is not checked; that is the backend's job. Opaque tokens pass
// through untouched.
type JWTGuard struct {
	Provider CredentialProvider
	// Leeway is subtracted from exp before comparing.
	Leeway time.Duration
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Token returns the wrapped provider's token unless it is an expired JWT.
func (g JWTGuard) Token() (string, error) {
	token, err := g.Provider.Token()
	if err != nil {
		return "", err
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		// Not a JWT; let the backend decide
		return token, nil
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	if !now().Before(exp.Add(-g.Leeway)) {
		return "", fmt.Errorf("%w at %s", ErrExpiredToken, exp.Format(time.RFC3339))
	}
	return token, nil
}
