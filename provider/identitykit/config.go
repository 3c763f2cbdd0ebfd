package identitykit

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/goliatone/go-session"
)

// Config configures the identitykit gateway.
type Config struct {
	// APIKey authenticates the application against the identity service.
	APIKey string

	// BaseURL is the identity service root, e.g. https://id.example.com.
	BaseURL string

	// TokenURL overrides the secure token endpoint. Defaults to
	// BaseURL + "/v1/token".
	TokenURL string

	// JWKSURL enables signature verification of provider-issued tokens.
	// When empty, tokens are only decoded for claim extraction.
	JWKSURL string

	// HTTPClient overrides the transport used for provider calls.
	HTTPClient session.Doer

	// Logger overrides the gateway logger.
	Logger session.Logger
}

func (c Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("identitykit: api key is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("identitykit: base url is required")
	}
	return nil
}

func (c Config) tokenURL() string {
	if c.TokenURL != "" {
		return strings.TrimRight(c.TokenURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/v1/token"
}

func (c Config) endpoint(action string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/v1/accounts:" + action
}

func (c Config) jwks() (*keyfunc.JWKS, error) {
	if strings.TrimSpace(c.JWKSURL) == "" {
		return nil, nil
	}

	return keyfunc.Get(c.JWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
}
