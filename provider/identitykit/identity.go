package identitykit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session"
)

// tokenExpiryLeeway refreshes tokens slightly before their recorded
// expiry so callers never hand the backend an about-to-expire token.
const tokenExpiryLeeway = 30 * time.Second

// Identity is a provider-issued identity. Token state is guarded so
// concurrent callers may each trigger a refresh safely.
type Identity struct {
	gw          *Gateway
	subject     string
	email       string
	displayName string

	mu           sync.Mutex
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

var _ session.Identity = (*Identity)(nil)

// ID returns the provider's stable subject identifier.
func (i *Identity) ID() string { return i.subject }

func (i *Identity) Email() string { return i.email }

func (i *Identity) DisplayName() string { return i.displayName }

// Token returns a bearer token for the identity, refreshing through the
// secure token endpoint when forced or when the cached token is at or
// past its expiry leeway.
func (i *Identity) Token(ctx context.Context, forceRefresh bool) (string, error) {
	i.mu.Lock()
	token := i.idToken
	refresh := i.refreshToken
	serviceable := token != "" && time.Until(i.expiresAt) > tokenExpiryLeeway
	i.mu.Unlock()

	if !forceRefresh && serviceable {
		return token, nil
	}

	return i.gw.refresh(ctx, i, refresh)
}

func (i *Identity) setTokens(idToken, refreshToken string, expiresAt time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.idToken = idToken
	if refreshToken != "" {
		i.refreshToken = refreshToken
	}
	i.expiresAt = expiresAt
}

// tokenExpiry resolves when a freshly issued token expires, preferring
// the token's own exp claim over the provider's expires_in hint.
func tokenExpiry(idToken, expiresIn string, now time.Time) time.Time {
	if exp, ok := claimExpiry(idToken); ok {
		return exp
	}

	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}

	// an unknown expiry forces a refresh on next use
	return now
}

// claimExpiry decodes the exp claim without verifying the signature;
// verification, when configured, happens in Gateway.verifyToken.
func claimExpiry(idToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
