package identitykit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session"
)

// Gateway talks to the identity service and fans auth-state changes out
// to subscribers. It is the single writer of its own current identity.
type Gateway struct {
	cfg    Config
	http   session.Doer
	logger session.Logger
	jwks   *keyfunc.JWKS

	mu          sync.RWMutex
	current     *Identity
	subscribers []*gatewaySubscriber

	// emitMu serializes delivery so each subscriber observes changes in
	// the order they happened, including the replay on subscribe.
	emitMu sync.Mutex
}

type gatewaySubscriber struct {
	fn func(session.Identity)
}

var _ session.Gateway = (*Gateway)(nil)

// New builds a gateway from cfg. When cfg.JWKSURL is set the remote key
// set is fetched eagerly so a bad URL fails here, not on first sign-in.
func New(cfg Config) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		_, logger = session.ResolveLogger("session.identitykit", nil, nil)
	}

	jwks, err := cfg.jwks()
	if err != nil {
		return nil, fmt.Errorf("identitykit: fetching jwks: %w", err)
	}

	return &Gateway{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
		jwks:   jwks,
	}, nil
}

type authPayload struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// SignUp creates a password account and signs the new identity in.
func (g *Gateway) SignUp(ctx context.Context, email, password, displayName string) (session.Identity, error) {
	payload, err := g.authenticate(ctx, "signUp", map[string]any{
		"email":             email,
		"password":          password,
		"displayName":       displayName,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	if payload.DisplayName == "" {
		payload.DisplayName = displayName
	}

	return g.adopt(payload)
}

// SignIn verifies an email/password credential with the provider.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (session.Identity, error) {
	payload, err := g.authenticate(ctx, "signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	return g.adopt(payload)
}

// SignOut drops the current identity. The provider keeps no server-side
// session for password accounts; sign-out is a local state change that
// subscribers observe as a nil identity.
func (g *Gateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	had := g.current != nil
	g.current = nil
	g.mu.Unlock()

	if had {
		g.emit(nil)
	}

	return nil
}

// ResetPassword asks the provider to email a password reset code.
func (g *Gateway) ResetPassword(ctx context.Context, email string) error {
	res, err := g.post(ctx, g.cfg.endpoint("sendOobCode"), map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	})
	if err != nil {
		return networkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return providerError(res)
	}

	return nil
}

// CurrentIdentity returns the signed-in identity, or an explicit nil
// when signed out.
func (g *Gateway) CurrentIdentity(ctx context.Context) (session.Identity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.current == nil {
		return nil, nil
	}
	return g.current, nil
}

// Subscribe registers onChange and immediately replays the current
// auth state to it. Subsequent changes arrive in order.
func (g *Gateway) Subscribe(onChange func(session.Identity)) session.Unsubscribe {
	sub := &gatewaySubscriber{fn: onChange}

	g.emitMu.Lock()
	g.mu.Lock()
	g.subscribers = append(g.subscribers, sub)
	current := g.current
	g.mu.Unlock()

	if current == nil {
		onChange(nil)
	} else {
		onChange(current)
	}
	g.emitMu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, s := range g.subscribers {
			if s == sub {
				g.subscribers = append(g.subscribers[:i], g.subscribers[i+1:]...)
				return
			}
		}
	}
}

// authenticate runs a password flow action and decodes the credential
// payload from the response.
func (g *Gateway) authenticate(ctx context.Context, action string, body map[string]any) (authPayload, error) {
	payload := authPayload{}

	res, err := g.post(ctx, g.cfg.endpoint(action), body)
	if err != nil {
		return payload, networkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return payload, providerError(res)
	}

	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return payload, session.NewProviderError(session.ReasonUnknown,
			fmt.Errorf("identitykit: decoding %s response: %w", action, err))
	}

	if payload.IDToken == "" || payload.LocalID == "" {
		return payload, session.NewProviderError(session.ReasonUnknown,
			fmt.Errorf("identitykit: %s response missing credential", action))
	}

	return payload, nil
}

// adopt installs the payload's identity as current and notifies
// subscribers.
func (g *Gateway) adopt(payload authPayload) (*Identity, error) {
	if err := g.verifyToken(payload.IDToken); err != nil {
		return nil, err
	}

	identity := &Identity{
		gw:          g,
		subject:     payload.LocalID,
		email:       payload.Email,
		displayName: payload.DisplayName,
	}
	identity.setTokens(payload.IDToken, payload.RefreshToken,
		tokenExpiry(payload.IDToken, payload.ExpiresIn, time.Now()))

	g.mu.Lock()
	g.current = identity
	g.mu.Unlock()

	g.emit(identity)

	return identity, nil
}

type refreshPayload struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// refresh exchanges a refresh token at the secure token endpoint and
// installs the minted tokens on identity.
func (g *Gateway) refresh(ctx context.Context, identity *Identity, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", session.NewProviderError(session.ReasonInvalidCredential,
			fmt.Errorf("identitykit: no refresh token for subject %s", identity.subject))
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.tokenURL()+"?key="+url.QueryEscape(g.cfg.APIKey),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", networkError(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := g.http.Do(req)
	if err != nil {
		return "", networkError(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", providerError(res)
	}

	payload := refreshPayload{}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", session.NewProviderError(session.ReasonUnknown,
			fmt.Errorf("identitykit: decoding token response: %w", err))
	}

	if payload.IDToken == "" {
		return "", session.NewProviderError(session.ReasonUnknown,
			fmt.Errorf("identitykit: token response missing id_token"))
	}

	if err := g.verifyToken(payload.IDToken); err != nil {
		return "", err
	}

	identity.setTokens(payload.IDToken, payload.RefreshToken,
		tokenExpiry(payload.IDToken, payload.ExpiresIn, time.Now()))

	g.logger.Debug("refreshed provider token", "subject", identity.subject)

	return payload.IDToken, nil
}

// verifyToken checks the token signature against the configured JWKS.
// Without a JWKS URL the provider response is trusted as delivered over
// TLS and verification is skipped.
func (g *Gateway) verifyToken(idToken string) error {
	if g.jwks == nil {
		return nil
	}

	if _, err := jwt.Parse(idToken, g.jwks.Keyfunc); err != nil {
		return session.NewProviderError(session.ReasonInvalidCredential,
			fmt.Errorf("identitykit: token verification failed: %w", err))
	}

	return nil
}

func (g *Gateway) post(ctx context.Context, endpoint string, body map[string]any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"?key="+url.QueryEscape(g.cfg.APIKey), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return g.http.Do(req)
}

// emit delivers identity to every subscriber in registration order.
func (g *Gateway) emit(identity *Identity) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.RLock()
	subs := make([]*gatewaySubscriber, len(g.subscribers))
	copy(subs, g.subscribers)
	g.mu.RUnlock()

	for _, sub := range subs {
		if identity == nil {
			sub.fn(nil)
		} else {
			sub.fn(identity)
		}
	}
}
