package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

const defaultRequestTimeout = 30 * time.Second

// Client exchanges a provider-issued credential for an authoritative
// backend profile and performs authenticated backend calls with a single
// refresh-and-retry cycle on authorization failure.
type Client struct {
	baseURL      string
	http         Doer
	gateway      Gateway
	store        Store
	state        *State
	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
}

// NewClient returns a backend session client rooted at baseURL.
func NewClient(baseURL string, gateway Gateway, store Store, state *State) *Client {
	provider, logger := ResolveLogger("session.client", nil, nil)
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: defaultRequestTimeout},
		gateway:      gateway,
		store:        store,
		state:        state,
		logger:       logger,
		provider:     provider,
		activitySink: noopActivitySink{},
	}
}

// NewClientFromConfig builds a client from a Config container.
func NewClientFromConfig(cfg Config, gateway Gateway, store Store, state *State) *Client {
	c := NewClient(cfg.GetBaseURL(), gateway, store, state)
	if timeout := cfg.GetRequestTimeout(); timeout > 0 {
		c.http = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}
	return c
}

// WithHTTPClient overrides the transport used for backend calls.
func (c *Client) WithHTTPClient(doer Doer) *Client {
	if doer != nil {
		c.http = doer
	}
	return c
}

func (c *Client) WithLogger(logger Logger) *Client {
	c.provider, c.logger = ResolveLogger("session.client", c.provider, logger)
	return c
}

// WithLoggerProvider overrides the logger provider used by the client.
func (c *Client) WithLoggerProvider(provider LoggerProvider) *Client {
	c.provider, c.logger = ResolveLogger("session.client", provider, nil)
	return c
}

// WithActivitySink configures an ActivitySink for forced sign-outs.
func (c *Client) WithActivitySink(sink ActivitySink) *Client {
	c.activitySink = normalizeActivitySink(sink)
	return c
}

type loginRequest struct {
	Role Role `json:"role"`
}

// Register exchanges a provider identity for a newly created backend
// profile. The credential tuple is persisted and the session resolved to
// authenticated only after the backend accepts the registration and the
// role consistency check passes.
func (c *Client) Register(ctx context.Context, identity Identity, fields ProfileFields) (*UserProfile, error) {
	if err := fields.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration fields")
	}
	return c.exchange(ctx, identity, "/auth/register", fields, fields.Role)
}

// Login exchanges a provider identity for the existing backend profile.
// If the backend-returned role differs from the asserted role the
// operation fails with ErrRoleMismatch and neither the store nor the
// session are touched.
func (c *Client) Login(ctx context.Context, identity Identity, role Role) (*UserProfile, error) {
	parsed, ok := ParseRole(role)
	if !ok {
		return nil, goerrors.New("unknown role", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"role": role})
	}
	return c.exchange(ctx, identity, "/auth/login", loginRequest{Role: parsed}, parsed)
}

func (c *Client) exchange(ctx context.Context, identity Identity, path string, payload any, asserted Role) (*UserProfile, error) {
	if identity == nil {
		return nil, ErrUnauthenticated
	}

	token, err := identity.Token(ctx, false)
	if err != nil {
		return nil, err
	}

	res, err := c.do(ctx, http.MethodPost, path, token, payload)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := checkResponse(res); err != nil {
		return nil, err
	}

	profile, err := decodeProfile(res.Body)
	if err != nil {
		return nil, err
	}

	if profile.Role != asserted {
		return nil, ErrRoleMismatch.Clone().WithMetadata(map[string]any{
			"asserted": asserted,
			"returned": profile.Role,
		})
	}

	// persistence comes after the role check so a rejected exchange
	// leaves both the store and the session unchanged
	cred := &StoredCredential{Token: token, Subject: identity.ID(), Profile: profile}
	if err := WriteCredential(ctx, c.store, cred); err != nil {
		return nil, err
	}

	if err := c.state.SetAuthenticated(profile, token); err != nil {
		return nil, err
	}

	return profile, nil
}

// AuthorizedRequest performs an authenticated backend call. On a 401 it
// runs exactly one refresh-and-retry cycle: force-refresh the token
// through the gateway, persist it, repeat the original request once. A
// failed refresh or a second 401 clears the stored credential and
// resolves the session to unauthenticated; there is never a second
// retry.
func (c *Client) AuthorizedRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	snap := c.state.Current()
	if !snap.Authenticated() || snap.Token == "" {
		return nil, ErrUnauthenticated
	}

	res, err := c.do(ctx, method, path, snap.Token, body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusUnauthorized {
		if err := checkResponse(res); err != nil {
			res.Body.Close()
			return nil, err
		}
		return res, nil
	}
	res.Body.Close()

	token, err := c.refreshToken(ctx)
	if err != nil {
		c.forceSignOut(ctx, err)
		return nil, ErrUnauthenticated
	}

	res, err = c.do(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusUnauthorized {
		res.Body.Close()
		c.forceSignOut(ctx, nil)
		return nil, ErrUnauthenticated
	}

	if err := checkResponse(res); err != nil {
		res.Body.Close()
		return nil, err
	}

	return res, nil
}

// UpdateProfile performs the profile-update round trip. The cached
// profile is replaced only after the backend accepts the change; this is
// the only sanctioned local profile mutation.
func (c *Client) UpdateProfile(ctx context.Context, fields ProfileFields) (*UserProfile, error) {
	if err := fields.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile fields")
	}

	res, err := c.AuthorizedRequest(ctx, http.MethodPut, "/users/me", fields)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	profile, err := decodeProfile(res.Body)
	if err != nil {
		return nil, err
	}

	snap := c.state.Current()
	if !snap.Authenticated() {
		return profile, nil
	}

	cred, err := ReadCredential(ctx, c.store, c.logger)
	if err != nil {
		c.logger.Warn("profile updated but no stored credential to refresh")
		return profile, nil
	}

	cred.Profile = profile
	if err := WriteCredential(ctx, c.store, cred); err != nil {
		return nil, err
	}

	if err := c.state.SetAuthenticated(profile, snap.Token); err != nil {
		return nil, err
	}

	return profile, nil
}

// refreshToken asks the gateway for a forced token refresh and persists
// the result. Concurrent calls may each trigger a refresh; duplicate
// refreshes are cheap and safe, so they are tolerated rather than
// coordinated with a lock.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	identity, err := c.gateway.CurrentIdentity(ctx)
	if err != nil {
		return "", err
	}
	if identity == nil {
		return "", ErrUnauthenticated
	}

	token, err := identity.Token(ctx, true)
	if err != nil {
		return "", err
	}

	if err := WriteToken(ctx, c.store, token); err != nil {
		return "", err
	}

	if snap := c.state.Current(); snap.Authenticated() {
		if err := c.state.SetAuthenticated(snap.User, token); err != nil {
			return "", err
		}
	}

	return token, nil
}

// forceSignOut treats a failed refresh cycle as equivalent to explicit
// revocation: the credential is cleared and the session resolved to
// unauthenticated.
func (c *Client) forceSignOut(ctx context.Context, cause error) {
	if cause != nil {
		c.logger.Warn(
			"token refresh failed, forcing sign out",
			"error", cause,
			"details", print.MaybePrettyJSON(errorMetadata(cause)),
		)
	}

	snap := c.state.Current()

	if err := ClearCredential(ctx, c.store); err != nil {
		c.logger.Error("failed to clear credential during forced sign out", "error", err)
	}

	if err := c.state.SetUnauthenticated(); err != nil {
		c.logger.Error("failed to resolve session during forced sign out", "error", err)
	}

	subject := ""
	if snap.User != nil {
		subject = snap.User.ID.String()
	}

	recordActivity(ctx, c.activitySink, c.logger, ActivityEvent{
		EventType:  ActivityEventForcedSignOut,
		Subject:    subject,
		FromStatus: snap.Status,
		ToStatus:   StatusUnauthenticated,
	})
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to build backend request")
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "backend request failed").
			WithTextCode(TextCodeBackendRequest).
			WithMetadata(map[string]any{"method": method, "path": path})
	}

	return res, nil
}

func decodeProfile(body io.Reader) (*UserProfile, error) {
	profile := &UserProfile{}
	if err := json.NewDecoder(body).Decode(profile); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode profile response")
	}

	if profile.ID == uuid.Nil && profile.Email != "" {
		if id, err := hashid.NewUUID(profile.Email); err == nil {
			profile.ID = id
		}
	}

	return profile, nil
}

func checkResponse(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	return backendError(res)
}

// backendError turns a non-2xx response into a rich error. The message
// comes from the response body's JSON message field when parseable, a
// generic fallback otherwise.
func backendError(res *http.Response) *goerrors.Error {
	message := "backend request failed"

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err == nil && len(raw) > 0 {
		payload := struct {
			Message string `json:"message"`
		}{}
		if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
			message = payload.Message
		}
	}

	return goerrors.New(message, goerrors.CategoryOperation).
		WithTextCode(TextCodeBackendRequest).
		WithCode(res.StatusCode).
		WithMetadata(map[string]any{"status": res.StatusCode})
}

func errorMetadata(err error) map[string]any {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Metadata
	}
	return nil
}
