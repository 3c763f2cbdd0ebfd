package identitykit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// providerFixture is a scriptable identity service.
type providerFixture struct {
	mu     sync.Mutex
	server *httptest.Server

	signInStatus int
	signInError  string
	idToken      string
	refreshedTo  string

	requests []string
}

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "subject-1",
		"exp": time.Now().Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()

	f := &providerFixture{
		signInStatus: http.StatusOK,
		idToken:      signedToken(t, time.Hour),
		refreshedTo:  signedToken(t, 2*time.Hour),
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		status := f.signInStatus
		errCode := f.signInError
		idToken := f.idToken
		refreshed := f.refreshedTo
		f.mu.Unlock()

		if r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		switch r.URL.Path {
		case "/v1/accounts:signUp", "/v1/accounts:signInWithPassword":
			if status != http.StatusOK {
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"code": status, "message": errCode},
				})
				return
			}

			body := map[string]any{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			email, _ := body["email"].(string)
			name, _ := body["displayName"].(string)

			_ = json.NewEncoder(w).Encode(authPayload{
				LocalID:      "subject-1",
				Email:        email,
				DisplayName:  name,
				IDToken:      idToken,
				RefreshToken: "refresh-1",
				ExpiresIn:    "3600",
			})
		case "/v1/accounts:sendOobCode":
			_ = json.NewEncoder(w).Encode(map[string]string{"email": "ada@example.com"})
		case "/v1/token":
			_ = json.NewEncoder(w).Encode(refreshPayload{
				IDToken:      refreshed,
				RefreshToken: "refresh-2",
				ExpiresIn:    "3600",
				UserID:       "subject-1",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	t.Cleanup(f.server.Close)

	return f
}

func (f *providerFixture) gateway(t *testing.T) *Gateway {
	t.Helper()

	gw, err := New(Config{
		APIKey:  "test-key",
		BaseURL: f.server.URL,
	})
	require.NoError(t, err)
	return gw
}

func (f *providerFixture) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *providerFixture) failSignIn(status int, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInStatus = status
	f.signInError = code
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{BaseURL: "https://id.example.com"})
	require.Error(t, err)

	_, err = New(Config{APIKey: "test-key"})
	require.Error(t, err)
}

func TestGatewaySignIn(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	identity, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	assert.Equal(t, "subject-1", identity.ID())
	assert.Equal(t, "ada@example.com", identity.Email())

	token, err := identity.Token(context.Background(), false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	current, err := gw.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Same(t, identity, current)
}

func TestGatewaySignUpKeepsDisplayName(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	identity, err := gw.SignUp(context.Background(), "ada@example.com", "hunter2!", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", identity.DisplayName())
}

func TestGatewaySignInErrorMapping(t *testing.T) {
	cases := map[string]session.Reason{
		"EMAIL_NOT_FOUND":             session.ReasonUserNotFound,
		"INVALID_PASSWORD":            session.ReasonWrongPassword,
		"INVALID_LOGIN_CREDENTIALS":   session.ReasonInvalidCredential,
		"USER_DISABLED":               session.ReasonDisabled,
		"TOO_MANY_ATTEMPTS_TRY_LATER": session.ReasonTooManyRequests,
		"SOMETHING_ELSE":              session.ReasonUnknown,
	}

	for code, want := range cases {
		fixture := newProviderFixture(t)
		fixture.failSignIn(http.StatusBadRequest, code)
		gw := fixture.gateway(t)

		_, err := gw.SignIn(context.Background(), "ada@example.com", "wrong")
		require.Error(t, err, code)
		assert.True(t, session.IsProviderAuthError(err), code)
		assert.Equal(t, want, session.ReasonFromError(err), code)
	}
}

func TestGatewaySignUpEmailExists(t *testing.T) {
	fixture := newProviderFixture(t)
	fixture.failSignIn(http.StatusBadRequest, "EMAIL_EXISTS")
	gw := fixture.gateway(t)

	_, err := gw.SignUp(context.Background(), "ada@example.com", "hunter2!", "Ada")
	require.Error(t, err)
	assert.Equal(t, session.ReasonEmailInUse, session.ReasonFromError(err))
}

func TestReasonFromCodeStripsSuffix(t *testing.T) {
	assert.Equal(t, session.ReasonWeakPassword,
		reasonFromCode("WEAK_PASSWORD : Password should be at least 6 characters"))
	assert.Equal(t, session.ReasonTooManyRequests,
		reasonFromCode("TOO_MANY_ATTEMPTS_TRY_LATER:retry in 30s"))
}

func TestGatewaySubscribeReplaysCurrentState(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	var signedOut []bool
	gw.Subscribe(func(identity session.Identity) {
		signedOut = append(signedOut, identity == nil)
	})
	require.Equal(t, []bool{true}, signedOut, "replay delivers nil while signed out")

	_, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, signedOut)

	// a late subscriber sees the signed-in state immediately
	var late []bool
	gw.Subscribe(func(identity session.Identity) {
		late = append(late, identity == nil)
	})
	assert.Equal(t, []bool{false}, late)
}

func TestGatewaySignOutEmitsNil(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	_, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	var events []bool
	gw.Subscribe(func(identity session.Identity) {
		events = append(events, identity == nil)
	})

	require.NoError(t, gw.SignOut(context.Background()))
	assert.Equal(t, []bool{false, true}, events)

	current, err := gw.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)

	// signing out while signed out emits nothing further
	require.NoError(t, gw.SignOut(context.Background()))
	assert.Len(t, events, 2)
}

func TestGatewayUnsubscribeStopsDelivery(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	calls := 0
	unsubscribe := gw.Subscribe(func(session.Identity) { calls++ })
	unsubscribe()

	_, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "only the replay was delivered")
}

func TestGatewayResetPassword(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	require.NoError(t, gw.ResetPassword(context.Background(), "ada@example.com"))
	assert.Contains(t, fixture.paths(), "/v1/accounts:sendOobCode")
}

func TestIdentityTokenUsesCacheUntilExpiry(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	identity, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	first, err := identity.Token(context.Background(), false)
	require.NoError(t, err)
	second, err := identity.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.NotContains(t, fixture.paths(), "/v1/token")
}

func TestIdentityTokenForceRefresh(t *testing.T) {
	fixture := newProviderFixture(t)
	gw := fixture.gateway(t)

	identity, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	cached, err := identity.Token(context.Background(), false)
	require.NoError(t, err)

	fresh, err := identity.Token(context.Background(), true)
	require.NoError(t, err)
	assert.NotEqual(t, cached, fresh)
	assert.Contains(t, fixture.paths(), "/v1/token")

	// the minted token becomes the cached one
	again, err := identity.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, fresh, again)
}

func TestIdentityTokenRefreshesExpiredToken(t *testing.T) {
	fixture := newProviderFixture(t)
	fixture.mu.Lock()
	fixture.idToken = signedToken(t, -time.Minute)
	fixture.mu.Unlock()
	gw := fixture.gateway(t)

	identity, err := gw.SignIn(context.Background(), "ada@example.com", "hunter2!")
	require.NoError(t, err)

	token, err := identity.Token(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, fixture.paths(), "/v1/token")

	fixture.mu.Lock()
	refreshed := fixture.refreshedTo
	fixture.mu.Unlock()
	assert.Equal(t, refreshed, token)
}

func TestTokenExpiryPrefersClaim(t *testing.T) {
	now := time.Now()
	token := signedToken(t, time.Hour)

	exp := tokenExpiry(token, "60", now)
	assert.WithinDuration(t, now.Add(time.Hour), exp, 5*time.Second)

	exp = tokenExpiry("not-a-jwt", "60", now)
	assert.Equal(t, now.Add(time.Minute), exp)

	exp = tokenExpiry("not-a-jwt", "", now)
	assert.Equal(t, now, exp)
}
