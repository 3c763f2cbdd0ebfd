package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goliatone/go-logger/glog"
)

// Unsubscribe detaches a previously registered subscription callback.
type Unsubscribe func()

// Identity holds the attributes of a provider-issued identity.
type Identity interface {
	ID() string
	Email() string
	DisplayName() string
	// Token returns a bearer token for the identity. With forceRefresh
	// the provider is asked to mint a fresh token even when the cached
	// one has not expired yet.
	Token(ctx context.Context, forceRefresh bool) (string, error)
}

// Gateway wraps the external identity provider: credential verification,
// token issuance, and the auth-state change subscription.
//
// Subscribe delivers the provider's current state immediately upon
// subscribing and again on every subsequent change. Consumers must not
// assume the first delivered event is a change from some prior state.
// A nil Identity means signed out. Delivery is ordered per subscription.
type Gateway interface {
	SignUp(ctx context.Context, email, password, displayName string) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	CurrentIdentity(ctx context.Context) (Identity, error)
	Subscribe(onChange func(Identity)) Unsubscribe
}

// Store is durable key/value persistence for the credential tuple. Each
// operation is atomic for a single key; multi-key sequences are the
// caller's responsibility (see WriteCredential). Get returns
// ErrKeyNotFound for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Doer abstracts the HTTP transport used for backend calls.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds backend client options.
type Config interface {
	GetBaseURL() string
	GetRequestTimeout() int
}

// Logger is the leveled logger consumed across the engine.
type Logger interface {
	Debug(message string, args ...any)
	Info(message string, args ...any)
	Warn(message string, args ...any)
	Error(message string, args ...any)
}

// LoggerProvider hands out named loggers for subsystems.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

type glogProvider struct {
	base *glog.BaseLogger
}

func (p glogProvider) GetLogger(name string) Logger {
	return p.base.GetLogger(name)
}

var defaultLoggerProvider = sync.OnceValue(func() LoggerProvider {
	return glogProvider{base: glog.NewLogger(glog.WithName("session"))}
})

// ResolveLogger returns the provider and a named logger, falling back to
// the glog backed default provider when none is configured. An explicit
// logger always wins over a provider lookup.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider == nil {
		provider = defaultLoggerProvider()
	}
	if logger == nil {
		logger = provider.GetLogger(name)
	}
	return provider, logger
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
