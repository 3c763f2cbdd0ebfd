package session

import (
	goerrors "github.com/goliatone/go-errors"
)

// Reason is the coarse classification of an identity provider failure.
// The provider's raw error text never crosses this boundary; callers map
// reasons to user-facing copy through UserMessage.
type Reason string

const (
	ReasonInvalidCredential Reason = "invalid-credential"
	ReasonUserNotFound      Reason = "user-not-found"
	ReasonWrongPassword     Reason = "wrong-password"
	ReasonEmailInUse        Reason = "email-already-in-use"
	ReasonWeakPassword      Reason = "weak-password"
	ReasonTooManyRequests   Reason = "too-many-requests"
	ReasonNetwork           Reason = "network-error"
	ReasonDisabled          Reason = "disabled"
	ReasonUnknown           Reason = "unknown"
)

const (
	TextCodeProviderAuth      = "PROVIDER_AUTH_FAILURE"
	TextCodeRoleMismatch      = "ROLE_MISMATCH"
	TextCodeUnauthenticated   = "SESSION_UNAUTHENTICATED"
	TextCodeCredentialMissing = "CREDENTIAL_MISSING"
	TextCodeKeyNotFound       = "CREDENTIAL_KEY_NOT_FOUND"
	TextCodeStorageFailure    = "STORAGE_FAILURE"
	TextCodeBackendRequest    = "BACKEND_REQUEST_FAILED"
	TextCodeInvalidTransition = "INVALID_SESSION_TRANSITION"
)

// ErrRoleMismatch is returned when the backend profile's role differs
// from the role asserted by the caller. There is no automatic resolution.
var ErrRoleMismatch = goerrors.New("account role does not match profile role", goerrors.CategoryConflict).
	WithTextCode(TextCodeRoleMismatch).
	WithCode(goerrors.CodeConflict)

// ErrUnauthenticated is returned when an operation requires an
// authenticated session and none exists, including after a failed
// refresh-and-retry cycle.
var ErrUnauthenticated = goerrors.New("session is not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrCredentialMissing is returned when no usable credential tuple is
// persisted. Partial tuples and unreadable profiles count as missing.
var ErrCredentialMissing = goerrors.New("stored credential not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeCredentialMissing).
	WithCode(goerrors.CodeNotFound)

// ErrKeyNotFound is the store-level absence error for a single key.
var ErrKeyNotFound = goerrors.New("credential key not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeKeyNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidTransition is returned when a requested session status change
// is not in the closed transition set.
var ErrInvalidTransition = goerrors.New("invalid session state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// NewProviderError wraps an identity provider failure with its reason
// code. The reason travels in the error metadata so boundaries can map
// it without parsing message text.
func NewProviderError(reason Reason, err error) *goerrors.Error {
	if reason == "" {
		reason = ReasonUnknown
	}

	metadata := map[string]any{"reason": string(reason)}

	if err == nil {
		return goerrors.New("identity provider rejected the request", goerrors.CategoryAuth).
			WithTextCode(TextCodeProviderAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(metadata)
	}

	return goerrors.Wrap(err, goerrors.CategoryAuth, "identity provider rejected the request").
		WithTextCode(TextCodeProviderAuth).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(metadata)
}

// IsProviderAuthError reports whether err originated at the identity
// provider boundary.
func IsProviderAuthError(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeProviderAuth
}

// ReasonFromError extracts the provider reason code carried by err,
// defaulting to ReasonUnknown.
func ReasonFromError(err error) Reason {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ReasonUnknown
	}

	if richErr.Metadata != nil {
		if raw, ok := richErr.Metadata["reason"]; ok {
			if reason, ok := raw.(string); ok && reason != "" {
				return Reason(reason)
			}
		}
	}

	return ReasonUnknown
}

// NewStorageError wraps a persistence failure. Reads that fail are
// treated as absent by callers; writes surface this error so a sign-in
// never silently claims success while persistence failed.
func NewStorageError(err error, op, key string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "credential storage "+op+" failed").
		WithTextCode(TextCodeStorageFailure).
		WithMetadata(map[string]any{"op": op, "key": key})
}

// IsStorageError reports whether err is a persistence failure.
func IsStorageError(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeStorageFailure
}

var userMessages = map[Reason]string{
	ReasonInvalidCredential: "The email or password you entered is incorrect.",
	ReasonUserNotFound:      "No account exists for this email address.",
	ReasonWrongPassword:     "The email or password you entered is incorrect.",
	ReasonEmailInUse:        "An account already exists for this email address.",
	ReasonWeakPassword:      "Please choose a stronger password.",
	ReasonTooManyRequests:   "Too many attempts. Please try again later.",
	ReasonNetwork:           "Could not reach the server. Check your connection and try again.",
	ReasonDisabled:          "This account has been disabled.",
	ReasonUnknown:           "Something went wrong. Please try again.",
}

const defaultUserMessage = "Something went wrong. Please try again."

// UserMessage translates any engine error into its fixed user-facing
// message. Raw provider or backend error text is never exposed, with one
// exception: backend responses with a parseable message field keep it.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return defaultUserMessage
	}

	switch richErr.TextCode {
	case TextCodeProviderAuth:
		if msg, ok := userMessages[ReasonFromError(err)]; ok {
			return msg
		}
		return defaultUserMessage
	case TextCodeRoleMismatch:
		return "This account is registered under a different role. Sign in with the matching role."
	case TextCodeUnauthenticated:
		return "Your session has expired. Please sign in again."
	case TextCodeStorageFailure:
		return "Could not save your session on this device."
	case TextCodeBackendRequest:
		if richErr.Message != "" {
			return richErr.Message
		}
		return defaultUserMessage
	default:
		return defaultUserMessage
	}
}
