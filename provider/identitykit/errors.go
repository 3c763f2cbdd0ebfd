package identitykit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-session"
)

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// reasonFromCode maps the provider's error codes to the engine's
// structured reason enumeration. Codes occasionally carry a suffix
// (e.g. "WEAK_PASSWORD : Password should be at least 6 characters"), so
// matching is on the leading token, never on free-form message text.
func reasonFromCode(code string) session.Reason {
	code = strings.TrimSpace(code)
	if idx := strings.IndexAny(code, " :"); idx > 0 {
		code = code[:idx]
	}

	switch code {
	case "EMAIL_NOT_FOUND":
		return session.ReasonUserNotFound
	case "INVALID_PASSWORD":
		return session.ReasonWrongPassword
	case "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "INVALID_ID_TOKEN", "INVALID_REFRESH_TOKEN", "TOKEN_EXPIRED":
		return session.ReasonInvalidCredential
	case "EMAIL_EXISTS":
		return session.ReasonEmailInUse
	case "WEAK_PASSWORD":
		return session.ReasonWeakPassword
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return session.ReasonTooManyRequests
	case "USER_DISABLED":
		return session.ReasonDisabled
	default:
		return session.ReasonUnknown
	}
}

// providerError converts a non-2xx provider response into a reason-coded
// error. The raw code is kept in the wrapped error for logs only.
func providerError(res *http.Response) error {
	payload := errorResponse{}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}

	code := payload.Error.Message
	if code == "" {
		code = http.StatusText(res.StatusCode)
	}

	return session.NewProviderError(
		reasonFromCode(code),
		fmt.Errorf("identitykit: provider returned %d: %s", res.StatusCode, code),
	)
}

// networkError wraps a transport failure reaching the provider.
func networkError(err error) error {
	return session.NewProviderError(session.ReasonNetwork, err)
}
