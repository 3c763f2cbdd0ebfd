package session

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
)

// Storage keys for the persisted credential tuple. The three keys live
// under the store's namespace and are cleared together on sign-out.
const (
	KeyToken   = "session.token"
	KeySubject = "session.subject"
	KeyProfile = "session.profile"
)

// StoredCredential is the persisted session tuple: the bearer token, the
// provider-issued subject identifier, and the cached user profile.
type StoredCredential struct {
	Token   string
	Subject string
	Profile *UserProfile
}

// ReadCredential loads the persisted tuple. Read failures are logged and
// reported as ErrCredentialMissing, as are partial tuples: a process
// crash mid write-sequence can leave a minority-partial state, and
// consuming it would violate the session invariant.
func ReadCredential(ctx context.Context, store Store, logger Logger) (*StoredCredential, error) {
	if logger == nil {
		logger = defLogger{}
	}

	read := func(key string) (string, bool) {
		value, err := store.Get(ctx, key)
		if err != nil {
			if !goerrors.IsNotFound(err) {
				logger.Warn("credential read failed, treating as absent", "key", key, "error", err)
			}
			return "", false
		}
		return value, value != ""
	}

	token, ok := read(KeyToken)
	if !ok {
		return nil, ErrCredentialMissing
	}

	subject, ok := read(KeySubject)
	if !ok {
		return nil, ErrCredentialMissing
	}

	raw, ok := read(KeyProfile)
	if !ok {
		return nil, ErrCredentialMissing
	}

	profile := &UserProfile{}
	if err := json.Unmarshal([]byte(raw), profile); err != nil {
		logger.Warn("cached profile is corrupt, treating as absent", "error", err)
		return nil, ErrCredentialMissing
	}

	return &StoredCredential{Token: token, Subject: subject, Profile: profile}, nil
}

// WriteCredential persists the tuple, sequencing the three keys. The
// store offers no cross-key transaction, so a mid-sequence failure
// triggers a best-effort delete of the keys already written and the
// whole operation is reported as failed.
func WriteCredential(ctx context.Context, store Store, cred *StoredCredential) error {
	if cred == nil || cred.Profile == nil || cred.Token == "" || cred.Subject == "" {
		return goerrors.New("credential must include token, subject and profile", goerrors.CategoryBadInput).
			WithTextCode(TextCodeStorageFailure)
	}

	raw, err := json.Marshal(cred.Profile)
	if err != nil {
		return NewStorageError(err, "encode", KeyProfile)
	}

	entries := []struct {
		key   string
		value string
	}{
		{KeyToken, cred.Token},
		{KeySubject, cred.Subject},
		{KeyProfile, string(raw)},
	}

	written := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := store.Set(ctx, entry.key, entry.value); err != nil {
			for _, key := range written {
				_ = store.Delete(ctx, key)
			}
			return NewStorageError(err, "write", entry.key)
		}
		written = append(written, entry.key)
	}

	return nil
}

// WriteToken persists a rotated token without touching the rest of the
// tuple.
func WriteToken(ctx context.Context, store Store, token string) error {
	if token == "" {
		return goerrors.New("token must not be empty", goerrors.CategoryBadInput).
			WithTextCode(TextCodeStorageFailure)
	}

	if err := store.Set(ctx, KeyToken, token); err != nil {
		return NewStorageError(err, "write", KeyToken)
	}

	return nil
}

// ClearCredential removes all three keys. Every key is attempted even if
// an earlier delete fails; the first failure is reported.
func ClearCredential(ctx context.Context, store Store) error {
	var firstErr error
	for _, key := range []string{KeyToken, KeySubject, KeyProfile} {
		if err := store.Delete(ctx, key); err != nil && !goerrors.IsNotFound(err) {
			if firstErr == nil {
				firstErr = NewStorageError(err, "delete", key)
			}
		}
	}
	return firstErr
}
