// Package bunstore persists the session credential tuple in a relational
// table through Bun. Each credential key maps to one row addressed by a
// deterministic UUID, so writes are idempotent upserts.
package bunstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-session"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// DefaultNamespace scopes rows when no namespace is configured, keeping
// multiple engines apart in a shared table.
const DefaultNamespace = "session"

// CredentialRecord is the Bun model for one stored credential key.
type CredentialRecord struct {
	bun.BaseModel `bun:"table:credentials"`

	ID        uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	Namespace string    `bun:"namespace,notnull"`
	Key       string    `bun:"key,notnull"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,default:current_timestamp"`
}

// Store implements session.Store on top of a Bun database.
type Store struct {
	db        *bun.DB
	repo      repository.Repository[*CredentialRecord]
	namespace string
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

// WithNamespace scopes this store's rows under the given namespace.
func WithNamespace(namespace string) Option {
	return func(s *Store) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

func New(db *bun.DB, opts ...Option) *Store {
	repo := repository.NewRepository[*CredentialRecord](db, repository.ModelHandlers[*CredentialRecord]{
		NewRecord: func() *CredentialRecord { return &CredentialRecord{} },
		GetID: func(r *CredentialRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *CredentialRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	store := &Store{
		db:        db,
		repo:      repo,
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

// OpenSQLite opens a SQLite backed store at dsn and ensures the
// credentials table exists.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*Store, *bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, err
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	store := New(db, opts...)
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return store, db, nil
}

// Init creates the credentials table when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*CredentialRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Get returns the value stored for key, or session.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	record := &CredentialRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("namespace = ? AND key = ?", s.namespace, key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return "", session.ErrKeyNotFound
		}
		return "", session.NewStorageError(err, "get", key)
	}

	return record.Value, nil
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	record := &CredentialRecord{
		ID:        s.rowID(key),
		Namespace: s.namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}

	if _, err := s.repo.Upsert(ctx, record); err != nil {
		return session.NewStorageError(err, "set", key)
	}

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*CredentialRecord)(nil)).
		Where("namespace = ? AND key = ?", s.namespace, key).
		Exec(ctx)
	if err != nil {
		return session.NewStorageError(err, "delete", key)
	}

	return nil
}

// rowID derives a stable row identifier from the namespaced key so
// repeated Sets land on the same row.
func (s *Store) rowID(key string) uuid.UUID {
	if id, err := hashid.NewUUID(s.namespace + ":" + key); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.namespace+":"+key))
}
