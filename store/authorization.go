package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AuthorizationStore persists Authorization entities.
type AuthorizationStore struct {
	api     API
	config  Config
	pager   *pager
	factory func() *Authorization
}

// NewAuthorizationStore creates a store backed by the given client.
func NewAuthorizationStore(api API, config Config) *AuthorizationStore {
	config.validate()
	return &AuthorizationStore{
		api:     api,
		config:  config,
		pager:   newPager(),
		factory: func() *Authorization { return &Authorization{} },
	}
}

// SetFactory replaces the entity factory used by Instantiate.
func (s *AuthorizationStore) SetFactory(factory func() *Authorization) {
	if factory != nil {
		s.factory = factory
	}
}

// Instantiate constructs a new blank, unattached Authorization.
func (s *AuthorizationStore) Instantiate() *Authorization {
	return s.factory()
}

// EnsureInitialized creates or extends the authorizations table.
func (s *AuthorizationStore) EnsureInitialized(ctx context.Context) error {
	return ensureTable(ctx, s.api, s.config, authorizationsSchema(s.config))
}

// Count returns the backend's approximate item count.
func (s *AuthorizationStore) Count(ctx context.Context) (int64, error) {
	return tableCount(ctx, s.api, s.config.AuthorizationsTable)
}

// Create writes the authorization. Last write wins; creation has no
// conflict detection.
func (s *AuthorizationStore) Create(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("%w: authorization is nil", ErrInvalidArgument)
	}
	if authz.ID == "" {
		authz.ID = uuid.NewString()
	}
	if authz.ConcurrencyToken == "" {
		authz.ConcurrencyToken = newConcurrencyToken()
	}
	return putItem(ctx, s.api, s.config.AuthorizationsTable, authz)
}

// Update replaces the row conditional on the caller's concurrency token.
func (s *AuthorizationStore) Update(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("%w: authorization is nil", ErrInvalidArgument)
	}
	if authz.ID == "" {
		return fmt.Errorf("%w: authorization has no identifier", ErrInvalidArgument)
	}

	current, err := getByID[Authorization](ctx, s.api, s.config.AuthorizationsTable, authz.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ConcurrencyToken != authz.ConcurrencyToken {
		return ErrConcurrencyConflict
	}

	expected := authz.ConcurrencyToken
	authz.ConcurrencyToken = newConcurrencyToken()
	if err := putItemExpectingToken(ctx, s.api, s.config.AuthorizationsTable, authz, expected); err != nil {
		authz.ConcurrencyToken = expected
		return err
	}
	return nil
}

// Delete removes the authorization. Tokens referencing it are left behind
// and reclaimed by the pruning job once the authorization is gone.
func (s *AuthorizationStore) Delete(ctx context.Context, authz *Authorization) error {
	if authz == nil {
		return fmt.Errorf("%w: authorization is nil", ErrInvalidArgument)
	}
	return deleteByID(ctx, s.api, s.config.AuthorizationsTable, authz.ID)
}

// FindByID returns the authorization with the given identifier, or nil.
func (s *AuthorizationStore) FindByID(ctx context.Context, id string) (*Authorization, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identifier is empty", ErrInvalidArgument)
	}
	return getByID[Authorization](ctx, s.api, s.config.AuthorizationsTable, id)
}

// FindByApplicationID returns every authorization owned by the application.
func (s *AuthorizationStore) FindByApplicationID(ctx context.Context, applicationID string) ([]*Authorization, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application identifier is empty", ErrInvalidArgument)
	}
	return queryIndex[Authorization](ctx, s.api, s.config.AuthorizationsTable, applicationIDIndex, "ApplicationId", applicationID)
}

// FindBySubject returns every authorization granted to the subject.
func (s *AuthorizationStore) FindBySubject(ctx context.Context, subject string) ([]*Authorization, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrInvalidArgument)
	}
	return queryIndex[Authorization](ctx, s.api, s.config.AuthorizationsTable, subjectIndex, "Subject", subject)
}

// List returns up to count authorizations starting at offset.
func (s *AuthorizationStore) List(ctx context.Context, count, offset *int32) ([]*Authorization, error) {
	return listItems[Authorization](ctx, s.api, s.config.AuthorizationsTable, s.pager, count, offset)
}

// ListWhere is unsupported: the backend has no generic predicate query.
func (s *AuthorizationStore) ListWhere(ctx context.Context, predicate func(*Authorization) bool) ([]*Authorization, error) {
	return nil, fmt.Errorf("%w: arbitrary predicate queries", ErrNotSupported)
}
