package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// ScopeStore persists Scope entities and maintains the denormalized
// resource rows that allow lookup by resource value.
type ScopeStore struct {
	api     API
	config  Config
	pager   *pager
	factory func() *Scope
}

// NewScopeStore creates a store backed by the given client.
func NewScopeStore(api API, config Config) *ScopeStore {
	config.validate()
	return &ScopeStore{
		api:     api,
		config:  config,
		pager:   newPager(),
		factory: func() *Scope { return &Scope{} },
	}
}

// SetFactory replaces the entity factory used by Instantiate.
func (s *ScopeStore) SetFactory(factory func() *Scope) {
	if factory != nil {
		s.factory = factory
	}
}

// Instantiate constructs a new blank, unattached Scope.
func (s *ScopeStore) Instantiate() *Scope {
	return s.factory()
}

// EnsureInitialized creates or extends the scopes and resources tables.
func (s *ScopeStore) EnsureInitialized(ctx context.Context) error {
	if err := ensureTable(ctx, s.api, s.config, scopesSchema(s.config)); err != nil {
		return err
	}
	return ensureTable(ctx, s.api, s.config, scopeResourcesSchema(s.config))
}

// Count returns the backend's approximate item count.
func (s *ScopeStore) Count(ctx context.Context) (int64, error) {
	return tableCount(ctx, s.api, s.config.ScopesTable)
}

// Create writes the primary row, then the resource rows.
func (s *ScopeStore) Create(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("%w: scope is nil", ErrInvalidArgument)
	}
	if scope.ID == "" {
		scope.ID = uuid.NewString()
	}
	if scope.ConcurrencyToken == "" {
		scope.ConcurrencyToken = newConcurrencyToken()
	}

	if err := putItem(ctx, s.api, s.config.ScopesTable, scope); err != nil {
		return err
	}
	return s.writeResources(ctx, scope)
}

// Update replaces the primary row conditional on the caller's concurrency
// token, then replaces the resource rows wholesale.
func (s *ScopeStore) Update(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("%w: scope is nil", ErrInvalidArgument)
	}
	if scope.ID == "" {
		return fmt.Errorf("%w: scope has no identifier", ErrInvalidArgument)
	}

	current, err := getByID[Scope](ctx, s.api, s.config.ScopesTable, scope.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ConcurrencyToken != scope.ConcurrencyToken {
		return ErrConcurrencyConflict
	}

	expected := scope.ConcurrencyToken
	scope.ConcurrencyToken = newConcurrencyToken()
	if err := putItemExpectingToken(ctx, s.api, s.config.ScopesTable, scope, expected); err != nil {
		scope.ConcurrencyToken = expected
		return err
	}

	return s.replaceResources(ctx, scope)
}

// Delete removes the primary row without cascading to resource rows.
func (s *ScopeStore) Delete(ctx context.Context, scope *Scope) error {
	if scope == nil {
		return fmt.Errorf("%w: scope is nil", ErrInvalidArgument)
	}
	return deleteByID(ctx, s.api, s.config.ScopesTable, scope.ID)
}

// FindByID returns the scope with the given identifier, with its resources
// rehydrated, or nil when absent.
func (s *ScopeStore) FindByID(ctx context.Context, id string) (*Scope, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identifier is empty", ErrInvalidArgument)
	}

	scope, err := getByID[Scope](ctx, s.api, s.config.ScopesTable, id)
	if err != nil || scope == nil {
		return nil, err
	}
	if err := s.loadResources(ctx, scope); err != nil {
		return nil, err
	}
	return scope, nil
}

// FindByName returns the scope with the given unique name, or nil.
func (s *ScopeStore) FindByName(ctx context.Context, name string) (*Scope, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: scope name is empty", ErrInvalidArgument)
	}

	scope, err := queryIndexFirst[Scope](ctx, s.api, s.config.ScopesTable, scopeNameIndex, "ScopeName", name)
	if err != nil || scope == nil {
		return nil, err
	}
	if err := s.loadResources(ctx, scope); err != nil {
		return nil, err
	}
	return scope, nil
}

// FindByNames resolves several scope names at once. Names that do not
// resolve are absent from the result.
func (s *ScopeStore) FindByNames(ctx context.Context, names []string) ([]*Scope, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no scope names", ErrInvalidArgument)
	}

	var scopes []*Scope
	for _, name := range names {
		scope, err := s.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if scope != nil {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// FindByResource returns the scopes that list the given resource.
func (s *ScopeStore) FindByResource(ctx context.Context, resource string) ([]*Scope, error) {
	if resource == "" {
		return nil, fmt.Errorf("%w: resource is empty", ErrInvalidArgument)
	}

	rows, err := queryTable[scopeResource](ctx, s.api, s.config.ScopeResourcesTable, "ScopeResource", resource)
	if err != nil {
		return nil, err
	}

	var scopes []*Scope
	for _, row := range rows {
		scope, err := s.FindByID(ctx, row.ScopeID)
		if err != nil {
			return nil, err
		}
		if scope != nil {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// List returns up to count scopes starting at offset. Resources are not
// rehydrated here.
func (s *ScopeStore) List(ctx context.Context, count, offset *int32) ([]*Scope, error) {
	return listItems[Scope](ctx, s.api, s.config.ScopesTable, s.pager, count, offset)
}

// ListWhere is unsupported: the backend has no generic predicate query.
func (s *ScopeStore) ListWhere(ctx context.Context, predicate func(*Scope) bool) ([]*Scope, error) {
	return nil, fmt.Errorf("%w: arbitrary predicate queries", ErrNotSupported)
}

// DeleteResources removes every resource row owned by the scope. Used by
// the stream cleanup handler after the primary row is gone.
func (s *ScopeStore) DeleteResources(ctx context.Context, scopeID string) error {
	if scopeID == "" {
		return fmt.Errorf("%w: scope identifier is empty", ErrInvalidArgument)
	}

	rows, err := queryIndex[scopeResource](ctx, s.api, s.config.ScopeResourcesTable, scopeIDIndex, "ScopeId", scopeID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, map[string]types.AttributeValue{
			"ScopeResource": &types.AttributeValueMemberS{Value: row.Resource},
			"ScopeId":       &types.AttributeValueMemberS{Value: row.ScopeID},
		})
	}
	return batchDeleteKeys(ctx, s.api, s.config.ScopeResourcesTable, keys)
}

func (s *ScopeStore) loadResources(ctx context.Context, scope *Scope) error {
	rows, err := queryIndex[scopeResource](ctx, s.api, s.config.ScopeResourcesTable, scopeIDIndex, "ScopeId", scope.ID)
	if err != nil {
		return err
	}

	scope.Resources = nil
	for _, row := range rows {
		scope.Resources = append(scope.Resources, row.Resource)
	}
	sort.Strings(scope.Resources)
	return nil
}

func (s *ScopeStore) writeResources(ctx context.Context, scope *Scope) error {
	var items []map[string]types.AttributeValue
	for _, resource := range scope.Resources {
		item, err := attributevalue.MarshalMap(scopeResource{
			Resource: resource,
			ScopeID:  scope.ID,
		})
		if err != nil {
			return fmt.Errorf("marshal resource row: %w", err)
		}
		items = append(items, item)
	}
	return batchPutItems(ctx, s.api, s.config.ScopeResourcesTable, items)
}

func (s *ScopeStore) replaceResources(ctx context.Context, scope *Scope) error {
	existing, err := queryIndex[scopeResource](ctx, s.api, s.config.ScopeResourcesTable, scopeIDIndex, "ScopeId", scope.ID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(existing))
	for _, row := range existing {
		keys = append(keys, map[string]types.AttributeValue{
			"ScopeResource": &types.AttributeValueMemberS{Value: row.Resource},
			"ScopeId":       &types.AttributeValueMemberS{Value: row.ScopeID},
		})
	}
	if err := batchDeleteKeys(ctx, s.api, s.config.ScopeResourcesTable, keys); err != nil {
		return err
	}

	return s.writeResources(ctx, scope)
}
