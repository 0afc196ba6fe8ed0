package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/ganhammar/openiddict-dynamodb/internal/searchkey"
)

// TokenStore persists Token entities. Filtered lookups by client, status
// and type ride on a single (Subject, SearchKey) index; the search key is
// derived on every write and never treated as a semantic attribute.
type TokenStore struct {
	api     API
	config  Config
	pager   *pager
	factory func() *Token
}

// NewTokenStore creates a store backed by the given client.
func NewTokenStore(api API, config Config) *TokenStore {
	config.validate()
	return &TokenStore{
		api:     api,
		config:  config,
		pager:   newPager(),
		factory: func() *Token { return &Token{} },
	}
}

// SetFactory replaces the entity factory used by Instantiate.
func (s *TokenStore) SetFactory(factory func() *Token) {
	if factory != nil {
		s.factory = factory
	}
}

// Instantiate constructs a new blank, unattached Token.
func (s *TokenStore) Instantiate() *Token {
	return s.factory()
}

// EnsureInitialized creates or extends the tokens table.
func (s *TokenStore) EnsureInitialized(ctx context.Context) error {
	return ensureTable(ctx, s.api, s.config, tokensSchema(s.config))
}

// Count returns the backend's approximate item count.
func (s *TokenStore) Count(ctx context.Context) (int64, error) {
	return tableCount(ctx, s.api, s.config.TokensTable)
}

// Create writes the token with its derived search key.
func (s *TokenStore) Create(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("%w: token is nil", ErrInvalidArgument)
	}
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.ConcurrencyToken == "" {
		token.ConcurrencyToken = newConcurrencyToken()
	}
	token.SearchKey = searchkey.Encode(token.ApplicationID, token.Status, token.Type)

	return putItem(ctx, s.api, s.config.TokensTable, token)
}

// Update replaces the row conditional on the caller's concurrency token,
// recomputing the search key from the current attributes.
func (s *TokenStore) Update(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("%w: token is nil", ErrInvalidArgument)
	}
	if token.ID == "" {
		return fmt.Errorf("%w: token has no identifier", ErrInvalidArgument)
	}

	current, err := getByID[Token](ctx, s.api, s.config.TokensTable, token.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ConcurrencyToken != token.ConcurrencyToken {
		return ErrConcurrencyConflict
	}

	expected := token.ConcurrencyToken
	token.ConcurrencyToken = newConcurrencyToken()
	token.SearchKey = searchkey.Encode(token.ApplicationID, token.Status, token.Type)
	if err := putItemExpectingToken(ctx, s.api, s.config.TokensTable, token, expected); err != nil {
		token.ConcurrencyToken = expected
		return err
	}
	return nil
}

// Delete removes the token.
func (s *TokenStore) Delete(ctx context.Context, token *Token) error {
	if token == nil {
		return fmt.Errorf("%w: token is nil", ErrInvalidArgument)
	}
	return deleteByID(ctx, s.api, s.config.TokensTable, token.ID)
}

// FindByID returns the token with the given identifier, or nil.
func (s *TokenStore) FindByID(ctx context.Context, id string) (*Token, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identifier is empty", ErrInvalidArgument)
	}
	return getByID[Token](ctx, s.api, s.config.TokensTable, id)
}

// FindByReferenceID returns the reference token with the given reference
// identifier, or nil.
func (s *TokenStore) FindByReferenceID(ctx context.Context, referenceID string) (*Token, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("%w: reference identifier is empty", ErrInvalidArgument)
	}
	return queryIndexFirst[Token](ctx, s.api, s.config.TokensTable, referenceIDIndex, "ReferenceId", referenceID)
}

// FindByApplicationID returns every token owned by the application.
func (s *TokenStore) FindByApplicationID(ctx context.Context, applicationID string) ([]*Token, error) {
	if applicationID == "" {
		return nil, fmt.Errorf("%w: application identifier is empty", ErrInvalidArgument)
	}
	return queryIndex[Token](ctx, s.api, s.config.TokensTable, applicationIDIndex, "ApplicationId", applicationID)
}

// FindByAuthorizationID returns every token attached to the authorization.
func (s *TokenStore) FindByAuthorizationID(ctx context.Context, authorizationID string) ([]*Token, error) {
	if authorizationID == "" {
		return nil, fmt.Errorf("%w: authorization identifier is empty", ErrInvalidArgument)
	}
	return queryIndex[Token](ctx, s.api, s.config.TokensTable, authorizationIDIndex, "AuthorizationId", authorizationID)
}

// FindBySubject returns every token issued to the subject.
func (s *TokenStore) FindBySubject(ctx context.Context, subject string) ([]*Token, error) {
	return s.Find(ctx, subject, "", "", "")
}

// Find returns the subject's tokens narrowed by the optional client,
// status and type dimensions. Dimensions are positional: status requires
// client, type requires status. Empty trailing dimensions widen the match.
func (s *TokenStore) Find(ctx context.Context, subject, client, status, tokenType string) ([]*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrInvalidArgument)
	}
	if client == "" && (status != "" || tokenType != "") {
		return nil, fmt.Errorf("%w: status and type filters require a client", ErrInvalidArgument)
	}
	if status == "" && tokenType != "" {
		return nil, fmt.Errorf("%w: type filter requires a status", ErrInvalidArgument)
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.TokensTable),
		IndexName:              aws.String(subjectSearchKeyIndex),
		KeyConditionExpression: aws.String("#subject = :subject"),
		ExpressionAttributeNames: map[string]string{
			"#subject": "Subject",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":subject": &types.AttributeValueMemberS{Value: subject},
		},
	}

	if prefix := searchkey.Encode(client, status, tokenType); prefix != "" {
		input.KeyConditionExpression = aws.String("#subject = :subject AND begins_with(#search, :prefix)")
		input.ExpressionAttributeNames["#search"] = "SearchKey"
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	return runQuery[Token](ctx, s.api, input)
}

// List returns up to count tokens starting at offset.
func (s *TokenStore) List(ctx context.Context, count, offset *int32) ([]*Token, error) {
	return listItems[Token](ctx, s.api, s.config.TokensTable, s.pager, count, offset)
}

// ListWhere is unsupported: the backend has no generic predicate query.
func (s *TokenStore) ListWhere(ctx context.Context, predicate func(*Token) bool) ([]*Token, error) {
	return nil, fmt.Errorf("%w: arbitrary predicate queries", ErrNotSupported)
}
