package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Prune deletes tokens created strictly before threshold that are no
// longer useful: tokens whose status is neither inactive nor valid, tokens
// past their expiration, and tokens whose authorization is missing or no
// longer valid. Tokens without an authorization reference are never
// deleted on the authorization path. Returns the number of tokens deleted.
//
// Authorizations are batch-read by distinct identifier rather than point
// read per token.
func (s *TokenStore) Prune(ctx context.Context, threshold time.Time) (int, error) {
	candidates, err := s.scanCreatedBefore(ctx, threshold)
	if err != nil {
		return 0, err
	}

	now := FormatTime(time.Now())
	var doomed []*Token
	var survivors []*Token
	for _, token := range candidates {
		if s.expired(token, now) {
			doomed = append(doomed, token)
		} else {
			survivors = append(survivors, token)
		}
	}

	invalid, err := s.invalidAuthorizations(ctx, survivors)
	if err != nil {
		return 0, err
	}
	for _, token := range survivors {
		if token.AuthorizationID == "" {
			continue
		}
		if invalid[token.AuthorizationID] {
			doomed = append(doomed, token)
		}
	}

	keys := make([]map[string]types.AttributeValue, 0, len(doomed))
	for _, token := range doomed {
		keys = append(keys, idKey(token.ID))
	}
	if err := batchDeleteKeys(ctx, s.api, s.config.TokensTable, keys); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// expired reports whether the token can be deleted without consulting its
// authorization.
func (s *TokenStore) expired(token *Token, now string) bool {
	if token.Status != StatusInactive && token.Status != StatusValid {
		return true
	}
	return token.ExpirationDate != "" && token.ExpirationDate < now
}

// scanCreatedBefore collects every token created strictly before the
// threshold. Stored timestamps compare lexicographically in creation
// order; tokens without a creation date are never candidates.
func (s *TokenStore) scanCreatedBefore(ctx context.Context, threshold time.Time) ([]*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tokens []*Token
	paginator := dynamodb.NewScanPaginator(s.api, &dynamodb.ScanInput{
		TableName:        aws.String(s.config.TokensTable),
		FilterExpression: aws.String("CreationDate < :threshold"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":threshold": &types.AttributeValueMemberS{Value: FormatTime(threshold)},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan tokens: %w", err)
		}
		for _, raw := range page.Items {
			token := new(Token)
			if err := attributevalue.UnmarshalMap(raw, token); err != nil {
				return nil, fmt.Errorf("unmarshal token: %w", err)
			}
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// invalidAuthorizations batch-reads the distinct authorizations referenced
// by the given tokens and reports the identifiers whose authorization is
// not valid. A missing authorization counts as invalid.
func (s *TokenStore) invalidAuthorizations(ctx context.Context, tokens []*Token) (map[string]bool, error) {
	distinct := map[string]bool{}
	var keys []map[string]types.AttributeValue
	for _, token := range tokens {
		if token.AuthorizationID == "" || distinct[token.AuthorizationID] {
			continue
		}
		distinct[token.AuthorizationID] = true
		keys = append(keys, idKey(token.AuthorizationID))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	items, err := batchGet(ctx, s.api, s.config.AuthorizationsTable, keys)
	if err != nil {
		return nil, err
	}

	// Start from all referenced identifiers and clear the valid ones, so
	// identifiers the batch read did not return stay marked invalid.
	invalid := distinct
	for _, raw := range items {
		authz := new(Authorization)
		if err := attributevalue.UnmarshalMap(raw, authz); err != nil {
			return nil, fmt.Errorf("unmarshal authorization: %w", err)
		}
		if authz.Status == StatusValid {
			delete(invalid, authz.ID)
		}
	}
	return invalid, nil
}
