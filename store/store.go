// Package store maps the OAuth/OIDC domain model onto DynamoDB tables.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	// DynamoDB caps batch writes at 25 items and batch gets at 100 keys.
	maxBatchWrite = 25
	maxBatchGet   = 100
)

// newConcurrencyToken generates a fresh opaque version marker.
func newConcurrencyToken() string {
	return uuid.NewString()
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: id},
	}
}

// getByID performs a point lookup by primary identifier. A miss is
// (nil, nil), never an error.
func getByID[T any](ctx context.Context, api API, table, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	result := new(T)
	if err := attributevalue.UnmarshalMap(out.Item, result); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return result, nil
}

func putItem(ctx context.Context, api API, table string, entity any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	_, err = api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// putItemExpectingToken writes the entity conditional on the stored
// concurrency token still matching expected. A condition failure maps to
// ErrConcurrencyConflict.
func putItemExpectingToken(ctx context.Context, api API, table string, entity any, expected string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	_, err = api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(table),
		Item:                item,
		ConditionExpression: aws.String("#ct = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#ct": "ConcurrencyToken",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

func deleteByID(ctx context.Context, api API, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// runQuery executes a query and collects every page.
func runQuery[T any](ctx context.Context, api API, input *dynamodb.QueryInput) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []*T
	paginator := dynamodb.NewQueryPaginator(api, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		for _, raw := range page.Items {
			result := new(T)
			if err := attributevalue.UnmarshalMap(raw, result); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			results = append(results, result)
		}
	}
	return results, nil
}

// queryTable returns every item whose primary hash attribute equals value.
func queryTable[T any](ctx context.Context, api API, table, attr, value string) ([]*T, error) {
	return runQuery[T](ctx, api, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("#hash = :value"),
		ExpressionAttributeNames: map[string]string{
			"#hash": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
	})
}

// queryIndex returns every item whose index hash attribute equals value.
func queryIndex[T any](ctx context.Context, api API, table, index, attr, value string) ([]*T, error) {
	return runQuery[T](ctx, api, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#hash = :value"),
		ExpressionAttributeNames: map[string]string{
			"#hash": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
	})
}

// queryIndexFirst returns the single item whose index hash attribute equals
// value, or nil when there is none.
func queryIndexFirst[T any](ctx context.Context, api API, table, index, attr, value string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#hash = :value"),
		ExpressionAttributeNames: map[string]string{
			"#hash": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":value": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	result := new(T)
	if err := attributevalue.UnmarshalMap(out.Items[0], result); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return result, nil
}

// tableCount returns the backend's reported item count. The count is
// maintained asynchronously by DynamoDB and may lag actual writes.
func tableCount(ctx context.Context, api API, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return 0, fmt.Errorf("describe table: %w", err)
	}
	return aws.ToInt64(out.Table.ItemCount), nil
}

// batchWrite submits write requests in chunks, resubmitting any the backend
// reports as unprocessed.
func batchWrite(ctx context.Context, api API, table string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWrite {
		end := start + maxBatchWrite
		if end > len(requests) {
			end = len(requests)
		}

		pending := requests[start:end]
		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{
					table: pending,
				},
			})
			if err != nil {
				return fmt.Errorf("batch write: %w", err)
			}
			pending = out.UnprocessedItems[table]
		}
	}
	return nil
}

func batchDeleteKeys(ctx context.Context, api API, table string, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}
	return batchWrite(ctx, api, table, requests)
}

func batchPutItems(ctx context.Context, api API, table string, items []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}
	return batchWrite(ctx, api, table, requests)
}

// batchGet loads the items for the given keys in chunks, resubmitting
// unprocessed keys. Missing keys are silently absent from the result.
func batchGet(ctx context.Context, api API, table string, keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	for start := 0; start < len(keys); start += maxBatchGet {
		end := start + maxBatchGet
		if end > len(keys) {
			end = len(keys)
		}

		pending := keys[start:end]
		for len(pending) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					table: {Keys: pending},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("batch get: %w", err)
			}
			items = append(items, out.Responses[table]...)
			pending = out.UnprocessedKeys[table].Keys
		}
	}
	return items, nil
}
