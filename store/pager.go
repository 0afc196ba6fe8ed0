package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// pager emulates offset pagination over a backend that only hands out a
// forward continuation token per completed page. It records the token a
// page ended at under the numeric offset the next page starts from.
//
// The cache is process-local and not durable: after a restart, only the
// first page is reachable until pages are walked sequentially again.
type pager struct {
	mu      sync.Mutex
	cursors map[int32]map[string]types.AttributeValue
}

func newPager() *pager {
	return &pager{
		cursors: make(map[int32]map[string]types.AttributeValue),
	}
}

// startKey resolves an offset to its recorded continuation token. Offset 0
// (or none) always starts at the beginning; any other offset must have been
// reached by a prior sequential page. The exhausted result reports that the
// prior page already consumed the whole table.
func (p *pager) startKey(offset *int32) (key map[string]types.AttributeValue, exhausted bool, err error) {
	if offset == nil || *offset == 0 {
		return nil, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.cursors[*offset]
	if !ok {
		return nil, false, fmt.Errorf("%w: pagination requires sequential page access", ErrNotSupported)
	}
	return key, key == nil, nil
}

func (p *pager) record(offset int32, key map[string]types.AttributeValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[offset] = key
}

// listItems implements the shared List contract: up to count items starting
// at offset, or the whole table when neither is given.
func listItems[T any](ctx context.Context, api API, table string, p *pager, count, offset *int32) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if count == nil && offset == nil {
		return scanAll[T](ctx, api, table)
	}

	start, exhausted, err := p.startKey(offset)
	if err != nil {
		return nil, err
	}
	if exhausted {
		if count != nil {
			p.record(*offset+*count, nil)
		}
		return nil, nil
	}

	// An offset without a count resumes from the cursor and reads to the
	// end; there is no next offset to record.
	if count == nil {
		return scanFrom[T](ctx, api, table, start)
	}

	var results []*T
	remaining := *count
	cursor := start
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(table),
			Limit:             aws.Int32(remaining),
			ExclusiveStartKey: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		for _, raw := range out.Items {
			result := new(T)
			if err := attributevalue.UnmarshalMap(raw, result); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			results = append(results, result)
		}
		remaining -= int32(len(out.Items))

		cursor = out.LastEvaluatedKey
		if cursor == nil {
			break
		}
	}

	var base int32
	if offset != nil {
		base = *offset
	}
	p.record(base+*count, cursor)

	return results, nil
}

func scanAll[T any](ctx context.Context, api API, table string) ([]*T, error) {
	return scanFrom[T](ctx, api, table, nil)
}

func scanFrom[T any](ctx context.Context, api API, table string, start map[string]types.AttributeValue) ([]*T, error) {
	var results []*T

	paginator := dynamodb.NewScanPaginator(api, &dynamodb.ScanInput{
		TableName:         aws.String(table),
		ExclusiveStartKey: start,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
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
