// Package storetest provides an in-memory DynamoDB fake implementing
// store.API, for exercising the stores without a live backend.
//
// The fake learns table and index schemas from CreateTable calls and
// evaluates only the expression shapes the stores produce: equality,
// begins_with and < conditions joined by AND, attribute_not_exists, and
// compare-and-swap conditions on a single attribute.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

type keySchema struct {
	hash string
	rng  string
}

type table struct {
	keys    keySchema
	indexes map[string]keySchema
	items   map[string]map[string]types.AttributeValue
}

// Client is the in-memory fake. The zero value is not usable; call New.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table
}

var _ store.API = (*Client)(nil)

// New creates an empty fake with no tables.
func New() *Client {
	return &Client{tables: make(map[string]*table)}
}

func parseKeySchema(elements []types.KeySchemaElement) keySchema {
	var keys keySchema
	for _, element := range elements {
		switch element.KeyType {
		case types.KeyTypeHash:
			keys.hash = aws.ToString(element.AttributeName)
		case types.KeyTypeRange:
			keys.rng = aws.ToString(element.AttributeName)
		}
	}
	return keys
}

func encodeAttr(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL:%v", v.Value)
	default:
		return fmt.Sprintf("%#v", av)
	}
}

func (t *table) primaryKeyOf(item map[string]types.AttributeValue) string {
	key := encodeAttr(item[t.keys.hash])
	if t.keys.rng != "" {
		key += "|" + encodeAttr(item[t.keys.rng])
	}
	return key
}

func (t *table) primaryKeyAttrs(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{t.keys.hash: item[t.keys.hash]}
	if t.keys.rng != "" {
		key[t.keys.rng] = item[t.keys.rng]
	}
	return key
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// clause is one parsed condition of a key condition or filter expression.
type clause struct {
	attr string
	op   string // "=", "<", "begins_with", "attribute_not_exists"
	val  types.AttributeValue
}

func resolveName(token string, names map[string]string) string {
	if strings.HasPrefix(token, "#") {
		return names[token]
	}
	return token
}

func parseExpr(expr string, names map[string]string, values map[string]types.AttributeValue) ([]clause, error) {
	var clauses []clause
	for _, part := range strings.Split(expr, " AND ") {
		part = strings.TrimSpace(part)

		switch {
		case strings.HasPrefix(part, "begins_with("):
			inner := strings.TrimSuffix(strings.TrimPrefix(part, "begins_with("), ")")
			args := strings.SplitN(inner, ",", 2)
			if len(args) != 2 {
				return nil, fmt.Errorf("storetest: cannot parse %q", part)
			}
			clauses = append(clauses, clause{
				attr: resolveName(strings.TrimSpace(args[0]), names),
				op:   "begins_with",
				val:  values[strings.TrimSpace(args[1])],
			})

		case strings.HasPrefix(part, "attribute_not_exists("):
			inner := strings.TrimSuffix(strings.TrimPrefix(part, "attribute_not_exists("), ")")
			clauses = append(clauses, clause{
				attr: resolveName(strings.TrimSpace(inner), names),
				op:   "attribute_not_exists",
			})

		default:
			fields := strings.Fields(part)
			if len(fields) != 3 {
				return nil, fmt.Errorf("storetest: cannot parse %q", part)
			}
			clauses = append(clauses, clause{
				attr: resolveName(fields[0], names),
				op:   fields[1],
				val:  values[fields[2]],
			})
		}
	}
	return clauses, nil
}

func matches(item map[string]types.AttributeValue, clauses []clause) bool {
	for _, c := range clauses {
		attr, ok := item[c.attr]

		if c.op == "attribute_not_exists" {
			if ok {
				return false
			}
			continue
		}
		if !ok || c.val == nil {
			return false
		}

		switch c.op {
		case "=":
			if encodeAttr(attr) != encodeAttr(c.val) {
				return false
			}
		case "<":
			got, gotOK := attr.(*types.AttributeValueMemberS)
			want, wantOK := c.val.(*types.AttributeValueMemberS)
			if !gotOK || !wantOK || !(got.Value < want.Value) {
				return false
			}
		case "begins_with":
			got, gotOK := attr.(*types.AttributeValueMemberS)
			want, wantOK := c.val.(*types.AttributeValueMemberS)
			if !gotOK || !wantOK || !strings.HasPrefix(got.Value, want.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (c *Client) table(name *string) (*table, error) {
	t, ok := c.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("table %q not found", aws.ToString(name))),
		}
	}
	return t, nil
}

// CreateTable records the table's key schema and indexes.
func (c *Client) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	name := aws.ToString(params.TableName)
	if _, ok := c.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}

	t := &table{
		keys:    parseKeySchema(params.KeySchema),
		indexes: make(map[string]keySchema),
		items:   make(map[string]map[string]types.AttributeValue),
	}
	for _, gsi := range params.GlobalSecondaryIndexes {
		t.indexes[aws.ToString(gsi.IndexName)] = parseKeySchema(gsi.KeySchema)
	}
	c.tables[name] = t

	return &dynamodb.CreateTableOutput{}, nil
}

// DescribeTable reports an ACTIVE table with an exact item count.
func (c *Client) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	var indexNames []string
	for name := range t.indexes {
		indexNames = append(indexNames, name)
	}
	sort.Strings(indexNames)

	var indexes []types.GlobalSecondaryIndexDescription
	for _, name := range indexNames {
		indexes = append(indexes, types.GlobalSecondaryIndexDescription{
			IndexName:   aws.String(name),
			IndexStatus: types.IndexStatusActive,
		})
	}

	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:              params.TableName,
			TableStatus:            types.TableStatusActive,
			ItemCount:              aws.Int64(int64(len(t.items))),
			GlobalSecondaryIndexes: indexes,
		},
	}, nil
}

// ListTables returns every table name in one page.
func (c *Client) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	return &dynamodb.ListTablesOutput{TableNames: names}, nil
}

// UpdateTable applies index creations.
func (c *Client) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	for _, update := range params.GlobalSecondaryIndexUpdates {
		if update.Create != nil {
			t.indexes[aws.ToString(update.Create.IndexName)] = parseKeySchema(update.Create.KeySchema)
		}
	}
	return &dynamodb.UpdateTableOutput{}, nil
}

// PutItem stores the item, evaluating any condition against the existing
// item under the same key.
func (c *Client) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	key := t.primaryKeyOf(params.Item)
	if params.ConditionExpression != nil {
		clauses, err := parseExpr(aws.ToString(params.ConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		existing := t.items[key]
		if existing == nil {
			existing = map[string]types.AttributeValue{}
		}
		if !matches(existing, clauses) {
			return nil, &types.ConditionalCheckFailedException{
				Message: aws.String("the conditional request failed"),
			}
		}
	}

	t.items[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem performs a point lookup.
func (c *Client) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	item, ok := t.items[t.primaryKeyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

// DeleteItem removes the item if present.
func (c *Client) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	delete(t.items, t.primaryKeyOf(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// sortedItems returns the table's items ordered by the given sort
// attribute (if any), then by primary key, for deterministic pagination.
func (t *table) sortedItems(sortAttr string) []map[string]types.AttributeValue {
	items := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if sortAttr != "" {
			a, b := encodeAttr(items[i][sortAttr]), encodeAttr(items[j][sortAttr])
			if a != b {
				return a < b
			}
		}
		return t.primaryKeyOf(items[i]) < t.primaryKeyOf(items[j])
	})
	return items
}

// startIndex translates an exclusive start key into a slice offset.
func (t *table) startIndex(items []map[string]types.AttributeValue, startKey map[string]types.AttributeValue) int {
	if startKey == nil {
		return 0
	}
	want := t.primaryKeyOf(startKey)
	for i, item := range items {
		if t.primaryKeyOf(item) == want {
			return i + 1
		}
	}
	return 0
}

// Query evaluates a key condition against a table or one of its indexes.
// Items missing an index key attribute are invisible to that index.
func (c *Client) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	keys := t.keys
	if params.IndexName != nil {
		idx, ok := t.indexes[aws.ToString(params.IndexName)]
		if !ok {
			return nil, &types.ResourceNotFoundException{
				Message: aws.String(fmt.Sprintf("index %q not found", aws.ToString(params.IndexName))),
			}
		}
		keys = idx
	}

	clauses, err := parseExpr(aws.ToString(params.KeyConditionExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.sortedItems(keys.rng) {
		if params.IndexName != nil {
			if _, ok := item[keys.hash]; !ok {
				continue
			}
			if keys.rng != "" {
				if _, ok := item[keys.rng]; !ok {
					continue
				}
			}
		}
		if matches(item, clauses) {
			matched = append(matched, item)
		}
	}

	start := t.startIndex(matched, params.ExclusiveStartKey)
	end := len(matched)
	if params.Limit != nil && start+int(aws.ToInt32(params.Limit)) < end {
		end = start + int(aws.ToInt32(params.Limit))
	}

	out := &dynamodb.QueryOutput{}
	for _, item := range matched[start:end] {
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(matched) && end > start {
		out.LastEvaluatedKey = t.primaryKeyAttrs(matched[end-1])
	}
	return out, nil
}

// Scan walks the table in primary key order. As in DynamoDB, Limit bounds
// the number of items examined before the filter is applied.
func (c *Client) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.table(params.TableName)
	if err != nil {
		return nil, err
	}

	var filter []clause
	if params.FilterExpression != nil {
		filter, err = parseExpr(aws.ToString(params.FilterExpression), params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
	}

	items := t.sortedItems("")
	start := t.startIndex(items, params.ExclusiveStartKey)

	limit := len(items)
	if params.Limit != nil {
		limit = int(aws.ToInt32(params.Limit))
	}

	out := &dynamodb.ScanOutput{}
	scanned := 0
	last := -1
	for i := start; i < len(items) && scanned < limit; i++ {
		scanned++
		last = i
		if matches(items[i], filter) {
			out.Items = append(out.Items, copyItem(items[i]))
		}
	}
	if last >= 0 && last < len(items)-1 {
		out.LastEvaluatedKey = t.primaryKeyAttrs(items[last])
	}
	return out, nil
}

// BatchWriteItem applies puts and deletes without conditions.
func (c *Client) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, requests := range params.RequestItems {
		t, err := c.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, request := range requests {
			if request.PutRequest != nil {
				item := request.PutRequest.Item
				t.items[t.primaryKeyOf(item)] = copyItem(item)
			}
			if request.DeleteRequest != nil {
				delete(t.items, t.primaryKeyOf(request.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

// BatchGetItem returns the found items; missing keys are simply absent.
func (c *Client) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{
		Responses: make(map[string][]map[string]types.AttributeValue),
	}
	for name, keysAndAttrs := range params.RequestItems {
		t, err := c.table(aws.String(name))
		if err != nil {
			return nil, err
		}
		for _, key := range keysAndAttrs.Keys {
			if item, ok := t.items[t.primaryKeyOf(key)]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(item))
			}
		}
	}
	return out, nil
}
