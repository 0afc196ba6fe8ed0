package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Secondary index names. These are fixed identifiers; only table names can
// be aliased per deployment.
const (
	clientIDIndex         = "ClientId-index"
	applicationIDIndex    = "ApplicationId-index"
	subjectIndex          = "Subject-index"
	scopeNameIndex        = "ScopeName-index"
	scopeIDIndex          = "ScopeId-index"
	subjectSearchKeyIndex = "Subject-SearchKey-index"
	authorizationIDIndex  = "AuthorizationId-index"
	referenceIDIndex      = "ReferenceId-index"
)

// keyDef names a key attribute. All key attributes in this layout are
// strings except the numeric redirect kind.
type keyDef struct {
	name string
	typ  types.ScalarAttributeType
}

func stringKey(name string) keyDef {
	return keyDef{name: name, typ: types.ScalarAttributeTypeS}
}

// indexDef describes a global secondary index.
type indexDef struct {
	name string
	hash keyDef
	rng  *keyDef
}

// tableSchema describes one table's primary key and secondary indexes.
type tableSchema struct {
	name    string
	hash    keyDef
	rng     *keyDef
	indexes []indexDef
}

func applicationsSchema(c Config) tableSchema {
	return tableSchema{
		name: c.ApplicationsTable,
		hash: stringKey("Id"),
		indexes: []indexDef{
			{name: clientIDIndex, hash: stringKey("ClientId")},
		},
	}
}

func applicationRedirectsSchema(c Config) tableSchema {
	rng := keyDef{name: "RedirectType", typ: types.ScalarAttributeTypeN}
	return tableSchema{
		name: c.ApplicationRedirectsTable,
		hash: stringKey("RedirectUri"),
		rng:  &rng,
		indexes: []indexDef{
			{name: applicationIDIndex, hash: stringKey("ApplicationId")},
		},
	}
}

func authorizationsSchema(c Config) tableSchema {
	return tableSchema{
		name: c.AuthorizationsTable,
		hash: stringKey("Id"),
		indexes: []indexDef{
			{name: applicationIDIndex, hash: stringKey("ApplicationId")},
			{name: subjectIndex, hash: stringKey("Subject")},
		},
	}
}

func scopesSchema(c Config) tableSchema {
	return tableSchema{
		name: c.ScopesTable,
		hash: stringKey("Id"),
		indexes: []indexDef{
			{name: scopeNameIndex, hash: stringKey("ScopeName")},
		},
	}
}

func scopeResourcesSchema(c Config) tableSchema {
	rng := stringKey("ScopeId")
	return tableSchema{
		name: c.ScopeResourcesTable,
		hash: stringKey("ScopeResource"),
		rng:  &rng,
		indexes: []indexDef{
			{name: scopeIDIndex, hash: stringKey("ScopeId")},
		},
	}
}

func tokensSchema(c Config) tableSchema {
	searchRange := stringKey("SearchKey")
	return tableSchema{
		name: c.TokensTable,
		hash: stringKey("Id"),
		indexes: []indexDef{
			{name: subjectSearchKeyIndex, hash: stringKey("Subject"), rng: &searchRange},
			{name: applicationIDIndex, hash: stringKey("ApplicationId")},
			{name: authorizationIDIndex, hash: stringKey("AuthorizationId")},
			{name: referenceIDIndex, hash: stringKey("ReferenceId")},
		},
	}
}

// attributeDefinitions collects every attribute referenced by the table or
// index key schemas, without duplicates.
func (s tableSchema) attributeDefinitions() []types.AttributeDefinition {
	seen := map[string]bool{}
	var defs []types.AttributeDefinition

	add := func(k keyDef) {
		if seen[k.name] {
			return
		}
		seen[k.name] = true
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(k.name),
			AttributeType: k.typ,
		})
	}

	add(s.hash)
	if s.rng != nil {
		add(*s.rng)
	}
	for _, idx := range s.indexes {
		add(idx.hash)
		if idx.rng != nil {
			add(*idx.rng)
		}
	}
	return defs
}

func keySchema(hash keyDef, rng *keyDef) []types.KeySchemaElement {
	elements := []types.KeySchemaElement{
		{AttributeName: aws.String(hash.name), KeyType: types.KeyTypeHash},
	}
	if rng != nil {
		elements = append(elements, types.KeySchemaElement{
			AttributeName: aws.String(rng.name),
			KeyType:       types.KeyTypeRange,
		})
	}
	return elements
}

func (c Config) provisionedThroughput() *types.ProvisionedThroughput {
	if c.BillingMode != types.BillingModeProvisioned {
		return nil
	}
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(c.ReadCapacityUnits),
		WriteCapacityUnits: aws.Int64(c.WriteCapacityUnits),
	}
}

// ensureTable creates the table with its secondary indexes if absent, or
// adds any missing indexes if present. Idempotent and safe to run from
// several processes at once; index creation is additive on the backend.
func ensureTable(ctx context.Context, api API, cfg Config, schema tableSchema) error {
	exists, err := tableExists(ctx, api, schema.name)
	if err != nil {
		return &SetupError{Table: schema.name, Err: err}
	}

	if !exists {
		if err := createTable(ctx, api, cfg, schema); err != nil {
			return &SetupError{Table: schema.name, Err: err}
		}
		if err := waitActive(ctx, api, schema.name, cfg.SetupTimeout); err != nil {
			return &SetupError{Table: schema.name, Err: err}
		}
		return nil
	}

	if err := addMissingIndexes(ctx, api, cfg, schema); err != nil {
		return &SetupError{Table: schema.name, Err: err}
	}
	return nil
}

func tableExists(ctx context.Context, api API, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	paginator := dynamodb.NewListTablesPaginator(api, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("list tables: %w", err)
		}
		for _, table := range page.TableNames {
			if table == name {
				return true, nil
			}
		}
	}
	return false, nil
}

func createTable(ctx context.Context, api API, cfg Config, schema tableSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(schema.name),
		AttributeDefinitions: schema.attributeDefinitions(),
		KeySchema:            keySchema(schema.hash, schema.rng),
		BillingMode:          cfg.BillingMode,
	}
	input.ProvisionedThroughput = cfg.provisionedThroughput()

	for _, idx := range schema.indexes {
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName:             aws.String(idx.name),
			KeySchema:             keySchema(idx.hash, idx.rng),
			Projection:            &types.Projection{ProjectionType: types.ProjectionTypeAll},
			ProvisionedThroughput: cfg.provisionedThroughput(),
		})
	}

	if _, err := api.CreateTable(ctx, input); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// addMissingIndexes diffs the table's secondary indexes by exact name and
// issues one update per missing index. Existing indexes are never altered.
func addMissingIndexes(ctx context.Context, api API, cfg Config, schema tableSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(schema.name),
	})
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}

	existing := map[string]bool{}
	for _, idx := range out.Table.GlobalSecondaryIndexes {
		existing[aws.ToString(idx.IndexName)] = true
	}

	for _, idx := range schema.indexes {
		if existing[idx.name] {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := api.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:            aws.String(schema.name),
			AttributeDefinitions: schema.attributeDefinitions(),
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
				{
					Create: &types.CreateGlobalSecondaryIndexAction{
						IndexName:             aws.String(idx.name),
						KeySchema:             keySchema(idx.hash, idx.rng),
						Projection:            &types.Projection{ProjectionType: types.ProjectionTypeAll},
						ProvisionedThroughput: cfg.provisionedThroughput(),
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("update table: add index %s: %w", idx.name, err)
		}

		// The backend allows only one index build at a time.
		if err := waitActive(ctx, api, schema.name, cfg.SetupTimeout); err != nil {
			return err
		}
	}
	return nil
}

// waitActive polls until the table and all its indexes report ACTIVE,
// backing off between polls.
func waitActive(ctx context.Context, api API, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := 100 * time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("describe table: %w", err)
		}

		if tableReady(out.Table) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("table not active after %s", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > 5*time.Second {
			delay = 5 * time.Second
		}
	}
}

func tableReady(table *types.TableDescription) bool {
	if table.TableStatus != types.TableStatusActive {
		return false
	}
	for _, idx := range table.GlobalSecondaryIndexes {
		if idx.IndexStatus != types.IndexStatusActive {
			return false
		}
	}
	return true
}
