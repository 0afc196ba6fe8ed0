package store_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

func TestEnsureInitializedCreatesTables(t *testing.T) {
	fake, cfg := newBackend()
	ctx := context.Background()

	s := store.NewApplicationStore(fake, cfg)
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	out, err := fake.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}

	want := map[string]bool{
		cfg.ApplicationsTable:         false,
		cfg.ApplicationRedirectsTable: false,
	}
	for _, name := range out.TableNames {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("table %s was not created", name)
		}
	}
}

func TestEnsureInitializedIdempotent(t *testing.T) {
	fake, cfg := newBackend()
	ctx := context.Background()

	s := store.NewTokenStore(fake, cfg)
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("first EnsureInitialized: %v", err)
	}
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("second EnsureInitialized: %v", err)
	}
}

func TestEnsureInitializedAddsMissingIndex(t *testing.T) {
	fake, cfg := newBackend()
	ctx := context.Background()

	// Simulate a tokens table from an earlier deployment that predates the
	// reference token index.
	_, err := fake.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(cfg.TokensTable),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("Id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("Subject"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SearchKey"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("Id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("Subject-SearchKey-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("Subject"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("SearchKey"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	s := store.NewTokenStore(fake, cfg)
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	out, err := fake.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(cfg.TokensTable),
	})
	if err != nil {
		t.Fatalf("DescribeTable: %v", err)
	}

	indexes := map[string]bool{}
	for _, idx := range out.Table.GlobalSecondaryIndexes {
		indexes[aws.ToString(idx.IndexName)] = true
	}
	for _, name := range []string{
		"Subject-SearchKey-index",
		"ApplicationId-index",
		"AuthorizationId-index",
		"ReferenceId-index",
	} {
		if !indexes[name] {
			t.Errorf("index %s is missing after EnsureInitialized", name)
		}
	}

	// The added index must serve lookups immediately.
	token := &store.Token{Subject: "alice", ReferenceID: "ref-1"}
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.FindByReferenceID(ctx, "ref-1")
	if err != nil || got == nil {
		t.Fatalf("FindByReferenceID after index add = (%v, %v)", got, err)
	}
}

func TestDefaultConfigFillsZeroValues(t *testing.T) {
	fake, _ := newBackend()
	ctx := context.Background()

	// A zero config falls back to the default table names.
	s := store.NewApplicationStore(fake, store.Config{})
	if err := s.EnsureInitialized(ctx); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	out, err := fake.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}

	def := store.DefaultConfig()
	found := false
	for _, name := range out.TableNames {
		if name == def.ApplicationsTable {
			found = true
		}
	}
	if !found {
		t.Errorf("zero config did not create default table %s", def.ApplicationsTable)
	}
}
