package store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Config holds table names and provisioning settings shared by all stores.
// Table names may be aliased per deployment; attribute and index names are
// fixed and never renamed.
type Config struct {
	// ApplicationsTable is the name of the applications table.
	// Default: "openiddict_applications"
	ApplicationsTable string

	// ApplicationRedirectsTable is the name of the denormalized redirect
	// URI table. Default: "openiddict_application_redirects"
	ApplicationRedirectsTable string

	// AuthorizationsTable is the name of the authorizations table.
	// Default: "openiddict_authorizations"
	AuthorizationsTable string

	// ScopesTable is the name of the scopes table.
	// Default: "openiddict_scopes"
	ScopesTable string

	// ScopeResourcesTable is the name of the denormalized scope resource
	// table. Default: "openiddict_scope_resources"
	ScopeResourcesTable string

	// TokensTable is the name of the tokens table.
	// Default: "openiddict_tokens"
	TokensTable string

	// BillingMode selects on-demand or provisioned capacity for tables
	// created by EnsureInitialized. Default: PAY_PER_REQUEST.
	BillingMode types.BillingMode

	// ReadCapacityUnits and WriteCapacityUnits apply to created tables and
	// indexes when BillingMode is PROVISIONED. Default: 1/1.
	ReadCapacityUnits  int64
	WriteCapacityUnits int64

	// SetupTimeout bounds how long EnsureInitialized waits for a table or
	// index to become active. Default: 10m.
	SetupTimeout time.Duration
}

// DefaultConfig returns the fixed default table names with on-demand billing.
func DefaultConfig() Config {
	return Config{
		ApplicationsTable:         "openiddict_applications",
		ApplicationRedirectsTable: "openiddict_application_redirects",
		AuthorizationsTable:       "openiddict_authorizations",
		ScopesTable:               "openiddict_scopes",
		ScopeResourcesTable:       "openiddict_scope_resources",
		TokensTable:               "openiddict_tokens",
		BillingMode:               types.BillingModePayPerRequest,
		ReadCapacityUnits:         1,
		WriteCapacityUnits:        1,
		SetupTimeout:              10 * time.Minute,
	}
}

// WithDefaults returns a copy with zero-valued fields filled in.
func (c Config) WithDefaults() Config {
	c.validate()
	return c
}

// validate fills in defaults for zero-valued fields.
func (c *Config) validate() {
	def := DefaultConfig()
	if c.ApplicationsTable == "" {
		c.ApplicationsTable = def.ApplicationsTable
	}
	if c.ApplicationRedirectsTable == "" {
		c.ApplicationRedirectsTable = def.ApplicationRedirectsTable
	}
	if c.AuthorizationsTable == "" {
		c.AuthorizationsTable = def.AuthorizationsTable
	}
	if c.ScopesTable == "" {
		c.ScopesTable = def.ScopesTable
	}
	if c.ScopeResourcesTable == "" {
		c.ScopeResourcesTable = def.ScopeResourcesTable
	}
	if c.TokensTable == "" {
		c.TokensTable = def.TokensTable
	}
	if c.BillingMode == "" {
		c.BillingMode = def.BillingMode
	}
	if c.ReadCapacityUnits < 1 {
		c.ReadCapacityUnits = def.ReadCapacityUnits
	}
	if c.WriteCapacityUnits < 1 {
		c.WriteCapacityUnits = def.WriteCapacityUnits
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = def.SetupTimeout
	}
}
