// Command setup provisions the DynamoDB tables and secondary indexes.
// It is safe to run repeatedly: existing tables are extended with any
// missing indexes and otherwise left alone.
//
// AWS credentials and region come from the environment or shared config;
// a .env file in the working directory is loaded first if present. Table
// names and capacity settings can be overridden with a YAML file passed
// via -config.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

type fileConfig struct {
	Tables struct {
		Applications         string `yaml:"applications"`
		ApplicationRedirects string `yaml:"application_redirects"`
		Authorizations       string `yaml:"authorizations"`
		Scopes               string `yaml:"scopes"`
		ScopeResources       string `yaml:"scope_resources"`
		Tokens               string `yaml:"tokens"`
	} `yaml:"tables"`
	BillingMode   string `yaml:"billing_mode"`
	ReadCapacity  int64  `yaml:"read_capacity"`
	WriteCapacity int64  `yaml:"write_capacity"`
	SetupTimeout  string `yaml:"setup_timeout"`
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	endpoint := flag.String("endpoint", "", "override the DynamoDB endpoint, e.g. a local instance")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background(), logger, *configPath, *endpoint); err != nil {
		logger.Error("setup failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, endpoint string) error {
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env file")
	}

	cfg, err := loadStoreConfig(configPath)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, endpoint)
	if err != nil {
		return err
	}

	type initializer interface {
		EnsureInitialized(context.Context) error
	}
	stores := map[string]initializer{
		"applications":   store.NewApplicationStore(client, cfg),
		"authorizations": store.NewAuthorizationStore(client, cfg),
		"scopes":         store.NewScopeStore(client, cfg),
		"tokens":         store.NewTokenStore(client, cfg),
	}

	for name, s := range stores {
		logger.Info("initializing", "store", name)
		if err := s.EnsureInitialized(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", name, err)
		}
	}

	logger.Info("all tables ready")
	return nil
}

func loadStoreConfig(path string) (store.Config, error) {
	cfg := store.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if fc.Tables.Applications != "" {
		cfg.ApplicationsTable = fc.Tables.Applications
	}
	if fc.Tables.ApplicationRedirects != "" {
		cfg.ApplicationRedirectsTable = fc.Tables.ApplicationRedirects
	}
	if fc.Tables.Authorizations != "" {
		cfg.AuthorizationsTable = fc.Tables.Authorizations
	}
	if fc.Tables.Scopes != "" {
		cfg.ScopesTable = fc.Tables.Scopes
	}
	if fc.Tables.ScopeResources != "" {
		cfg.ScopeResourcesTable = fc.Tables.ScopeResources
	}
	if fc.Tables.Tokens != "" {
		cfg.TokensTable = fc.Tables.Tokens
	}
	if fc.BillingMode != "" {
		cfg.BillingMode = types.BillingMode(fc.BillingMode)
	}
	if fc.ReadCapacity > 0 {
		cfg.ReadCapacityUnits = fc.ReadCapacity
	}
	if fc.WriteCapacity > 0 {
		cfg.WriteCapacityUnits = fc.WriteCapacity
	}
	if fc.SetupTimeout != "" {
		d, err := time.ParseDuration(fc.SetupTimeout)
		if err != nil {
			return cfg, fmt.Errorf("parse setup_timeout: %w", err)
		}
		cfg.SetupTimeout = d
	}
	return cfg, nil
}

func newClient(ctx context.Context, endpoint string) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if region := os.Getenv("AWS_REGION"); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key := os.Getenv("AWS_ACCESS_KEY"); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_KEY"), ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	}), nil
}
