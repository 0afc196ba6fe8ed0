package store_test

import (
	"context"
	"testing"

	"github.com/ganhammar/openiddict-dynamodb/store"
	"github.com/ganhammar/openiddict-dynamodb/storetest"
)

func i32(v int32) *int32 { return &v }

func newBackend() (*storetest.Client, store.Config) {
	return storetest.New(), store.DefaultConfig()
}

func newAppStore(t *testing.T) (*store.ApplicationStore, *storetest.Client, store.Config) {
	t.Helper()
	fake, cfg := newBackend()
	s := store.NewApplicationStore(fake, cfg)
	if err := s.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	return s, fake, cfg
}

func newScopeStore(t *testing.T) (*store.ScopeStore, *storetest.Client, store.Config) {
	t.Helper()
	fake, cfg := newBackend()
	s := store.NewScopeStore(fake, cfg)
	if err := s.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	return s, fake, cfg
}

func newAuthzStore(t *testing.T) (*store.AuthorizationStore, *storetest.Client, store.Config) {
	t.Helper()
	fake, cfg := newBackend()
	s := store.NewAuthorizationStore(fake, cfg)
	if err := s.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	return s, fake, cfg
}

func newTokenStore(t *testing.T) (*store.TokenStore, *storetest.Client, store.Config) {
	t.Helper()
	fake, cfg := newBackend()
	s := store.NewTokenStore(fake, cfg)
	if err := s.EnsureInitialized(context.Background()); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}
	return s, fake, cfg
}
