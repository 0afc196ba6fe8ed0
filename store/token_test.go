package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

func seedTokens(t *testing.T, s *store.TokenStore) map[string]*store.Token {
	t.Helper()
	ctx := context.Background()

	tokens := map[string]*store.Token{
		"alice-app1-valid-access": {
			Subject: "alice", ApplicationID: "app-1",
			Status: store.StatusValid, Type: store.TokenTypeAccessToken,
		},
		"alice-app1-valid-refresh": {
			Subject: "alice", ApplicationID: "app-1",
			Status: store.StatusValid, Type: store.TokenTypeRefreshToken,
		},
		"alice-app1-revoked-access": {
			Subject: "alice", ApplicationID: "app-1",
			Status: store.StatusRevoked, Type: store.TokenTypeAccessToken,
		},
		"alice-app2-valid-access": {
			Subject: "alice", ApplicationID: "app-2",
			Status: store.StatusValid, Type: store.TokenTypeAccessToken,
		},
		"bob-app1-valid-access": {
			Subject: "bob", ApplicationID: "app-1",
			Status: store.StatusValid, Type: store.TokenTypeAccessToken,
		},
	}
	for name, token := range tokens {
		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}
	return tokens
}

func TestTokenFind(t *testing.T) {
	s, _, _ := newTokenStore(t)
	seedTokens(t, s)
	ctx := context.Background()

	tests := []struct {
		name    string
		client  string
		status  string
		typ     string
		matches int
	}{
		{name: "subject only", matches: 4},
		{name: "client", client: "app-1", matches: 3},
		{name: "client and status", client: "app-1", status: store.StatusValid, matches: 2},
		{
			name:   "client, status and type",
			client: "app-1", status: store.StatusValid, typ: store.TokenTypeAccessToken,
			matches: 1,
		},
		{name: "unknown client", client: "app-9", matches: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Find(ctx, "alice", tc.client, tc.status, tc.typ)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if len(got) != tc.matches {
				t.Fatalf("Find matched %d tokens, want %d", len(got), tc.matches)
			}
		})
	}
}

func TestTokenFindValidation(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	tests := []struct {
		name                         string
		subject, client, status, typ string
	}{
		{name: "empty subject"},
		{name: "status without client", subject: "alice", status: store.StatusValid},
		{name: "type without status", subject: "alice", client: "app-1", typ: store.TokenTypeAccessToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Find(ctx, tc.subject, tc.client, tc.status, tc.typ); !errors.Is(err, store.ErrInvalidArgument) {
				t.Fatalf("Find = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestTokenFindBySubject(t *testing.T) {
	s, _, _ := newTokenStore(t)
	seedTokens(t, s)

	got, err := s.FindBySubject(context.Background(), "bob")
	if err != nil {
		t.Fatalf("FindBySubject: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "bob" {
		t.Fatalf("FindBySubject(bob) matched %d tokens", len(got))
	}
}

func TestTokenFindByReferenceID(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	token := &store.Token{
		Subject:     "alice",
		Type:        store.TokenTypeRefreshToken,
		Status:      store.StatusValid,
		ReferenceID: "ref-123",
		Payload:     "ciphertext",
	}
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.FindByReferenceID(ctx, "ref-123")
	if err != nil {
		t.Fatalf("FindByReferenceID: %v", err)
	}
	if got == nil || got.ID != token.ID || got.Payload != "ciphertext" {
		t.Fatalf("FindByReferenceID = %+v, want token %s", got, token.ID)
	}

	missing, err := s.FindByReferenceID(ctx, "no-such-ref")
	if err != nil || missing != nil {
		t.Fatalf("FindByReferenceID(missing) = (%v, %v), want (nil, nil)", missing, err)
	}
}

func TestTokenFindByAuthorizationID(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	for _, authz := range []string{"authz-1", "authz-1", "authz-2"} {
		token := &store.Token{Subject: "alice", AuthorizationID: authz}
		if err := s.Create(ctx, token); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := s.FindByAuthorizationID(ctx, "authz-1")
	if err != nil {
		t.Fatalf("FindByAuthorizationID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FindByAuthorizationID matched %d tokens, want 2", len(got))
	}
}

func TestTokenUpdateRecomputesSearchKey(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	token := &store.Token{
		Subject:       "alice",
		ApplicationID: "app-1",
		Status:        store.StatusValid,
		Type:          store.TokenTypeAccessToken,
	}
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}

	token.Status = store.StatusRevoked
	if err := s.Update(ctx, token); err != nil {
		t.Fatalf("Update: %v", err)
	}

	revoked, err := s.Find(ctx, "alice", "app-1", store.StatusRevoked, "")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(revoked) != 1 || revoked[0].ID != token.ID {
		t.Fatalf("Find by new status matched %d tokens", len(revoked))
	}

	valid, err := s.Find(ctx, "alice", "app-1", store.StatusValid, "")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(valid) != 0 {
		t.Fatalf("Find by old status matched %d tokens, want 0", len(valid))
	}
}

func TestTokenUpdateConflict(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	token := &store.Token{Subject: "alice", Status: store.StatusValid}
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := &store.Token{ID: token.ID, Subject: "alice", ConcurrencyToken: "stale"}
	if err := s.Update(ctx, stale); !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("Update(stale) = %v, want ErrConcurrencyConflict", err)
	}
}

func TestTokenDelete(t *testing.T) {
	s, _, _ := newTokenStore(t)
	ctx := context.Background()

	token := &store.Token{Subject: "alice"}
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.FindByID(ctx, token.ID)
	if err != nil || got != nil {
		t.Fatalf("FindByID after delete = (%v, %v), want (nil, nil)", got, err)
	}
}
