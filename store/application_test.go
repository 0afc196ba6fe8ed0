package store_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/ganhammar/openiddict-dynamodb/store"
)

func TestApplicationCreateAndFindByID(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{
		ClientID:               "client-1",
		ClientSecret:           "secret",
		ClientType:             store.ClientTypeConfidential,
		ConsentType:            store.ConsentTypeExplicit,
		DisplayNames:           map[string]string{"en": "Example"},
		Permissions:            []string{"ept:token", "gt:client_credentials"},
		RedirectURIs:           []string{"https://b.example/cb", "https://a.example/cb"},
		PostLogoutRedirectURIs: []string{"https://a.example/out"},
	}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if app.ID == "" {
		t.Fatal("Create did not assign an identifier")
	}
	if app.ConcurrencyToken == "" {
		t.Fatal("Create did not assign a concurrency token")
	}

	got, err := s.FindByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got == nil {
		t.Fatal("FindByID returned nil for existing application")
	}
	if got.ClientID != "client-1" || got.ClientSecret != "secret" {
		t.Errorf("round trip lost client fields: %+v", got)
	}
	if want := []string{"https://a.example/cb", "https://b.example/cb"}; !reflect.DeepEqual(got.RedirectURIs, want) {
		t.Errorf("RedirectURIs = %v, want %v (sorted)", got.RedirectURIs, want)
	}
	if want := []string{"https://a.example/out"}; !reflect.DeepEqual(got.PostLogoutRedirectURIs, want) {
		t.Errorf("PostLogoutRedirectURIs = %v, want %v", got.PostLogoutRedirectURIs, want)
	}
}

func TestApplicationCreateNil(t *testing.T) {
	s, _, _ := newAppStore(t)

	if err := s.Create(context.Background(), nil); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("Create(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestApplicationRedirectRows(t *testing.T) {
	s, fake, cfg := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{
		ClientID:               "client-1",
		RedirectURIs:           []string{"https://a.example/cb", "https://b.example/cb"},
		PostLogoutRedirectURIs: []string{"https://a.example/out"},
	}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := fake.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(cfg.ApplicationRedirectsTable),
	})
	if err != nil {
		t.Fatalf("Scan redirects: %v", err)
	}
	if len(out.Items) != 3 {
		t.Fatalf("redirects table has %d rows, want 3", len(out.Items))
	}
}

func TestApplicationFindByClientID(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://a.example/cb"},
	}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.FindByClientID(ctx, "client-1")
	if err != nil {
		t.Fatalf("FindByClientID: %v", err)
	}
	if got == nil || got.ID != app.ID {
		t.Fatalf("FindByClientID = %+v, want application %s", got, app.ID)
	}
	if len(got.RedirectURIs) != 1 {
		t.Errorf("FindByClientID did not rehydrate redirect URIs: %v", got.RedirectURIs)
	}

	missing, err := s.FindByClientID(ctx, "no-such-client")
	if err != nil || missing != nil {
		t.Fatalf("FindByClientID(missing) = (%v, %v), want (nil, nil)", missing, err)
	}

	if _, err := s.FindByClientID(ctx, ""); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("FindByClientID(\"\") = %v, want ErrInvalidArgument", err)
	}
}

func TestApplicationFindByRedirectURI(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	// The same URI registered under different kinds stays distinct.
	first := &store.Application{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://shared.example/cb"},
	}
	second := &store.Application{
		ClientID:               "client-2",
		PostLogoutRedirectURIs: []string{"https://shared.example/cb"},
	}
	for _, app := range []*store.Application{first, second} {
		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	byRedirect, err := s.FindByRedirectURI(ctx, "https://shared.example/cb")
	if err != nil {
		t.Fatalf("FindByRedirectURI: %v", err)
	}
	if len(byRedirect) != 1 || byRedirect[0].ID != first.ID {
		t.Fatalf("FindByRedirectURI matched %d applications, want only %s", len(byRedirect), first.ID)
	}

	byLogout, err := s.FindByPostLogoutRedirectURI(ctx, "https://shared.example/cb")
	if err != nil {
		t.Fatalf("FindByPostLogoutRedirectURI: %v", err)
	}
	if len(byLogout) != 1 || byLogout[0].ID != second.ID {
		t.Fatalf("FindByPostLogoutRedirectURI matched %d applications, want only %s", len(byLogout), second.ID)
	}

	none, err := s.FindByRedirectURI(ctx, "https://unregistered.example/cb")
	if err != nil || len(none) != 0 {
		t.Fatalf("FindByRedirectURI(unregistered) = (%v, %v), want empty", none, err)
	}
}

func TestApplicationUpdate(t *testing.T) {
	s, fake, cfg := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{
		ClientID:     "client-1",
		ClientSecret: "old-secret",
		RedirectURIs: []string{"https://a.example/cb", "https://b.example/cb"},
	}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := app.ConcurrencyToken

	app.ClientSecret = "new-secret"
	app.RedirectURIs = []string{"https://c.example/cb"}
	if err := s.Update(ctx, app); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if app.ConcurrencyToken == created {
		t.Error("Update did not rotate the concurrency token")
	}

	got, err := s.FindByID(ctx, app.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.ClientSecret != "new-secret" {
		t.Errorf("ClientSecret = %q after update", got.ClientSecret)
	}
	if want := []string{"https://c.example/cb"}; !reflect.DeepEqual(got.RedirectURIs, want) {
		t.Errorf("RedirectURIs = %v after update, want %v", got.RedirectURIs, want)
	}

	// Old relation rows are replaced, not accumulated.
	out, err := fake.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(cfg.ApplicationRedirectsTable),
	})
	if err != nil {
		t.Fatalf("Scan redirects: %v", err)
	}
	if len(out.Items) != 1 {
		t.Errorf("redirects table has %d rows after update, want 1", len(out.Items))
	}
}

func TestApplicationUpdateConflict(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{ClientID: "client-1"}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stale := &store.Application{
		ID:               app.ID,
		ClientID:         "client-1",
		ConcurrencyToken: "stale-token",
	}
	if err := s.Update(ctx, stale); !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("Update(stale) = %v, want ErrConcurrencyConflict", err)
	}
	if stale.ConcurrencyToken != "stale-token" {
		t.Error("failed update mutated the caller's concurrency token")
	}

	ghost := &store.Application{
		ID:               "no-such-id",
		ConcurrencyToken: app.ConcurrencyToken,
	}
	if err := s.Update(ctx, ghost); !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("Update(missing) = %v, want ErrConcurrencyConflict", err)
	}
}

func TestApplicationDelete(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	app := &store.Application{ClientID: "client-1"}
	if err := s.Create(ctx, app); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, app); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.FindByID(ctx, app.ID)
	if err != nil || got != nil {
		t.Fatalf("FindByID after delete = (%v, %v), want (nil, nil)", got, err)
	}

	if err := s.Delete(ctx, nil); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("Delete(nil) = %v, want ErrInvalidArgument", err)
	}
}

func TestApplicationFindByIDEmpty(t *testing.T) {
	s, _, _ := newAppStore(t)

	if _, err := s.FindByID(context.Background(), ""); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("FindByID(\"\") = %v, want ErrInvalidArgument", err)
	}
}

func TestApplicationListWhere(t *testing.T) {
	s, _, _ := newAppStore(t)

	_, err := s.ListWhere(context.Background(), func(*store.Application) bool { return true })
	if !errors.Is(err, store.ErrNotSupported) {
		t.Fatalf("ListWhere = %v, want ErrNotSupported", err)
	}
}

func TestApplicationCount(t *testing.T) {
	s, _, _ := newAppStore(t)
	ctx := context.Background()

	n, err := s.Count(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Count on empty table = (%d, %v), want (0, nil)", n, err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Create(ctx, &store.Application{}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	n, err = s.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Count = (%d, %v), want (2, nil)", n, err)
	}
}

func TestApplicationInstantiateFactory(t *testing.T) {
	s, _, _ := newAppStore(t)

	if s.Instantiate() == nil {
		t.Fatal("Instantiate returned nil")
	}

	s.SetFactory(func() *store.Application {
		return &store.Application{ClientType: store.ClientTypePublic}
	})
	if got := s.Instantiate(); got.ClientType != store.ClientTypePublic {
		t.Fatalf("Instantiate after SetFactory = %+v", got)
	}
}
