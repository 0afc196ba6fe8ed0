package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// ApplicationStore persists Application entities and maintains the
// denormalized redirect URI rows that allow lookup by URI value.
type ApplicationStore struct {
	api     API
	config  Config
	pager   *pager
	factory func() *Application
}

// NewApplicationStore creates a store backed by the given client.
func NewApplicationStore(api API, config Config) *ApplicationStore {
	config.validate()
	return &ApplicationStore{
		api:     api,
		config:  config,
		pager:   newPager(),
		factory: func() *Application { return &Application{} },
	}
}

// SetFactory replaces the entity factory used by Instantiate, allowing a
// consumer to construct an extended Application type.
func (s *ApplicationStore) SetFactory(factory func() *Application) {
	if factory != nil {
		s.factory = factory
	}
}

// Instantiate constructs a new blank, unattached Application.
func (s *ApplicationStore) Instantiate() *Application {
	return s.factory()
}

// EnsureInitialized creates or extends the applications and redirects
// tables. Idempotent; must complete before any other operation.
func (s *ApplicationStore) EnsureInitialized(ctx context.Context) error {
	if err := ensureTable(ctx, s.api, s.config, applicationsSchema(s.config)); err != nil {
		return err
	}
	return ensureTable(ctx, s.api, s.config, applicationRedirectsSchema(s.config))
}

// Count returns the backend's approximate item count.
func (s *ApplicationStore) Count(ctx context.Context) (int64, error) {
	return tableCount(ctx, s.api, s.config.ApplicationsTable)
}

// Create writes the primary row, then the redirect rows. The two steps are
// not atomic: a crash in between leaves the rows stale until the next
// successful update replaces them.
func (s *ApplicationStore) Create(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("%w: application is nil", ErrInvalidArgument)
	}
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.ConcurrencyToken == "" {
		app.ConcurrencyToken = newConcurrencyToken()
	}

	if err := putItem(ctx, s.api, s.config.ApplicationsTable, app); err != nil {
		return err
	}
	return s.writeRedirects(ctx, app)
}

// Update replaces the primary row conditional on the caller's concurrency
// token, then replaces the redirect rows wholesale.
func (s *ApplicationStore) Update(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("%w: application is nil", ErrInvalidArgument)
	}
	if app.ID == "" {
		return fmt.Errorf("%w: application has no identifier", ErrInvalidArgument)
	}

	current, err := getByID[Application](ctx, s.api, s.config.ApplicationsTable, app.ID)
	if err != nil {
		return err
	}
	if current == nil || current.ConcurrencyToken != app.ConcurrencyToken {
		return ErrConcurrencyConflict
	}

	expected := app.ConcurrencyToken
	app.ConcurrencyToken = newConcurrencyToken()
	if err := putItemExpectingToken(ctx, s.api, s.config.ApplicationsTable, app, expected); err != nil {
		app.ConcurrencyToken = expected
		return err
	}

	return s.replaceRedirects(ctx, app)
}

// Delete removes the primary row. Redirect rows and dependent entities are
// not cascaded; see the stream cleanup handler.
func (s *ApplicationStore) Delete(ctx context.Context, app *Application) error {
	if app == nil {
		return fmt.Errorf("%w: application is nil", ErrInvalidArgument)
	}
	return deleteByID(ctx, s.api, s.config.ApplicationsTable, app.ID)
}

// FindByID returns the application with the given identifier, with its
// redirect URIs rehydrated from the redirects table, or nil when absent.
func (s *ApplicationStore) FindByID(ctx context.Context, id string) (*Application, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: identifier is empty", ErrInvalidArgument)
	}

	app, err := getByID[Application](ctx, s.api, s.config.ApplicationsTable, id)
	if err != nil || app == nil {
		return nil, err
	}
	if err := s.loadRedirects(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// FindByClientID returns the application registered under the given client
// identifier, or nil when absent.
func (s *ApplicationStore) FindByClientID(ctx context.Context, clientID string) (*Application, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client identifier is empty", ErrInvalidArgument)
	}

	app, err := queryIndexFirst[Application](ctx, s.api, s.config.ApplicationsTable, clientIDIndex, "ClientId", clientID)
	if err != nil || app == nil {
		return nil, err
	}
	if err := s.loadRedirects(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// FindByRedirectURI returns the applications that registered the URI as an
// ordinary redirect.
func (s *ApplicationStore) FindByRedirectURI(ctx context.Context, uri string) ([]*Application, error) {
	return s.findByRedirect(ctx, uri, redirectTypeRedirect)
}

// FindByPostLogoutRedirectURI returns the applications that registered the
// URI as a post-logout redirect.
func (s *ApplicationStore) FindByPostLogoutRedirectURI(ctx context.Context, uri string) ([]*Application, error) {
	return s.findByRedirect(ctx, uri, redirectTypePostLogout)
}

// List returns up to count applications starting at offset. Offsets other
// than zero are only reachable by walking pages sequentially; see pager.
// Redirect URIs are not rehydrated here.
func (s *ApplicationStore) List(ctx context.Context, count, offset *int32) ([]*Application, error) {
	return listItems[Application](ctx, s.api, s.config.ApplicationsTable, s.pager, count, offset)
}

// ListWhere is unsupported: the backend has no generic predicate query.
func (s *ApplicationStore) ListWhere(ctx context.Context, predicate func(*Application) bool) ([]*Application, error) {
	return nil, fmt.Errorf("%w: arbitrary predicate queries", ErrNotSupported)
}

// DeleteRedirects removes every redirect row owned by the application.
// Used by the stream cleanup handler after the primary row is gone.
func (s *ApplicationStore) DeleteRedirects(ctx context.Context, applicationID string) error {
	if applicationID == "" {
		return fmt.Errorf("%w: application identifier is empty", ErrInvalidArgument)
	}

	rows, err := queryIndex[applicationRedirect](ctx, s.api, s.config.ApplicationRedirectsTable, applicationIDIndex, "ApplicationId", applicationID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, map[string]types.AttributeValue{
			"RedirectUri":  &types.AttributeValueMemberS{Value: row.RedirectURI},
			"RedirectType": &types.AttributeValueMemberN{Value: strconv.Itoa(row.RedirectType)},
		})
	}
	return batchDeleteKeys(ctx, s.api, s.config.ApplicationRedirectsTable, keys)
}

func (s *ApplicationStore) findByRedirect(ctx context.Context, uri string, kind int) ([]*Application, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: redirect URI is empty", ErrInvalidArgument)
	}

	rows, err := runQuery[applicationRedirect](ctx, s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.ApplicationRedirectsTable),
		KeyConditionExpression: aws.String("RedirectUri = :uri AND RedirectType = :kind"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri":  &types.AttributeValueMemberS{Value: uri},
			":kind": &types.AttributeValueMemberN{Value: strconv.Itoa(kind)},
		},
	})
	if err != nil {
		return nil, err
	}

	var apps []*Application
	for _, row := range rows {
		app, err := s.FindByID(ctx, row.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app != nil {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

// loadRedirects rehydrates the application's URI sequences from its
// relation rows. Row order is not preserved by the backend, so the
// sequences come back sorted.
func (s *ApplicationStore) loadRedirects(ctx context.Context, app *Application) error {
	rows, err := queryIndex[applicationRedirect](ctx, s.api, s.config.ApplicationRedirectsTable, applicationIDIndex, "ApplicationId", app.ID)
	if err != nil {
		return err
	}

	app.RedirectURIs = nil
	app.PostLogoutRedirectURIs = nil
	for _, row := range rows {
		switch row.RedirectType {
		case redirectTypeRedirect:
			app.RedirectURIs = append(app.RedirectURIs, row.RedirectURI)
		case redirectTypePostLogout:
			app.PostLogoutRedirectURIs = append(app.PostLogoutRedirectURIs, row.RedirectURI)
		}
	}
	sort.Strings(app.RedirectURIs)
	sort.Strings(app.PostLogoutRedirectURIs)
	return nil
}

func (s *ApplicationStore) writeRedirects(ctx context.Context, app *Application) error {
	var items []map[string]types.AttributeValue

	add := func(uri string, kind int) error {
		item, err := attributevalue.MarshalMap(applicationRedirect{
			RedirectURI:   uri,
			RedirectType:  kind,
			ApplicationID: app.ID,
		})
		if err != nil {
			return fmt.Errorf("marshal redirect row: %w", err)
		}
		items = append(items, item)
		return nil
	}

	for _, uri := range app.RedirectURIs {
		if err := add(uri, redirectTypeRedirect); err != nil {
			return err
		}
	}
	for _, uri := range app.PostLogoutRedirectURIs {
		if err := add(uri, redirectTypePostLogout); err != nil {
			return err
		}
	}
	return batchPutItems(ctx, s.api, s.config.ApplicationRedirectsTable, items)
}

// replaceRedirects deletes every existing redirect row for the application
// and recreates the set from its current sequences. A full replace costs
// extra writes but cannot leave rows behind.
func (s *ApplicationStore) replaceRedirects(ctx context.Context, app *Application) error {
	existing, err := queryIndex[applicationRedirect](ctx, s.api, s.config.ApplicationRedirectsTable, applicationIDIndex, "ApplicationId", app.ID)
	if err != nil {
		return err
	}

	keys := make([]map[string]types.AttributeValue, 0, len(existing))
	for _, row := range existing {
		keys = append(keys, map[string]types.AttributeValue{
			"RedirectUri":  &types.AttributeValueMemberS{Value: row.RedirectURI},
			"RedirectType": &types.AttributeValueMemberN{Value: strconv.Itoa(row.RedirectType)},
		})
	}
	if err := batchDeleteKeys(ctx, s.api, s.config.ApplicationRedirectsTable, keys); err != nil {
		return err
	}

	return s.writeRedirects(ctx, app)
}
