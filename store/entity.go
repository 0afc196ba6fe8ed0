package store

import (
	"encoding/json"
	"time"
)

// Entity statuses as persisted on authorizations and tokens.
const (
	StatusInactive = "inactive"
	StatusRedeemed = "redeemed"
	StatusRejected = "rejected"
	StatusRevoked  = "revoked"
	StatusValid    = "valid"
)

// Token types.
const (
	TokenTypeAccessToken       = "access_token"
	TokenTypeAuthorizationCode = "authorization_code"
	TokenTypeDeviceCode        = "device_code"
	TokenTypeIDToken           = "id_token"
	TokenTypeRefreshToken      = "refresh_token"
	TokenTypeUserCode          = "user_code"
)

// Client types.
const (
	ClientTypeConfidential = "confidential"
	ClientTypePublic       = "public"
)

// Consent types.
const (
	ConsentTypeExplicit   = "explicit"
	ConsentTypeExternal   = "external"
	ConsentTypeImplicit   = "implicit"
	ConsentTypeSystematic = "systematic"
)

// Authorization types.
const (
	AuthorizationTypeAdHoc     = "ad-hoc"
	AuthorizationTypePermanent = "permanent"
)

// Redirect kinds in the application redirects table.
const (
	redirectTypeRedirect   = 0
	redirectTypePostLogout = 1
)

// Application is an OAuth/OIDC client application. RedirectURIs and
// PostLogoutRedirectURIs are persisted as rows in the redirects table,
// not on the primary row.
type Application struct {
	ID               string            `dynamodbav:"Id"`
	ClientID         string            `dynamodbav:"ClientId,omitempty"`
	ClientSecret     string            `dynamodbav:"ClientSecret,omitempty"`
	ClientType       string            `dynamodbav:"Type,omitempty"`
	ConsentType      string            `dynamodbav:"ConsentType,omitempty"`
	DisplayNames     map[string]string `dynamodbav:"DisplayNames,omitempty"`
	Permissions      []string          `dynamodbav:"Permissions,omitempty"`
	Requirements     []string          `dynamodbav:"Requirements,omitempty"`
	Properties       string            `dynamodbav:"Properties,omitempty"`
	ConcurrencyToken string            `dynamodbav:"ConcurrencyToken"`

	RedirectURIs           []string `dynamodbav:"-"`
	PostLogoutRedirectURIs []string `dynamodbav:"-"`
}

// Authorization grants a subject access through a client application.
// Tokens reference it by identifier; deleting it does not cascade.
type Authorization struct {
	ID               string   `dynamodbav:"Id"`
	ApplicationID    string   `dynamodbav:"ApplicationId,omitempty"`
	Subject          string   `dynamodbav:"Subject,omitempty"`
	Status           string   `dynamodbav:"Status,omitempty"`
	Type             string   `dynamodbav:"Type,omitempty"`
	Scopes           []string `dynamodbav:"Scopes,omitempty"`
	CreationDate     string   `dynamodbav:"CreationDate,omitempty"`
	Properties       string   `dynamodbav:"Properties,omitempty"`
	ConcurrencyToken string   `dynamodbav:"ConcurrencyToken"`
}

// Scope is a named OAuth scope. Resources are persisted as rows in the
// scope resources table, not on the primary row.
type Scope struct {
	ID               string            `dynamodbav:"Id"`
	Name             string            `dynamodbav:"ScopeName,omitempty"`
	Description      string            `dynamodbav:"Description,omitempty"`
	Descriptions     map[string]string `dynamodbav:"Descriptions,omitempty"`
	DisplayName      string            `dynamodbav:"DisplayName,omitempty"`
	DisplayNames     map[string]string `dynamodbav:"DisplayNames,omitempty"`
	Properties       string            `dynamodbav:"Properties,omitempty"`
	ConcurrencyToken string            `dynamodbav:"ConcurrencyToken"`

	Resources []string `dynamodbav:"-"`
}

// Token is an issued token or code. SearchKey is a derived attribute used
// only by the Subject-SearchKey-index; it is recomputed on every write.
type Token struct {
	ID               string `dynamodbav:"Id"`
	ApplicationID    string `dynamodbav:"ApplicationId,omitempty"`
	AuthorizationID  string `dynamodbav:"AuthorizationId,omitempty"`
	Subject          string `dynamodbav:"Subject,omitempty"`
	Type             string `dynamodbav:"Type,omitempty"`
	Status           string `dynamodbav:"Status,omitempty"`
	ReferenceID      string `dynamodbav:"ReferenceId,omitempty"`
	Payload          string `dynamodbav:"Payload,omitempty"`
	CreationDate     string `dynamodbav:"CreationDate,omitempty"`
	ExpirationDate   string `dynamodbav:"ExpirationDate,omitempty"`
	RedemptionDate   string `dynamodbav:"RedemptionDate,omitempty"`
	Properties       string `dynamodbav:"Properties,omitempty"`
	ConcurrencyToken string `dynamodbav:"ConcurrencyToken"`
	SearchKey        string `dynamodbav:"SearchKey,omitempty"`
}

// applicationRedirect is one denormalized relation row per redirect URI
// per application, keyed by the URI so it can be looked up by value.
type applicationRedirect struct {
	RedirectURI   string `dynamodbav:"RedirectUri"`
	RedirectType  int    `dynamodbav:"RedirectType"`
	ApplicationID string `dynamodbav:"ApplicationId"`
}

// scopeResource is one denormalized relation row per resource per scope.
type scopeResource struct {
	Resource string `dynamodbav:"ScopeResource"`
	ScopeID  string `dynamodbav:"ScopeId"`
}

// FormatTime renders a timestamp for storage. RFC 3339 UTC at second
// precision keeps lexicographic order chronological, which the pruning
// scan relies on.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTime parses a stored timestamp. The bool reports whether the value
// was present and well-formed.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EncodeProperties serializes a property bag into the single string column
// it is stored in. A nil or empty bag encodes to "".
func EncodeProperties(props map[string]json.RawMessage) (string, error) {
	if len(props) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeProperties parses the stored property bag column. An empty column
// decodes to an empty, non-nil map.
func DecodeProperties(s string) (map[string]json.RawMessage, error) {
	props := map[string]json.RawMessage{}
	if s == "" {
		return props, nil
	}
	if err := json.Unmarshal([]byte(s), &props); err != nil {
		return nil, err
	}
	return props, nil
}

func copyStrings(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func copyStringMap(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Collection accessors return copies and never nil, so callers can iterate
// and mutate unconditionally.

func (a *Application) GetDisplayNames() map[string]string { return copyStringMap(a.DisplayNames) }
func (a *Application) GetPermissions() []string           { return copyStrings(a.Permissions) }
func (a *Application) GetRequirements() []string          { return copyStrings(a.Requirements) }
func (a *Application) GetRedirectURIs() []string          { return copyStrings(a.RedirectURIs) }
func (a *Application) GetPostLogoutRedirectURIs() []string {
	return copyStrings(a.PostLogoutRedirectURIs)
}

func (a *Application) GetProperties() (map[string]json.RawMessage, error) {
	return DecodeProperties(a.Properties)
}

func (a *Application) SetProperties(props map[string]json.RawMessage) error {
	s, err := EncodeProperties(props)
	if err != nil {
		return err
	}
	a.Properties = s
	return nil
}

func (a *Authorization) GetScopes() []string { return copyStrings(a.Scopes) }

func (a *Authorization) GetProperties() (map[string]json.RawMessage, error) {
	return DecodeProperties(a.Properties)
}

func (a *Authorization) SetProperties(props map[string]json.RawMessage) error {
	s, err := EncodeProperties(props)
	if err != nil {
		return err
	}
	a.Properties = s
	return nil
}

// SetCreationDate stores t in the persisted timestamp format.
func (a *Authorization) SetCreationDate(t time.Time) { a.CreationDate = FormatTime(t) }

// CreatedAt parses the stored creation timestamp.
func (a *Authorization) CreatedAt() (time.Time, bool) { return ParseTime(a.CreationDate) }

func (s *Scope) GetDescriptions() map[string]string { return copyStringMap(s.Descriptions) }
func (s *Scope) GetDisplayNames() map[string]string { return copyStringMap(s.DisplayNames) }
func (s *Scope) GetResources() []string             { return copyStrings(s.Resources) }

func (s *Scope) GetProperties() (map[string]json.RawMessage, error) {
	return DecodeProperties(s.Properties)
}

func (s *Scope) SetProperties(props map[string]json.RawMessage) error {
	enc, err := EncodeProperties(props)
	if err != nil {
		return err
	}
	s.Properties = enc
	return nil
}

func (t *Token) GetProperties() (map[string]json.RawMessage, error) {
	return DecodeProperties(t.Properties)
}

func (t *Token) SetProperties(props map[string]json.RawMessage) error {
	s, err := EncodeProperties(props)
	if err != nil {
		return err
	}
	t.Properties = s
	return nil
}

func (t *Token) SetCreationDate(ts time.Time)   { t.CreationDate = FormatTime(ts) }
func (t *Token) SetExpirationDate(ts time.Time) { t.ExpirationDate = FormatTime(ts) }
func (t *Token) SetRedemptionDate(ts time.Time) { t.RedemptionDate = FormatTime(ts) }

func (t *Token) CreatedAt() (time.Time, bool)  { return ParseTime(t.CreationDate) }
func (t *Token) ExpiresAt() (time.Time, bool)  { return ParseTime(t.ExpirationDate) }
func (t *Token) RedeemedAt() (time.Time, bool) { return ParseTime(t.RedemptionDate) }
