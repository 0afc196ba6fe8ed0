// Package store implements OAuth/OpenID Connect persistence on DynamoDB.
//
// One store exists per entity kind — [ApplicationStore],
// [AuthorizationStore], [ScopeStore], [TokenStore] — each exposing the
// fixed create/read/update/delete/list/find contract the consuming
// framework needs. The backend offers only hash/range lookups and index
// scans, so everything a relational store gives for free is built by hand:
//
//   - Schema reconciliation: EnsureInitialized creates tables and adds
//     missing secondary indexes idempotently before traffic begins.
//   - Denormalized relation rows: multi-valued attributes that must be
//     looked up by value (redirect URIs, scope resources) are materialized
//     as rows in side tables, replaced wholesale on every update.
//   - Composite search keys: token lookups by client/status/type share one
//     (Subject, SearchKey) index using begins_with prefixes.
//   - Offset pagination: a process-local cache maps numeric offsets to the
//     backend's forward-only continuation tokens; pages must be walked
//     sequentially.
//   - Pruning: expired tokens and tokens of invalidated authorizations are
//     reclaimed in bulk with batch reads and batch deletes.
//
// # Concurrency
//
// Updates use optimistic concurrency: every successful write replaces the
// entity's opaque concurrency token, and an update carrying a stale token
// fails with [ErrConcurrencyConflict]. Create and Delete have no conflict
// detection. Multi-row sequences (primary row plus relation rows, batch
// delete sets) are not atomic; a crash mid-sequence leaves state that the
// next successful update reconverges.
//
// # Errors
//
// Lookup misses are (nil, nil), never an error. Nil or empty required
// inputs fail with [ErrInvalidArgument]. Operations the backend cannot
// serve fail with [ErrNotSupported]. Backend errors propagate wrapped;
// schema failures are wrapped in [SetupError] with the table name.
package store
