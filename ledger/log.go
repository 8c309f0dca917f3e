/*
log.go - Append-only event log and dependent counter interfaces

PURPOSE:
  Defines the boundary between the engine and the backing store. The store
  is an external realtime collection reached over a subscribe/push
  protocol; these interfaces express the four primitives the engine needs:

    Append       -> insert a child with a generated key (events, audit)
    Events       -> read the full current value
    SubscribeAll -> full-value snapshot on every write (duplicates tolerated)
    AtomicUpdate -> single-path read-modify-write (keycard counter only)

APPEND-ONLY CONTRACT:
  The event log has no Update and no Delete. Corrections are made by
  appending compensating events, so concurrent readers never observe a
  half-written record. Drawer entries are working state, not ledger
  history, and may be removed by a compensation.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go: Production SQLite

SEE ALSO:
  - timeline.go: Replays the event set delivered by SubscribeAll
*/
package ledger

import "context"

// =============================================================================
// EVENT LOG - Append-only, push-subscribed
// =============================================================================

// EventLog is the source of truth for the safe balance.
//
// INVARIANTS:
//   - Append-only: no Update, no Delete. Ever.
//   - Every write re-delivers the full event set to all subscribers;
//     consumers must tolerate duplicate delivery of an unchanged set.
type EventLog interface {
	// Append persists an event and returns its generated key.
	// This is the ONLY write operation.
	Append(ctx context.Context, e Event) (string, error)

	// Events returns the full current event set. Values failing schema
	// validation are skipped, not returned.
	Events(ctx context.Context) ([]Event, error)

	// SubscribeAll returns a channel receiving the full event set after
	// every write, plus a cancel function releasing the subscription.
	SubscribeAll(ctx context.Context) (<-chan []Event, func())
}

// =============================================================================
// COUNTERS - Single-path atomic state
// =============================================================================

// KeycardCounter tracks keycards held in the safe. AtomicUpdate is the one
// serialization point shared by concurrent operators; the store retries
// internally on contention.
type KeycardCounter interface {
	Count(ctx context.Context) (int, error)

	// AtomicUpdate applies update to the current count atomically and
	// returns the committed value.
	AtomicUpdate(ctx context.Context, update func(int) int) (int, error)
}

// TillCounter tracks keycards held at the till, local to the drawer.
type TillCounter interface {
	Keycards(ctx context.Context) (int, error)

	// AddKeycards adjusts the till-local count by delta and returns the
	// committed value.
	AddKeycards(ctx context.Context, delta int) (int, error)
}

// =============================================================================
// DRAWER LOG - Float and cash-count entries
// =============================================================================

// DrawerLog stores float and cash-count entries written alongside ledger
// events. Remove exists solely so compensations can undo an entry.
type DrawerLog interface {
	Append(ctx context.Context, entry DrawerEntry) (string, error)
	Remove(ctx context.Context, id string) error
	Entries(ctx context.Context) ([]DrawerEntry, error)
}

// =============================================================================
// AUDIT LOG - Append-only operator trail
// =============================================================================

// AuditLog stores audit entries. Also append-only; audit records are never
// rolled back.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	Actor   *string
	Actions []AuditAction
}
