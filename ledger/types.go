/*
Package ledger provides the core safe/till accounting engine.

PURPOSE:
  This package contains the domain-agnostic machinery behind the reception
  back office: an append-only log of financial events, balance
  reconstruction by replay, and a saga executor for multi-step writes
  against a store that only guarantees single-path atomicity.

KEY CONCEPTS IN THIS FILE (types.go):
  - Event: An immutable ledger entry recording one financial occurrence
  - EventType: deposit, withdrawal, exchange, anchors (opening/reset/reconcile)
  - Breakdown: denomination -> note count, used for till reconciliation
  - DrawerEntry / AuditEntry: dependent records written alongside events

DESIGN PRINCIPLES:
  1. Immutability: Events are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Replay: Balance is always derived from events, never stored
  4. Attribution: Every event carries the operator who caused it

SEE ALSO:
  - timeline.go: Balance reconstruction from events
  - log.go: Append-only log and counter interfaces
  - saga.go: Multi-step execution with compensation
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

type EventType string

const (
	EventDeposit         EventType = "deposit"
	EventWithdrawal      EventType = "withdrawal"
	EventPettyWithdrawal EventType = "pettyWithdrawal"
	EventExchange        EventType = "exchange"
	EventBankDeposit     EventType = "bankDeposit"
	EventBankWithdrawal  EventType = "bankWithdrawal"
	EventOpening         EventType = "opening"
	EventSafeReset       EventType = "safeReset"
	EventReconcile       EventType = "reconcile"
)

// IsAnchor reports whether this event type replaces the running balance
// with its counted value instead of adjusting it.
func (t EventType) IsAnchor() bool {
	return t == EventOpening || t == EventSafeReset || t == EventReconcile
}

// IsMoney reports whether this event type carries an Amount.
func (t EventType) IsMoney() bool {
	switch t {
	case EventDeposit, EventWithdrawal, EventPettyWithdrawal,
		EventExchange, EventBankDeposit, EventBankWithdrawal:
		return true
	}
	return false
}

func (t EventType) Known() bool {
	return t.IsMoney() || t.IsAnchor()
}

// Direction of an exchange between the cash drawer and the safe.
type Direction string

const (
	DrawerToSafe Direction = "drawerToSafe"
	SafeToDrawer Direction = "safeToDrawer"
)

// Flip returns the opposite direction, used when compensating an exchange.
func (d Direction) Flip() Direction {
	if d == DrawerToSafe {
		return SafeToDrawer
	}
	return DrawerToSafe
}

// =============================================================================
// DENOMINATION BREAKDOWN
// =============================================================================

// Breakdown maps a denomination (as a decimal string, e.g. "50" or "0.5")
// to the number of notes/coins of that denomination.
type Breakdown map[string]int

// Total sums denomination * count. Unparseable denominations contribute
// zero; Validate rejects them before a breakdown is trusted.
func (b Breakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for denom, count := range b {
		d, err := decimal.NewFromString(denom)
		if err != nil {
			continue
		}
		total = total.Add(d.Mul(decimal.NewFromInt(int64(count))))
	}
	return total
}

// Validate checks every denomination parses and no count is negative.
func (b Breakdown) Validate() error {
	for denom, count := range b {
		if _, err := decimal.NewFromString(denom); err != nil {
			return &SchemaError{Field: "denomBreakdown", Reason: "unparseable denomination " + denom}
		}
		if count < 0 {
			return &SchemaError{Field: "denomBreakdown", Reason: "negative count for denomination " + denom}
		}
	}
	return nil
}

// ExchangeBreakdown pairs the notes handed over with the notes received.
type ExchangeBreakdown struct {
	Incoming Breakdown `json:"incoming"`
	Outgoing Breakdown `json:"outgoing"`
}

// =============================================================================
// EVENT - Immutable ledger record
// =============================================================================

// Event is one immutable record in the safe ledger. Once appended it is
// never modified; corrections are made by appending compensating events.
type Event struct {
	ID   string
	User string

	// Timestamp is the ISO-8601 stamp as recorded. It defines replay order
	// but is not guaranteed unique or strictly monotonic (clock skew and
	// operator input error are tolerated).
	Timestamp string

	Type EventType

	// Amount is set for money events and is strictly positive.
	Amount decimal.Decimal

	// Count is set for anchor events: the counted value that replaces the
	// running balance.
	Count decimal.Decimal

	// Difference is set for reconcile events: counted minus expected.
	Difference decimal.Decimal

	// Optional concurrent keycard-count side effect.
	KeycardCount      *int
	KeycardDifference *int

	// Direction is set for exchange events.
	Direction Direction

	Breakdown Breakdown
	Exchange  *ExchangeBreakdown
}

// When parses the event timestamp. The second return is false when the
// stamp is malformed; callers fall back to arrival order.
func (e Event) When() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, e.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Validate checks the record shape. Values read from the backing store are
// validated before being trusted; a failing value is treated as absent
// rather than crashing the reader.
func (e Event) Validate() error {
	if !e.Type.Known() {
		return &SchemaError{Field: "type", Reason: "unknown event type " + string(e.Type)}
	}
	if e.User == "" {
		return &SchemaError{Field: "user", Reason: "missing operator attribution"}
	}
	if e.Timestamp == "" {
		return &SchemaError{Field: "timestamp", Reason: "missing timestamp"}
	}
	if e.Type.IsMoney() && !e.Amount.IsPositive() {
		return &SchemaError{Field: "amount", Reason: "amount must be strictly positive"}
	}
	if e.Type.IsAnchor() && e.Count.IsNegative() {
		return &SchemaError{Field: "count", Reason: "counted value cannot be negative"}
	}
	if e.Type == EventExchange {
		if e.Direction != DrawerToSafe && e.Direction != SafeToDrawer {
			return &SchemaError{Field: "direction", Reason: "exchange requires a direction"}
		}
		if e.Exchange != nil {
			if err := e.Exchange.Incoming.Validate(); err != nil {
				return err
			}
			if err := e.Exchange.Outgoing.Validate(); err != nil {
				return err
			}
		}
	} else if e.Breakdown != nil {
		if err := e.Breakdown.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// DRAWER ENTRIES - Float and cash-count records kept next to the ledger
// =============================================================================

type EntryKind string

const (
	EntryFloat     EntryKind = "float"     // notes in the drawer float
	EntryCashCount EntryKind = "cashCount" // notes counted into the safe
)

// DrawerEntry is a dependent record written by workflows alongside ledger
// events. Unlike events, drawer entries are working state: a compensation
// may remove one.
type DrawerEntry struct {
	ID        string
	User      string
	Timestamp string
	Kind      EntryKind
	Amount    decimal.Decimal
	Breakdown Breakdown
}

// =============================================================================
// AUDIT - Who did what, kept separate from the financial ledger
// =============================================================================

type AuditAction string

const (
	AuditKeycardTransfer AuditAction = "keycard_transfer"
	AuditSafeOpened      AuditAction = "safe_opened"
	AuditSafeReset       AuditAction = "safe_reset"
	AuditReconciled      AuditAction = "reconciled"
)

// AuditEntry records an operator action. Audit records are append-only and
// are never rolled back by a compensation.
type AuditEntry struct {
	ID        string
	Actor     string
	Timestamp string
	Action    AuditAction
	Payload   map[string]any
}
