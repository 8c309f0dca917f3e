/*
workflows.go - One reconciliation workflow per business operation

Each workflow validates its input, then assembles an ordered saga:

  Deposit        append deposit; record cash-count entry; adjust keycards
  Withdrawal     append withdrawal; record float entry
  Petty          append pettyWithdrawal; record float entry
  Bank deposit   append bankDeposit; adjust keycards
  Bank withdraw  append bankWithdrawal
  Exchange       append exchange; record float or cash-count entry
  Open/Reset/    set keycard counter; append the anchor event
  Reconcile
  Keycard return move keycards till -> safe; audit transfer record

Compensations run in reverse completion order. Anchor appends are never
compensated: they are declarative "this is now the truth" events. The
withdrawal float entry has no compensation defined; see DESIGN.md before
"fixing" that.
*/
package safe

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/almhof/reception-engine/ledger"
)

// =============================================================================
// INPUTS
// =============================================================================

type DepositInput struct {
	User         string
	Amount       decimal.Decimal
	Breakdown    ledger.Breakdown
	KeycardDelta int
}

type WithdrawInput struct {
	User      string
	Amount    decimal.Decimal
	Breakdown ledger.Breakdown

	// SkipBalanceCheck bypasses the insufficient-funds guard, e.g. for a
	// compensating re-withdrawal where the funds are known to exist.
	SkipBalanceCheck bool
}

type BankInput struct {
	User         string
	Amount       decimal.Decimal
	KeycardDelta int
}

type ExchangeInput struct {
	User      string
	Amount    decimal.Decimal
	Direction ledger.Direction
	Incoming  ledger.Breakdown
	Outgoing  ledger.Breakdown
}

type AnchorInput struct {
	User     string
	Count    decimal.Decimal
	Keycards int
}

type KeycardReturnInput struct {
	User  string
	Count int
}

// =============================================================================
// DEPOSIT
// =============================================================================

// Deposit records money entering the safe, with an optional concurrent
// keycard-count adjustment.
func (s *Service) Deposit(ctx context.Context, in DepositInput) error {
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}

	event := ledger.Event{
		User:      in.User,
		Timestamp: s.stamp(),
		Type:      ledger.EventDeposit,
		Amount:    in.Amount,
		Breakdown: in.Breakdown,
	}
	if in.KeycardDelta != 0 {
		delta := in.KeycardDelta
		event.KeycardDifference = &delta
	}

	var entryID string
	steps := []ledger.Step{
		{
			Name: "append-deposit",
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
			Rollback: func(ctx context.Context) error {
				return s.compensateAppend(ctx, ledger.Event{
					User:      in.User,
					Type:      ledger.EventWithdrawal,
					Amount:    in.Amount,
					Breakdown: in.Breakdown,
				})
			},
		},
		{
			Name: "record-cash-count",
			Run: func(ctx context.Context) error {
				id, err := s.Drawer.Append(ctx, ledger.DrawerEntry{
					User:      in.User,
					Timestamp: event.Timestamp,
					Kind:      ledger.EntryCashCount,
					Amount:    in.Amount,
					Breakdown: in.Breakdown,
				})
				entryID = id
				return err
			},
			Rollback: func(ctx context.Context) error {
				return s.Drawer.Remove(ctx, entryID)
			},
		},
	}
	if in.KeycardDelta != 0 {
		steps = append(steps, s.keycardStep(in.KeycardDelta))
	}

	return s.run(ctx, "deposit", steps)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// Withdraw records money leaving the safe.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) error {
	return s.withdraw(ctx, "withdrawal", ledger.EventWithdrawal, in)
}

// PettyWithdraw records a petty-cash withdrawal from the safe.
func (s *Service) PettyWithdraw(ctx context.Context, in WithdrawInput) error {
	return s.withdraw(ctx, "petty-withdrawal", ledger.EventPettyWithdrawal, in)
}

func (s *Service) withdraw(ctx context.Context, name string, eventType ledger.EventType, in WithdrawInput) error {
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if !in.SkipBalanceCheck {
		if err := s.checkFunds(ctx, in.Amount); err != nil {
			return err
		}
	}

	event := ledger.Event{
		User:      in.User,
		Timestamp: s.stamp(),
		Type:      eventType,
		Amount:    in.Amount,
		Breakdown: in.Breakdown,
	}

	steps := []ledger.Step{
		{
			Name: "append-" + string(eventType),
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
			Rollback: func(ctx context.Context) error {
				return s.compensateAppend(ctx, ledger.Event{
					User:      in.User,
					Type:      ledger.EventDeposit,
					Amount:    in.Amount,
					Breakdown: in.Breakdown,
				})
			},
		},
		{
			// No compensation defined for the float write. A later step
			// failing after this one succeeds leaves the entry in place.
			Name: "record-float-entry",
			Run: func(ctx context.Context) error {
				_, err := s.Drawer.Append(ctx, ledger.DrawerEntry{
					User:      in.User,
					Timestamp: event.Timestamp,
					Kind:      ledger.EntryFloat,
					Amount:    in.Amount,
					Breakdown: in.Breakdown,
				})
				return err
			},
		},
	}

	return s.run(ctx, name, steps)
}

func (s *Service) checkFunds(ctx context.Context, amount decimal.Decimal) error {
	balance, err := s.CurrentBalance(ctx)
	if err != nil {
		return err
	}
	if amount.GreaterThan(balance) {
		return &ledger.InsufficientFundsError{Available: balance, Requested: amount}
	}
	return nil
}

// =============================================================================
// BANK TRANSFERS
// =============================================================================

// BankDeposit records cash leaving the safe for the bank.
func (s *Service) BankDeposit(ctx context.Context, in BankInput) error {
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if err := s.checkFunds(ctx, in.Amount); err != nil {
		return err
	}

	event := ledger.Event{
		User:      in.User,
		Timestamp: s.stamp(),
		Type:      ledger.EventBankDeposit,
		Amount:    in.Amount,
	}
	if in.KeycardDelta != 0 {
		delta := in.KeycardDelta
		event.KeycardDifference = &delta
	}

	steps := []ledger.Step{
		{
			Name: "append-bank-deposit",
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
			Rollback: func(ctx context.Context) error {
				return s.compensateAppend(ctx, ledger.Event{
					User:   in.User,
					Type:   ledger.EventBankWithdrawal,
					Amount: in.Amount,
				})
			},
		},
	}
	if in.KeycardDelta != 0 {
		steps = append(steps, s.keycardStep(in.KeycardDelta))
	}

	return s.run(ctx, "bank-deposit", steps)
}

// BankWithdraw records cash arriving from the bank into the safe.
func (s *Service) BankWithdraw(ctx context.Context, in BankInput) error {
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}

	event := ledger.Event{
		User:      in.User,
		Timestamp: s.stamp(),
		Type:      ledger.EventBankWithdrawal,
		Amount:    in.Amount,
	}

	return s.run(ctx, "bank-withdrawal", []ledger.Step{
		{
			Name: "append-bank-withdrawal",
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
			Rollback: func(ctx context.Context) error {
				return s.compensateAppend(ctx, ledger.Event{
					User:   in.User,
					Type:   ledger.EventBankDeposit,
					Amount: in.Amount,
				})
			},
		},
	})
}

// =============================================================================
// EXCHANGE - drawer <-> safe note swap
// =============================================================================

// Exchange swaps notes between the drawer and the safe. The safe balance
// is unchanged; only the denomination mix moves.
func (s *Service) Exchange(ctx context.Context, in ExchangeInput) error {
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if in.Direction != ledger.DrawerToSafe && in.Direction != ledger.SafeToDrawer {
		return &ledger.SchemaError{Field: "direction", Reason: "exchange requires a direction"}
	}
	incoming, outgoing := in.Incoming.Total(), in.Outgoing.Total()
	if !incoming.Equal(in.Amount) || !outgoing.Equal(in.Amount) {
		return &ledger.ExchangeMismatchError{Amount: in.Amount, Incoming: incoming, Outgoing: outgoing}
	}

	event := ledger.Event{
		User:      in.User,
		Timestamp: s.stamp(),
		Type:      ledger.EventExchange,
		Amount:    in.Amount,
		Direction: in.Direction,
		Exchange:  &ledger.ExchangeBreakdown{Incoming: in.Incoming, Outgoing: in.Outgoing},
	}

	entryKind := ledger.EntryFloat
	if in.Direction == ledger.DrawerToSafe {
		entryKind = ledger.EntryCashCount
	}

	return s.run(ctx, "exchange", []ledger.Step{
		{
			Name: "append-exchange",
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
			Rollback: func(ctx context.Context) error {
				// Reverse the swap: incoming/outgoing trade places and the
				// direction flips.
				return s.compensateAppend(ctx, ledger.Event{
					User:      in.User,
					Type:      ledger.EventExchange,
					Amount:    in.Amount,
					Direction: in.Direction.Flip(),
					Exchange:  &ledger.ExchangeBreakdown{Incoming: in.Outgoing, Outgoing: in.Incoming},
				})
			},
		},
		{
			Name: "record-" + string(entryKind),
			Run: func(ctx context.Context) error {
				_, err := s.Drawer.Append(ctx, ledger.DrawerEntry{
					User:      in.User,
					Timestamp: event.Timestamp,
					Kind:      entryKind,
					Amount:    in.Amount,
					Breakdown: in.Incoming,
				})
				return err
			},
		},
	})
}

// =============================================================================
// ANCHORS - opening, reset, reconcile
// =============================================================================

// Open records the counted opening state of the safe.
func (s *Service) Open(ctx context.Context, in AnchorInput) error {
	return s.anchor(ctx, "opening", ledger.EventOpening, ledger.AuditSafeOpened, in, nil)
}

// Reset overwrites the safe state with a fresh count.
func (s *Service) Reset(ctx context.Context, in AnchorInput) error {
	return s.anchor(ctx, "safe-reset", ledger.EventSafeReset, ledger.AuditSafeReset, in, nil)
}

// Reconcile records a counted value against the reconstructed balance and
// stores the signed difference.
func (s *Service) Reconcile(ctx context.Context, in AnchorInput) error {
	expected, err := s.CurrentBalance(ctx)
	if err != nil {
		return err
	}
	difference := in.Count.Sub(expected)
	return s.anchor(ctx, "reconcile", ledger.EventReconcile, ledger.AuditReconciled, in, &difference)
}

func (s *Service) anchor(ctx context.Context, name string, eventType ledger.EventType, action ledger.AuditAction, in AnchorInput, difference *decimal.Decimal) error {
	if in.Count.IsNegative() {
		return ledger.ErrInvalidAmount
	}
	if in.Keycards < 0 {
		return ledger.ErrInvalidAmount
	}

	keycards := in.Keycards
	event := ledger.Event{
		User:         in.User,
		Timestamp:    s.stamp(),
		Type:         eventType,
		Count:        in.Count,
		KeycardCount: &keycards,
	}
	if difference != nil {
		event.Difference = *difference
	}

	var previous int
	err := s.run(ctx, name, []ledger.Step{
		{
			Name: "set-safe-keycards",
			Run: func(ctx context.Context) error {
				_, err := s.Keycards.AtomicUpdate(ctx, func(n int) int {
					previous = n
					return in.Keycards
				})
				return err
			},
			Rollback: func(ctx context.Context) error {
				_, err := s.Keycards.AtomicUpdate(ctx, func(int) int { return previous })
				return err
			},
		},
		{
			// Anchors declare the new truth; the append is not compensated.
			Name: "append-" + string(eventType),
			Run: func(ctx context.Context) error {
				_, err := s.Log.Append(ctx, event)
				return err
			},
		},
	})
	if err != nil {
		return err
	}

	s.audit(ctx, in.User, action, map[string]any{
		"count":    in.Count.String(),
		"keycards": in.Keycards,
	})
	return nil
}

// =============================================================================
// KEYCARD RETURN - till -> safe
// =============================================================================

// KeycardReturn moves returned guest keycards from the till back into the
// safe. The till-local move is reversed only if the safe-counter update
// fails; the audit record is written after the transfer stands and is
// never rolled back.
func (s *Service) KeycardReturn(ctx context.Context, in KeycardReturnInput) error {
	if in.Count <= 0 {
		return ledger.ErrInvalidAmount
	}
	held, err := s.Till.Keycards(ctx)
	if err != nil {
		return err
	}
	if in.Count > held {
		return ledger.ErrNotEnoughKeycards
	}

	err = s.run(ctx, "keycard-return", []ledger.Step{
		{
			Name: "take-from-till",
			Run: func(ctx context.Context) error {
				_, err := s.Till.AddKeycards(ctx, -in.Count)
				return err
			},
			Rollback: func(ctx context.Context) error {
				_, err := s.Till.AddKeycards(ctx, in.Count)
				return err
			},
		},
		{
			Name: "add-to-safe",
			Run: func(ctx context.Context) error {
				_, err := s.Keycards.AtomicUpdate(ctx, func(n int) int { return n + in.Count })
				return err
			},
		},
	})
	if err != nil {
		return err
	}

	s.audit(ctx, in.User, ledger.AuditKeycardTransfer, map[string]any{
		"count": in.Count,
		"from":  "till",
		"to":    "safe",
	})
	return nil
}

// audit appends an operator-trail record best effort. Audit failures never
// unwind a completed workflow.
func (s *Service) audit(ctx context.Context, actor string, action ledger.AuditAction, payload map[string]any) {
	entry := ledger.AuditEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Timestamp: s.stamp(),
		Action:    action,
		Payload:   payload,
	}
	if err := s.Audit.Append(ctx, entry); err != nil {
		s.Logger.Error("audit append failed",
			zap.String("action", string(action)),
			zap.String("actor", actor),
			zap.Error(err))
	}
}
