/*
Package safe implements the reconciliation workflows for the reception
safe and till.

PURPOSE:
  Each business operation (deposit, withdrawal, bank transfer, note
  exchange, opening, reset, reconcile, keycard return) validates caller
  input, assembles an ordered saga over the ledger and the dependent
  counters, and executes it. Money and keycards must never be lost or
  double-counted even when a multi-step update partially fails.

FAILURE SEMANTICS:
  A failing step aborts the remaining steps and triggers the saga's
  reverse-order compensation; the caller receives the original error and
  is expected to surface a notification. Nothing is retried here.

SEE ALSO:
  - workflows.go: The workflow methods and their step lists
  - watcher.go: Subscription-driven timeline cache
  - ledger/saga.go: The compensation contract
*/
package safe

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/almhof/reception-engine/ledger"
)

// =============================================================================
// SERVICE - Workflow dependencies
// =============================================================================

// Service drives the reconciliation workflows. All dependencies are
// interfaces so tests run against the in-memory store.
type Service struct {
	Log      ledger.EventLog
	Keycards ledger.KeycardCounter
	Till     ledger.TillCounter
	Drawer   ledger.DrawerLog
	Audit    ledger.AuditLog

	Now    func() time.Time
	Logger *zap.Logger
}

func NewService(log ledger.EventLog, keycards ledger.KeycardCounter, till ledger.TillCounter, drawer ledger.DrawerLog, audit ledger.AuditLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Log:      log,
		Keycards: keycards,
		Till:     till,
		Drawer:   drawer,
		Audit:    audit,
		Now:      time.Now,
		Logger:   logger,
	}
}

// =============================================================================
// BALANCE QUERIES
// =============================================================================

// CurrentBalance reconstructs the timeline from the full event set and
// returns the balance as of now.
func (s *Service) CurrentBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.BalanceAt(ctx, s.Now())
}

// BalanceAt reconstructs the timeline and returns the balance as of at.
func (s *Service) BalanceAt(ctx context.Context, at time.Time) (decimal.Decimal, error) {
	events, err := s.Log.Events(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.BuildTimeline(events).BalanceAt(at), nil
}

// Timeline reconstructs the full balance timeline.
func (s *Service) Timeline(ctx context.Context) (ledger.Timeline, error) {
	events, err := s.Log.Events(ctx)
	if err != nil {
		return ledger.Timeline{}, err
	}
	return ledger.BuildTimeline(events), nil
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (s *Service) stamp() string {
	return s.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Service) run(ctx context.Context, name string, steps []ledger.Step) error {
	return ledger.NewSaga(name, steps...).WithLogger(s.Logger).Execute(ctx)
}

// keycardStep adjusts the safe keycard counter via the store's single-path
// atomic update, undoing the adjustment on rollback.
func (s *Service) keycardStep(delta int) ledger.Step {
	return ledger.Step{
		Name: "adjust-safe-keycards",
		Run: func(ctx context.Context) error {
			_, err := s.Keycards.AtomicUpdate(ctx, func(n int) int { return n + delta })
			return err
		},
		Rollback: func(ctx context.Context) error {
			_, err := s.Keycards.AtomicUpdate(ctx, func(n int) int { return n - delta })
			return err
		},
	}
}

// compensateAppend appends an event reversing an earlier append. The
// compensating write is itself best-effort: if it fails the saga logs and
// moves on.
func (s *Service) compensateAppend(ctx context.Context, e ledger.Event) error {
	e.Timestamp = s.stamp()
	_, err := s.Log.Append(ctx, e)
	return err
}
