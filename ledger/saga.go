/*
saga.go - Ordered steps with reverse-order compensation

PURPOSE:
  The backing store only guarantees atomicity for a single path update.
  Composing a ledger append with a dependent counter write therefore has a
  window of partial failure. The saga turns that window into an explicit,
  testable compensation contract instead of scattering try/undo logic
  across call sites.

CRITICAL INVARIANTS:
  1. Steps run strictly in order; step N+1 never starts before N commits.
  2. On the first failure, completed steps are rolled back in reverse
     completion order. The failing step itself is never rolled back.
  3. A rollback that fails is logged and discarded. It never replaces the
     original error and never prevents remaining rollbacks from running.
  4. The caller receives the original failure.

STEPS ARE COMMANDS:
  Steps carry a name so a saga is inspectable and loggable independent of
  its side effects. Nothing is persisted; a saga exists only for the
  duration of one execution.

SEE ALSO:
  - safe/workflows.go: Assembles sagas for each reconciliation workflow
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// STEP - One unit of side-effecting work
// =============================================================================

// Step is a named forward action with an optional compensating action.
// Rollback == nil means the step has nothing to undo.
type Step struct {
	Name     string
	Run      func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

// =============================================================================
// SAGA - Sequential executor with best-effort compensation
// =============================================================================

type Saga struct {
	name   string
	steps  []Step
	logger *zap.Logger
}

// NewSaga creates a saga over the given ordered steps.
func NewSaga(name string, steps ...Step) *Saga {
	return &Saga{name: name, steps: steps, logger: zap.NewNop()}
}

// WithLogger sets the logger used for step and rollback failures.
func (s *Saga) WithLogger(logger *zap.Logger) *Saga {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Name returns the saga name.
func (s *Saga) Name() string { return s.name }

// Steps returns the ordered step list for inspection.
func (s *Saga) Steps() []Step { return s.steps }

// Execute runs each step in order. On the first failure it rolls back the
// completed steps in reverse order and returns the original error. A saga
// returns nothing on success; callers needing a computed balance read it
// from the ledger afterwards.
func (s *Saga) Execute(ctx context.Context) error {
	id := uuid.NewString()
	for i, step := range s.steps {
		if err := step.Run(ctx); err != nil {
			s.logger.Error("saga step failed",
				zap.String("saga", s.name),
				zap.String("saga_id", id),
				zap.String("step", step.Name),
				zap.Int("step_index", i),
				zap.Error(err))
			s.compensate(ctx, id, s.steps[:i])
			return err
		}
	}
	return nil
}

// compensate undoes completed steps in reverse completion order. Rollback
// errors are swallowed: the triggering error must not be masked, and one
// failed rollback must not block the rest.
func (s *Saga) compensate(ctx context.Context, id string, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}
		if err := step.Rollback(ctx); err != nil {
			s.logger.Error("saga rollback failed",
				zap.String("saga", s.name),
				zap.String("saga_id", id),
				zap.String("step", step.Name),
				zap.Error(err))
		}
	}
}
