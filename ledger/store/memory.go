/*
Package store provides in-memory implementations of the ledger interfaces.

Used by tests and for dev runs without a database. Subscription semantics
match the backing store contract: every write re-delivers the full event
set, and subscribers that lag only ever see the latest snapshot.
*/
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/almhof/reception-engine/ledger"
)

// =============================================================================
// MEMORY - In-memory event log, counters, drawer and audit
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	events       []ledger.Event
	drawer       []ledger.DrawerEntry
	audit        []ledger.AuditEntry
	safeKeycards int
	tillKeycards int

	subs    map[int]chan []ledger.Event
	nextSub int
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[int]chan []ledger.Event)}
}

// =============================================================================
// EVENT LOG
// =============================================================================

// Append validates and stores an event, then re-delivers the full set to
// all subscribers. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.events = append(m.events, e)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(snapshot)
	return e.ID, nil
}

func (m *Memory) Events(_ context.Context) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(), nil
}

func (m *Memory) SubscribeAll(_ context.Context) (<-chan []ledger.Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan []ledger.Event, 1)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (m *Memory) snapshotLocked() []ledger.Event {
	out := make([]ledger.Event, len(m.events))
	copy(out, m.events)
	return out
}

// publish delivers the snapshot to every subscriber. A slow subscriber's
// stale snapshot is replaced rather than blocking the writer.
func (m *Memory) publish(snapshot []ledger.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// =============================================================================
// KEYCARD COUNTERS
// =============================================================================

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.safeKeycards, nil
}

// AtomicUpdate applies update under the store lock, mirroring the backing
// store's single-path read-modify-write primitive.
func (m *Memory) AtomicUpdate(_ context.Context, update func(int) int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safeKeycards = update(m.safeKeycards)
	return m.safeKeycards, nil
}

func (m *Memory) Keycards(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tillKeycards, nil
}

func (m *Memory) AddKeycards(_ context.Context, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tillKeycards += delta
	return m.tillKeycards, nil
}

// =============================================================================
// DRAWER LOG
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, entry ledger.DrawerEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawer = append(m.drawer, entry)
	return entry.ID, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, entry := range m.drawer {
		if entry.ID == id {
			m.drawer = append(m.drawer[:i], m.drawer[i+1:]...)
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *Memory) Entries(_ context.Context) ([]ledger.DrawerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.DrawerEntry, len(m.drawer))
	copy(out, m.drawer)
	return out, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.AuditEntry
	for _, entry := range m.audit {
		if filter.Actor != nil && entry.Actor != *filter.Actor {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, entry.Action) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func containsAction(actions []ledger.AuditAction, a ledger.AuditAction) bool {
	for _, action := range actions {
		if action == a {
			return true
		}
	}
	return false
}

// =============================================================================
// INTERFACE ADAPTERS
// =============================================================================
// Memory implements every store-side concern in one struct; the adapters
// below carve it into the narrow interfaces workflows depend on, so a test
// can still swap in a failing fake for a single concern.

type memoryDrawer struct{ *Memory }

func (d memoryDrawer) Append(ctx context.Context, entry ledger.DrawerEntry) (string, error) {
	return d.AppendEntry(ctx, entry)
}

// Drawer returns the Memory as a ledger.DrawerLog.
func (m *Memory) Drawer() ledger.DrawerLog { return memoryDrawer{m} }

type memoryAudit struct{ *Memory }

func (a memoryAudit) Append(ctx context.Context, entry ledger.AuditEntry) error {
	return a.AppendAudit(ctx, entry)
}

func (a memoryAudit) Query(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return a.QueryAudit(ctx, filter)
}

// AuditTrail returns the Memory as a ledger.AuditLog.
func (m *Memory) AuditTrail() ledger.AuditLog { return memoryAudit{m} }
