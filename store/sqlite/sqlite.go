/*
Package sqlite is the production store for the reception engine.

PURPOSE:
  Persists ledger events, drawer entries, counters, audit records and
  bookings in a single SQLite database, and emulates the realtime store
  contract the engine was written against:

    Append       -> INSERT with a generated key
    Events       -> full table read, schema-validated row by row
    SubscribeAll -> full snapshot re-delivered after every committed write
    AtomicUpdate -> transactional read-modify-write on a counter row

SCHEMA VALIDATION:
  Rows are validated on read. A row that fails Event.Validate is logged
  and skipped rather than crashing the reader, so one corrupt record
  can't take the balance reconstruction down with it.

APPEND-ONLY:
  The events and audit tables have no UPDATE or DELETE path. Drawer
  entries are working state and may be removed by a compensation.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/almhof/reception-engine/ledger"
	"github.com/almhof/reception-engine/rooms"
)

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[int]chan []ledger.Event
	nextSub int
}

const (
	counterSafeKeycards = "safe_keycards"
	counterTillKeycards = "till_keycards"
)

func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db, logger: logger, subs: make(map[int]chan []ledger.Event)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id                 TEXT PRIMARY KEY,
			user               TEXT NOT NULL,
			ts                 TEXT NOT NULL,
			type               TEXT NOT NULL,
			amount             TEXT NOT NULL DEFAULT '0',
			count              TEXT NOT NULL DEFAULT '0',
			difference         TEXT NOT NULL DEFAULT '0',
			keycard_count      INTEGER,
			keycard_difference INTEGER,
			direction          TEXT NOT NULL DEFAULT '',
			breakdown          TEXT,
			exchange           TEXT
		);
		CREATE TABLE IF NOT EXISTS counters (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS drawer_entries (
			id        TEXT PRIMARY KEY,
			user      TEXT NOT NULL,
			ts        TEXT NOT NULL,
			kind      TEXT NOT NULL,
			amount    TEXT NOT NULL DEFAULT '0',
			breakdown TEXT
		);
		CREATE TABLE IF NOT EXISTS audit (
			id      TEXT PRIMARY KEY,
			actor   TEXT NOT NULL,
			ts      TEXT NOT NULL,
			action  TEXT NOT NULL,
			payload TEXT
		);
		CREATE TABLE IF NOT EXISTS bookings (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			guest_id   TEXT,
			guest_name TEXT,
			status     TEXT,
			start_at   TEXT,
			end_at     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_bookings_room ON bookings(room_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// EVENT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, e ledger.Event) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		return "", err
	}

	breakdown, err := marshalJSON(e.Breakdown)
	if err != nil {
		return "", err
	}
	exchange, err := marshalJSON(e.Exchange)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, user, ts, type, amount, count, difference,
			keycard_count, keycard_difference, direction, breakdown, exchange)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.User, e.Timestamp, string(e.Type),
		e.Amount.String(), e.Count.String(), e.Difference.String(),
		nullableInt(e.KeycardCount), nullableInt(e.KeycardDifference),
		string(e.Direction), breakdown, exchange)
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}

	s.notify(ctx)
	return e.ID, nil
}

func (s *Store) Events(ctx context.Context) ([]ledger.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, ts, type, amount, count, difference,
			keycard_count, keycard_difference, direction, breakdown, exchange
		FROM events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		// Schema gate: a bad row is treated as absent, not fatal.
		if err := e.Validate(); err != nil {
			s.logger.Warn("skipping invalid event row",
				zap.String("id", e.ID), zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (ledger.Event, error) {
	var (
		e                           ledger.Event
		eventType, direction        string
		amount, count, difference   string
		keycardCount, keycardDiff   sql.NullInt64
		breakdownJSON, exchangeJSON sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.User, &e.Timestamp, &eventType,
		&amount, &count, &difference, &keycardCount, &keycardDiff,
		&direction, &breakdownJSON, &exchangeJSON); err != nil {
		return ledger.Event{}, fmt.Errorf("scan event: %w", err)
	}

	e.Type = ledger.EventType(eventType)
	e.Direction = ledger.Direction(direction)
	e.Amount = parseDecimal(amount)
	e.Count = parseDecimal(count)
	e.Difference = parseDecimal(difference)
	if keycardCount.Valid {
		n := int(keycardCount.Int64)
		e.KeycardCount = &n
	}
	if keycardDiff.Valid {
		n := int(keycardDiff.Int64)
		e.KeycardDifference = &n
	}
	if breakdownJSON.Valid && breakdownJSON.String != "" {
		_ = json.Unmarshal([]byte(breakdownJSON.String), &e.Breakdown)
	}
	if exchangeJSON.Valid && exchangeJSON.String != "" {
		var ex ledger.ExchangeBreakdown
		if json.Unmarshal([]byte(exchangeJSON.String), &ex) == nil {
			e.Exchange = &ex
		}
	}
	return e, nil
}

func (s *Store) SubscribeAll(_ context.Context) (<-chan []ledger.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan []ledger.Event, 1)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// notify re-delivers the full event set to every subscriber. A slow
// subscriber's stale snapshot is replaced rather than blocking the writer.
func (s *Store) notify(ctx context.Context) {
	snapshot, err := s.Events(ctx)
	if err != nil {
		s.logger.Error("snapshot for subscribers failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
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
// COUNTERS - single-path atomic updates
// =============================================================================

func (s *Store) Count(ctx context.Context) (int, error) {
	return s.counterValue(ctx, counterSafeKeycards)
}

func (s *Store) AtomicUpdate(ctx context.Context, update func(int) int) (int, error) {
	return s.atomicCounter(ctx, counterSafeKeycards, update)
}

func (s *Store) Keycards(ctx context.Context) (int, error) {
	return s.counterValue(ctx, counterTillKeycards)
}

func (s *Store) AddKeycards(ctx context.Context, delta int) (int, error) {
	return s.atomicCounter(ctx, counterTillKeycards, func(n int) int { return n + delta })
}

func (s *Store) counterValue(ctx context.Context, name string) (int, error) {
	var value int
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return value, nil
}

// atomicCounter is the single serialization point shared by concurrent
// operators: the read-modify-write runs inside one transaction.
func (s *Store) atomicCounter(ctx context.Context, name string, update func(int) int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin counter update: %w", err)
	}
	defer tx.Rollback()

	var value int
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}

	value = update(value)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value); err != nil {
		return 0, fmt.Errorf("write counter %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter %s: %w", name, err)
	}
	return value, nil
}

// =============================================================================
// DRAWER LOG
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry ledger.DrawerEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	breakdown, err := marshalJSON(entry.Breakdown)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO drawer_entries (id, user, ts, kind, amount, breakdown)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.User, entry.Timestamp, string(entry.Kind),
		entry.Amount.String(), breakdown)
	if err != nil {
		return "", fmt.Errorf("append drawer entry: %w", err)
	}
	return entry.ID, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drawer_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove drawer entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) Entries(ctx context.Context) ([]ledger.DrawerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, ts, kind, amount, breakdown
		FROM drawer_entries ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load drawer entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.DrawerEntry
	for rows.Next() {
		var (
			entry         ledger.DrawerEntry
			kind, amount  string
			breakdownJSON sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.User, &entry.Timestamp,
			&kind, &amount, &breakdownJSON); err != nil {
			return nil, fmt.Errorf("scan drawer entry: %w", err)
		}
		entry.Kind = ledger.EntryKind(kind)
		entry.Amount = parseDecimal(amount)
		if breakdownJSON.Valid && breakdownJSON.String != "" {
			_ = json.Unmarshal([]byte(breakdownJSON.String), &entry.Breakdown)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	payload, err := marshalJSON(entry.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit (id, actor, ts, action, payload)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Timestamp, string(entry.Action), payload)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, ts, action, payload FROM audit ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			entry       ledger.AuditEntry
			action      string
			payloadJSON sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Timestamp,
			&action, &payloadJSON); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = ledger.AuditAction(action)
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &entry.Payload)
		}
		if filter.Actor != nil && entry.Actor != *filter.Actor {
			continue
		}
		if len(filter.Actions) > 0 && !matchesAction(filter.Actions, entry.Action) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func matchesAction(actions []ledger.AuditAction, a ledger.AuditAction) bool {
	for _, action := range actions {
		if action == a {
			return true
		}
	}
	return false
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (s *Store) Save(ctx context.Context, b rooms.Booking) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, room_id, guest_id, guest_name, status, start_at, end_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			room_id = excluded.room_id, guest_id = excluded.guest_id,
			guest_name = excluded.guest_name, status = excluded.status,
			start_at = excluded.start_at, end_at = excluded.end_at`,
		b.ID, b.RoomID, b.GuestID, b.GuestName, b.Status,
		formatDate(b.Start), formatDate(b.End))
	if err != nil {
		return "", fmt.Errorf("save booking: %w", err)
	}
	return b.ID, nil
}

func (s *Store) ByRoom(ctx context.Context, roomID string) ([]rooms.Booking, error) {
	return s.queryBookings(ctx,
		`SELECT id, room_id, guest_id, guest_name, status, start_at, end_at
		 FROM bookings WHERE room_id = ? ORDER BY start_at`, roomID)
}

func (s *Store) List(ctx context.Context) ([]rooms.Booking, error) {
	return s.queryBookings(ctx,
		`SELECT id, room_id, guest_id, guest_name, status, start_at, end_at
		 FROM bookings ORDER BY room_id, start_at`)
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]rooms.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}
	defer rows.Close()

	var bookings []rooms.Booking
	for rows.Next() {
		var (
			b                      rooms.Booking
			guestID, guestName     sql.NullString
			status, startAt, endAt sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.RoomID, &guestID, &guestName,
			&status, &startAt, &endAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.GuestID = guestID.String
		b.GuestName = guestName.String
		b.Status = status.String
		b.Start = parseDate(startAt.String)
		b.End = parseDate(endAt.String)
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// =============================================================================
// INTERFACE ADAPTERS
// =============================================================================

type sqliteDrawer struct{ *Store }

func (d sqliteDrawer) Append(ctx context.Context, entry ledger.DrawerEntry) (string, error) {
	return d.AppendEntry(ctx, entry)
}

// Drawer returns the Store as a ledger.DrawerLog.
func (s *Store) Drawer() ledger.DrawerLog { return sqliteDrawer{s} }

type sqliteAudit struct{ *Store }

func (a sqliteAudit) Append(ctx context.Context, entry ledger.AuditEntry) error {
	return a.AppendAudit(ctx, entry)
}

func (a sqliteAudit) Query(ctx context.Context, filter ledger.AuditFilter) ([]ledger.AuditEntry, error) {
	return a.QueryAudit(ctx, filter)
}

// AuditTrail returns the Store as a ledger.AuditLog.
func (s *Store) AuditTrail() ledger.AuditLog { return sqliteAudit{s} }

// =============================================================================
// HELPERS
// =============================================================================

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
