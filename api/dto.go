/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract. Request types carry validator struct
  tags; handlers run the validator before touching domain logic.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route definitions
*/
package api

import (
	"time"

	"github.com/almhof/reception-engine/ledger"
	"github.com/almhof/reception-engine/rooms"
)

// =============================================================================
// SAFE WORKFLOW REQUESTS
// =============================================================================

// DepositRequest records money entering the safe.
type DepositRequest struct {
	User         string         `json:"user" validate:"required"`
	Amount       string         `json:"amount" validate:"required"`
	Breakdown    map[string]int `json:"denom_breakdown,omitempty"`
	KeycardDelta int            `json:"keycard_delta,omitempty"`
}

// WithdrawRequest records money leaving the safe. Also used for
// petty-cash withdrawals.
type WithdrawRequest struct {
	User             string         `json:"user" validate:"required"`
	Amount           string         `json:"amount" validate:"required"`
	Breakdown        map[string]int `json:"denom_breakdown,omitempty"`
	SkipBalanceCheck bool           `json:"skip_balance_check,omitempty"`
}

// BankRequest records a transfer between the safe and the bank.
type BankRequest struct {
	User         string `json:"user" validate:"required"`
	Amount       string `json:"amount" validate:"required"`
	KeycardDelta int    `json:"keycard_delta,omitempty"`
}

// ExchangeRequest swaps notes between the drawer and the safe.
type ExchangeRequest struct {
	User      string         `json:"user" validate:"required"`
	Amount    string         `json:"amount" validate:"required"`
	Direction string         `json:"direction" validate:"required,oneof=drawerToSafe safeToDrawer"`
	Incoming  map[string]int `json:"incoming" validate:"required"`
	Outgoing  map[string]int `json:"outgoing" validate:"required"`
}

// AnchorRequest declares a counted safe state (opening, reset, reconcile).
type AnchorRequest struct {
	User     string `json:"user" validate:"required"`
	Count    string `json:"count" validate:"required"`
	Keycards int    `json:"keycards" validate:"gte=0"`
}

// KeycardReturnRequest moves returned guest keycards till -> safe.
type KeycardReturnRequest struct {
	User  string `json:"user" validate:"required"`
	Count int    `json:"count" validate:"required,gt=0"`
}

// =============================================================================
// SAFE RESPONSES
// =============================================================================

type BalanceDTO struct {
	Balance string `json:"balance"`
	AsOf    string `json:"as_of"`
}

type TimelinePointDTO struct {
	At      int64  `json:"at"`
	Balance string `json:"balance"`
}

type EventDTO struct {
	ID                string         `json:"id"`
	User              string         `json:"user"`
	Timestamp         string         `json:"timestamp"`
	Type              string         `json:"type"`
	Amount            string         `json:"amount,omitempty"`
	Count             string         `json:"count,omitempty"`
	Difference        string         `json:"difference,omitempty"`
	KeycardCount      *int           `json:"keycard_count,omitempty"`
	KeycardDifference *int           `json:"keycard_difference,omitempty"`
	Direction         string         `json:"direction,omitempty"`
	Breakdown         map[string]int `json:"denom_breakdown,omitempty"`
}

type CountersDTO struct {
	SafeKeycards int `json:"safe_keycards"`
	TillKeycards int `json:"till_keycards"`
}

func eventDTO(e ledger.Event) EventDTO {
	dto := EventDTO{
		ID:                e.ID,
		User:              e.User,
		Timestamp:         e.Timestamp,
		Type:              string(e.Type),
		KeycardCount:      e.KeycardCount,
		KeycardDifference: e.KeycardDifference,
		Direction:         string(e.Direction),
		Breakdown:         e.Breakdown,
	}
	if e.Type.IsMoney() {
		dto.Amount = e.Amount.String()
	}
	if e.Type.IsAnchor() {
		dto.Count = e.Count.String()
	}
	if e.Type == ledger.EventReconcile {
		dto.Difference = e.Difference.String()
	}
	return dto
}

// =============================================================================
// BOOKINGS AND LANES
// =============================================================================

// CreateBookingRequest creates or updates a booking. Dates are
// "2006-01-02"; the range is half-open [start, end).
type CreateBookingRequest struct {
	ID        string `json:"id,omitempty"`
	RoomID    string `json:"room_id" validate:"required"`
	GuestID   string `json:"guest_id,omitempty"`
	GuestName string `json:"guest_name,omitempty"`
	Status    string `json:"status,omitempty"`
	Start     string `json:"start" validate:"required"`
	End       string `json:"end" validate:"required"`
}

type BookingDTO struct {
	ID        string `json:"id"`
	RoomID    string `json:"room_id"`
	GuestID   string `json:"guest_id,omitempty"`
	GuestName string `json:"guest_name,omitempty"`
	Status    string `json:"status,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type LaneDTO struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Overbooked bool         `json:"overbooked"`
	Start      string       `json:"start"`
	End        string       `json:"end"`
	Bookings   []BookingDTO `json:"bookings"`
}

func bookingDTO(b rooms.Booking) BookingDTO {
	return BookingDTO{
		ID:        b.ID,
		RoomID:    b.RoomID,
		GuestID:   b.GuestID,
		GuestName: b.GuestName,
		Status:    b.Status,
		Start:     formatDate(b.Start),
		End:       formatDate(b.End),
	}
}

func laneDTO(l rooms.Lane) LaneDTO {
	bookings := make([]BookingDTO, len(l.Bookings))
	for i, b := range l.Bookings {
		bookings[i] = bookingDTO(b)
	}
	return LaneDTO{
		ID:         l.ID,
		Title:      l.Title,
		Overbooked: l.Overbooked,
		Start:      formatDate(l.Start),
		End:        formatDate(l.End),
		Bookings:   bookings,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
