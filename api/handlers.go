/*
handlers.go - HTTP handlers for the reception back office

PURPOSE:
  Exposes the safe workflows, balance queries and the room booking grid
  over REST. Handles HTTP request/response, JSON serialization and input
  validation, and delegates to domain logic.

ENDPOINTS:
  Safe workflows:
    POST /api/safe/deposits           Record a deposit
    POST /api/safe/withdrawals        Record a withdrawal
    POST /api/safe/petty-withdrawals  Record a petty-cash withdrawal
    POST /api/safe/bank-deposits      Record cash sent to the bank
    POST /api/safe/bank-withdrawals   Record cash fetched from the bank
    POST /api/safe/exchanges          Swap notes drawer <-> safe
    POST /api/safe/openings           Declare the counted opening state
    POST /api/safe/resets             Overwrite the safe state
    POST /api/safe/reconciliations    Count against the reconstructed balance
    POST /api/safe/keycard-returns    Move keycards till -> safe

  Safe queries:
    GET  /api/safe/balance            Current (or ?at=) balance
    GET  /api/safe/timeline           Full running-balance timeline
    GET  /api/safe/events             Full event set
    GET  /api/safe/counters           Keycard counters

  Bookings:
    POST /api/bookings                Create/update a booking
    GET  /api/bookings                List bookings
    GET  /api/rooms/{id}/lanes        Packed bed lanes for a room

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Insufficient funds (message passed through verbatim)
  - 500: Store failures, surfaced as a generic per-operation message

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/almhof/reception-engine/ledger"
	"github.com/almhof/reception-engine/rooms"
	"github.com/almhof/reception-engine/safe"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Safe     *safe.Service
	Watch    *safe.Watcher
	Bookings rooms.Store
	BedCount int

	logger   *zap.Logger
	validate *validator.Validate
}

// NewHandler creates a handler. watch may be nil; balance queries then
// reconstruct from the store on every request.
func NewHandler(service *safe.Service, watch *safe.Watcher, bookings rooms.Store, bedCount int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Safe:     service,
		Watch:    watch,
		Bookings: bookings,
		BedCount: bedCount,
		logger:   logger,
		validate: validator.New(),
	}
}

// =============================================================================
// SAFE WORKFLOW HANDLERS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := h.Safe.Deposit(r.Context(), safe.DepositInput{
		User:         req.User,
		Amount:       amount,
		Breakdown:    ledger.Breakdown(req.Breakdown),
		KeycardDelta: req.KeycardDelta,
	})
	h.finishWorkflow(w, "deposit", err)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.handleWithdraw(w, r, "withdrawal", h.Safe.Withdraw)
}

func (h *Handler) PettyWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleWithdraw(w, r, "petty withdrawal", h.Safe.PettyWithdraw)
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request, op string, workflow func(context.Context, safe.WithdrawInput) error) {
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := workflow(r.Context(), safe.WithdrawInput{
		User:             req.User,
		Amount:           amount,
		Breakdown:        ledger.Breakdown(req.Breakdown),
		SkipBalanceCheck: req.SkipBalanceCheck,
	})
	h.finishWorkflow(w, op, err)
}

func (h *Handler) BankDeposit(w http.ResponseWriter, r *http.Request) {
	h.handleBank(w, r, "bank deposit", h.Safe.BankDeposit)
}

func (h *Handler) BankWithdraw(w http.ResponseWriter, r *http.Request) {
	h.handleBank(w, r, "bank withdrawal", h.Safe.BankWithdraw)
}

func (h *Handler) handleBank(w http.ResponseWriter, r *http.Request, op string, workflow func(context.Context, safe.BankInput) error) {
	var req BankRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := workflow(r.Context(), safe.BankInput{
		User:         req.User,
		Amount:       amount,
		KeycardDelta: req.KeycardDelta,
	})
	h.finishWorkflow(w, op, err)
}

func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	err := h.Safe.Exchange(r.Context(), safe.ExchangeInput{
		User:      req.User,
		Amount:    amount,
		Direction: ledger.Direction(req.Direction),
		Incoming:  ledger.Breakdown(req.Incoming),
		Outgoing:  ledger.Breakdown(req.Outgoing),
	})
	h.finishWorkflow(w, "exchange", err)
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	h.handleAnchor(w, r, "opening", h.Safe.Open)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.handleAnchor(w, r, "safe reset", h.Safe.Reset)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.handleAnchor(w, r, "reconciliation", h.Safe.Reconcile)
}

func (h *Handler) handleAnchor(w http.ResponseWriter, r *http.Request, op string, workflow func(context.Context, safe.AnchorInput) error) {
	var req AnchorRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, err := decimal.NewFromString(req.Count)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid count: "+req.Count, nil)
		return
	}
	err = workflow(r.Context(), safe.AnchorInput{
		User:     req.User,
		Count:    count,
		Keycards: req.Keycards,
	})
	h.finishWorkflow(w, op, err)
}

func (h *Handler) KeycardReturn(w http.ResponseWriter, r *http.Request) {
	var req KeycardReturnRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.Safe.KeycardReturn(r.Context(), safe.KeycardReturnInput{
		User:  req.User,
		Count: req.Count,
	})
	h.finishWorkflow(w, "keycard return", err)
}

// =============================================================================
// SAFE QUERY HANDLERS
// =============================================================================

// GetBalance answers the current balance, or the balance as of ?at=
// (RFC3339).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'at' timestamp: "+raw, nil)
			return
		}
		at = parsed
	}

	var balance decimal.Decimal
	if h.Watch != nil {
		balance = h.Watch.BalanceAt(at)
	} else {
		var err error
		balance, err = h.Safe.BalanceAt(r.Context(), at)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute balance", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		Balance: balance.String(),
		AsOf:    at.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	var timeline ledger.Timeline
	if h.Watch != nil {
		timeline = h.Watch.Timeline()
	} else {
		var err error
		timeline, err = h.Safe.Timeline(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute timeline", err)
			return
		}
	}

	points := make([]TimelinePointDTO, len(timeline.Points))
	for i, p := range timeline.Points {
		points[i] = TimelinePointDTO{At: p.At, Balance: p.Balance.String()}
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Safe.Log.Events(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = eventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCounters(w http.ResponseWriter, r *http.Request) {
	safeCount, err := h.Safe.Keycards.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read counters", err)
		return
	}
	tillCount, err := h.Safe.Till.Keycards(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read counters", err)
		return
	}
	writeJSON(w, http.StatusOK, CountersDTO{SafeKeycards: safeCount, TillKeycards: tillCount})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start date: "+req.Start, nil)
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end date: "+req.End, nil)
		return
	}
	if !start.Before(end) {
		writeError(w, http.StatusBadRequest, "end date must be after start date", nil)
		return
	}

	booking := rooms.Booking{
		ID:        req.ID,
		RoomID:    req.RoomID,
		GuestID:   req.GuestID,
		GuestName: req.GuestName,
		Status:    req.Status,
		Start:     start,
		End:       end,
	}
	id, err := h.Bookings.Save(r.Context(), booking)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save booking", err)
		return
	}
	booking.ID = id
	writeJSON(w, http.StatusCreated, bookingDTO(booking))
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Bookings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bookings", err)
		return
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = bookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRoomLanes packs a room's bookings into bed lanes.
func (h *Handler) GetRoomLanes(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	bookings, err := h.Bookings.ByRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load bookings", err)
		return
	}

	lanes := rooms.PackLanes(bookings, h.BedCount, h.logger)
	dtos := make([]LaneDTO, len(lanes))
	for i, l := range lanes {
		dtos[i] = laneDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// decode parses and validates the request body. Returns false after
// writing the error response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}

func (h *Handler) parseAmount(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount: "+raw, nil)
		return decimal.Zero, false
	}
	return amount, true
}

// finishWorkflow maps workflow results onto HTTP. Insufficient-funds
// messages pass through verbatim; other store failures get a generic
// per-operation message.
func (h *Handler) finishWorkflow(w http.ResponseWriter, op string, err error) {
	if err == nil {
		writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
		return
	}

	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		writeError(w, http.StatusConflict, insufficient.Error(), nil)
		return
	}
	if ledger.IsClientError(err) {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	h.logger.Error("workflow failed", zap.String("operation", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Failed to record "+op, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]string{"error": message}
	if err != nil && status >= 500 {
		body["detail"] = err.Error()
	}
	writeJSON(w, status, body)
}
