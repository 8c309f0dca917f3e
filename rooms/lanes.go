/*
Package rooms packs overlapping booking intervals into bed lanes for the
reception booking grid.

PURPOSE:
  A room has a fixed number of beds. Each booking occupies one bed for a
  half-open date range; overlapping bookings must land on different beds.
  When more bookings overlap than the room has beds, extra "overbooked"
  lanes are created so the room is presented as oversold instead of a
  booking silently disappearing.

ALGORITHM:
  Greedy first-fit: bookings sorted by start date are placed into the
  first existing lane whose intervals they don't overlap, else a new lane
  is created. This is interval-graph coloring by first-fit, not an optimal
  minimum-lane packing; it is intentionally greedy for determinism.
  Pathological interval patterns may use more lanes than the theoretical
  minimum.
*/
package rooms

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TYPES
// =============================================================================

// Booking is one guest stay: a half-open [Start, End) date interval.
type Booking struct {
	ID        string
	RoomID    string
	GuestID   string
	GuestName string
	Status    string
	Start     time.Time
	End       time.Time
}

// Lane is one display slot of a room's booking grid, holding non-
// overlapping bookings. Lanes are recomputed per query, never persisted.
type Lane struct {
	ID         string
	Title      string
	Overbooked bool

	// Displayed date span, extended to cover every booking in the lane.
	Start time.Time
	End   time.Time

	Bookings []Booking
}

// =============================================================================
// PACKING
// =============================================================================

// PackLanes assigns bookings to lanes for a room with bedCount beds.
// Bookings missing a start or end date are logged and skipped; this is a
// data-quality guard, not a business rule.
func PackLanes(bookings []Booking, bedCount int, logger *zap.Logger) []Lane {
	if logger == nil {
		logger = zap.NewNop()
	}

	valid := make([]Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Start.IsZero() || b.End.IsZero() {
			logger.Warn("booking missing dates, skipped",
				zap.String("booking", b.ID),
				zap.String("room", b.RoomID))
			continue
		}
		valid = append(valid, b)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	var lanes []Lane
placing:
	for _, b := range valid {
		// First lane in creation order whose bookings all miss this one.
		for i := range lanes {
			if laneAccepts(&lanes[i], b) {
				place(&lanes[i], b)
				continue placing
			}
		}
		lanes = append(lanes, newLane(len(lanes), bedCount, b))
	}
	return lanes
}

func laneAccepts(lane *Lane, b Booking) bool {
	for _, other := range lane.Bookings {
		if overlaps(b.Start, b.End, other.Start, other.End) {
			return false
		}
	}
	return true
}

// overlaps is the half-open interval test.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func place(lane *Lane, b Booking) {
	lane.Bookings = append(lane.Bookings, b)
	if b.Start.Before(lane.Start) {
		lane.Start = b.Start
	}
	if b.End.After(lane.End) {
		lane.End = b.End
	}
}

func newLane(existing, bedCount int, b Booking) Lane {
	n := existing + 1
	lane := Lane{
		Start:    b.Start,
		End:      b.End,
		Bookings: []Booking{b},
	}
	if n <= bedCount {
		lane.ID = fmt.Sprintf("bed-%d", n)
		lane.Title = fmt.Sprintf("Bed %d", n)
	} else {
		over := n - bedCount
		lane.ID = fmt.Sprintf("overbooked-%d", over)
		lane.Title = fmt.Sprintf("Overbooked %d", over)
		lane.Overbooked = true
	}
	return lane
}
