// Package model defines the core domain types for the consumption tracker.
package model

import "time"

// UnitsPerLiter converts a barrel's liter size into consumption units.
// One unit is one 0.5l pour.
const UnitsPerLiter = 2

// BarrelSizes is the fixed set of supported barrel capacities in liters.
var BarrelSizes = []int{10, 15, 20, 30, 50}

// ValidBarrelSize reports whether size is one of the supported capacities.
func ValidBarrelSize(size int) bool {
	for _, s := range BarrelSizes {
		if s == size {
			return true
		}
	}
	return false
}

// Gender partitions the leaderboard.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Barrel is a finite-capacity container of consumption units, drained FIFO
// by assignment order.
type Barrel struct {
	ID             string     `json:"id"`
	Size           int        `json:"size"`
	OrderNumber    int        `json:"order_number"`
	RemainingUnits int        `json:"remaining_units"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// TotalUnits returns the barrel's full capacity in consumption units.
func (b *Barrel) TotalUnits() int {
	return b.Size * UnitsPerLiter
}

// IsEmpty returns true when no units remain.
func (b *Barrel) IsEmpty() bool {
	return b.RemainingUnits <= 0
}

// Participant is a person whose consumption is tracked across events.
// TotalUnits is a cached projection of the ledger and is rebuildable from it.
type Participant struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Gender         Gender     `json:"gender"`
	TotalUnits     int        `json:"total_units"`
	LastConsumedAt *time.Time `json:"last_consumed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Event is a time-boxed scope for leaderboard ranking. At most one event is
// active system-wide at any moment.
type Event struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Entry is a single consumption record. EventID is nil for consumption
// recorded outside any event; BarrelID is nil when no barrel had capacity at
// record time. Spilled entries occupy barrel capacity but do not count toward
// rankings.
type Entry struct {
	ID            string     `json:"id"`
	EventID       *string    `json:"event_id,omitempty"`
	ParticipantID string     `json:"participant_id"`
	BarrelID      *string    `json:"barrel_id,omitempty"`
	ConsumedAt    time.Time  `json:"consumed_at"`
	Spilled       bool       `json:"spilled"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// ─── Derived views ────────────────────────────────────────────────────────────

// LeaderboardRow is one participant's standing within an event.
type LeaderboardRow struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Units         int    `json:"units"`
	SpilledUnits  int    `json:"spilled_units"`
}

// LeaderboardView is the gender-partitioned ranking for one event.
// Rows are sorted by non-spilled units descending; ties rank the participant
// whose first consumption came earlier ahead, with participant id as the
// final deterministic key.
type LeaderboardView struct {
	EventID string           `json:"event_id"`
	Males   []LeaderboardRow `json:"males"`
	Females []LeaderboardRow `json:"females"`
}

// TopParticipant is a capped leaderboard excerpt used on dashboards.
type TopParticipant struct {
	Name  string `json:"name"`
	Units int    `json:"units"`
}

// DashboardView carries the KPI block, either event-scoped or system-wide.
type DashboardView struct {
	EventID             *string          `json:"event_id,omitempty"`
	TotalUnits          int              `json:"total_units"`
	TotalParticipants   int              `json:"total_participants"`
	TotalBarrels        int              `json:"total_barrels"`
	AverageUnits        float64          `json:"average_units_per_participant"`
	TopParticipants     []TopParticipant `json:"top_participants"`
	BarrelSizeHistogram map[int]int      `json:"barrel_size_histogram"`
}

// PublicStats is the unauthenticated-safe projection of the dashboard:
// display names only, top list capped.
type PublicStats struct {
	TotalUnits        int              `json:"total_units"`
	TotalParticipants int              `json:"total_participants"`
	TopParticipants   []TopParticipant `json:"top_participants"`
}

// Update is the payload pushed to live subscribers after every mutation.
type Update struct {
	Leaderboard LeaderboardView `json:"leaderboard"`
	Dashboard   DashboardView   `json:"dashboard"`
}

// ─── Request payloads ─────────────────────────────────────────────────────────

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name string `json:"name"`
}

// CreateParticipantRequest is the payload for registering a participant.
type CreateParticipantRequest struct {
	Name   string `json:"name"`
	Gender Gender `json:"gender"`
}

// CreateBarrelRequest is the payload for tapping a new barrel.
type CreateBarrelRequest struct {
	Size int `json:"size"`
}

// AddConsumptionRequest is the payload for recording one consumption unit.
type AddConsumptionRequest struct {
	Spilled bool `json:"spilled"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
