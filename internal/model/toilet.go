package model

import "time"

// ToiletStatus is the operational status shown on the dashboard.
type ToiletStatus string

const (
	StatusAvailable   ToiletStatus = "available"
	StatusOccupied    ToiletStatus = "occupied"
	StatusMaintenance ToiletStatus = "maintenance"
)

// Valid reports whether s is a known status.
func (s ToiletStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusOccupied, StatusMaintenance:
		return true
	}
	return false
}

// Toilet represents one physical pay-per-use unit and its current session state.
type Toilet struct {
	ID                string       `gorm:"primaryKey;size:36" json:"id"`
	Name              string       `gorm:"size:128;not null" json:"name"`
	Location          *string      `gorm:"size:256" json:"location"`
	Status            ToiletStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	IsOccupied        bool         `gorm:"not null;index" json:"is_occupied"`
	OccupiedSince     *time.Time   `json:"occupied_since"`
	IsPaid            bool         `gorm:"not null" json:"is_paid"`
	LastPaymentTime   *time.Time   `json:"last_payment_time"`
	ManualOpenEnabled bool         `gorm:"not null" json:"manual_open_enabled"`

	// Revision is bumped on every write; the per-group counters only when
	// a write assigns a column of that group.
	Revision     int64 `gorm:"not null" json:"revision"`
	ProfileRev   int64 `gorm:"column:profile_rev;not null" json:"profile_rev"`
	StatusRev    int64 `gorm:"column:status_rev;not null" json:"status_rev"`
	OccupancyRev int64 `gorm:"column:occupancy_rev;not null" json:"occupancy_rev"`
	PaymentRev   int64 `gorm:"column:payment_rev;not null" json:"payment_rev"`
	OverrideRev  int64 `gorm:"column:override_rev;not null" json:"override_rev"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usable reports whether the public may use the toilet.
func (t *Toilet) Usable() bool {
	return t.Status != StatusMaintenance
}
