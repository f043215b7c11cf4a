package model

import "time"

// AccessLog is one occupancy session of a toilet, optionally opened by a payment.
// ExitTime and DurationMinutes stay nil while the session is open.
type AccessLog struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	ToiletID        string     `gorm:"size:36;not null;index" json:"toilet_id"`
	PaymentID       *string    `gorm:"size:36;index" json:"payment_id"`
	EntryTime       time.Time  `gorm:"not null;index" json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time"`
	DurationMinutes *int       `json:"duration_minutes"`
	SecurityAlert   bool       `gorm:"not null" json:"security_alert"`
	AlertReason     *string    `gorm:"size:256" json:"alert_reason"`
	CreatedAt       time.Time  `json:"created_at"`

	// Filled by joined listings only.
	ToiletName string `gorm:"->;-:migration" json:"toilet_name,omitempty"`
}

// Open reports whether the session is still in progress.
func (l *AccessLog) Open() bool {
	return l.ExitTime == nil
}
