package session

import (
	"fmt"
	"time"

	"smartengo-backend/internal/model"
)

// Alert is the derived overstay state of a toilet at a point in time.
type Alert struct {
	Overstay bool          `json:"overstay"`
	Duration time.Duration `json:"-"`
	Minutes  int           `json:"occupied_minutes"`
	Reason   string        `json:"reason,omitempty"`
}

// ComputeOccupancyAlert reports an overstay when the toilet has been occupied
// for strictly longer than threshold. Exactly threshold is not an overstay.
func ComputeOccupancyAlert(t *model.Toilet, now time.Time, threshold time.Duration) Alert {
	if !t.IsOccupied || t.OccupiedSince == nil {
		return Alert{}
	}
	d := now.Sub(*t.OccupiedSince)
	if d < 0 {
		d = 0
	}
	a := Alert{Duration: d, Minutes: int(d / time.Minute)}
	if d > threshold {
		a.Overstay = true
		a.Reason = overstayReason(d, threshold)
	}
	return a
}

func overstayReason(d, threshold time.Duration) string {
	return fmt.Sprintf("Occupied for %d minutes (limit %d minutes)", int(d/time.Minute), int(threshold/time.Minute))
}

// CloseSession fills the exit side of an open access log. The duration is in
// whole minutes, rounded down. A session longer than threshold is flagged
// unless it already carries an alert.
func CloseSession(log *model.AccessLog, exit time.Time, threshold time.Duration) {
	if exit.Before(log.EntryTime) {
		exit = log.EntryTime
	}
	d := exit.Sub(log.EntryTime)
	minutes := int(d / time.Minute)
	log.ExitTime = &exit
	log.DurationMinutes = &minutes

	if d > threshold && !log.SecurityAlert {
		reason := overstayReason(d, threshold)
		log.SecurityAlert = true
		log.AlertReason = &reason
	}
}
