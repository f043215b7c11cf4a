// Package session holds the state transition rules of a toilet. Every
// operation is pure: it takes a snapshot and returns a Change (or an error,
// in which case nothing is to be written).
package session

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"smartengo-backend/internal/model"
)

// Policy holds the configurable rules.
type Policy struct {
	Tariff            int64
	MinManualAmount   int64
	Currency          string
	OverstayThreshold time.Duration

	// MaintenanceClearsOccupancy makes an admin switch to maintenance also
	// clear is_occupied and occupied_since.
	MaintenanceClearsOccupancy bool

	// SensorKeepsMaintenance stops sensor reports (and the door override,
	// which acts like one) from replacing a maintenance status. Off by
	// default: every sensor report sets status to occupied or available.
	SensorKeepsMaintenance bool
}

// DefaultPolicy returns the production rules.
func DefaultPolicy() Policy {
	return Policy{
		Tariff:                     200,
		MinManualAmount:            200,
		Currency:                   "Frw",
		OverstayThreshold:          15 * time.Minute,
		MaintenanceClearsOccupancy: true,
	}
}

// NewToilet returns a toilet with the creation defaults: available,
// unoccupied, unpaid, manual open enabled.
func NewToilet(name string, location *string) (*model.Toilet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "name is required")
	}
	return &model.Toilet{
		Name:              name,
		Location:          normalizeLocation(location),
		Status:            model.StatusAvailable,
		ManualOpenEnabled: true,
	}, nil
}

func normalizeLocation(location *string) *string {
	if location == nil {
		return nil
	}
	l := strings.TrimSpace(*location)
	if l == "" {
		return nil
	}
	return &l
}

// AdminEdit lists the fields an admin may set directly. Nil fields are left
// alone; an empty Location clears it.
type AdminEdit struct {
	Name              *string
	Location          *string
	Status            *model.ToiletStatus
	ManualOpenEnabled *bool
}

// ApplyAdminEdit applies a dashboard edit.
func ApplyAdminEdit(t *model.Toilet, edit AdminEdit, policy Policy) (*Change, error) {
	c := newChange(t)

	if edit.Name != nil || edit.Location != nil {
		if edit.Name != nil {
			name := strings.TrimSpace(*edit.Name)
			if name == "" {
				return nil, invalid("name", "name must not be empty")
			}
			c.After.Name = name
		}
		if edit.Location != nil {
			c.After.Location = normalizeLocation(edit.Location)
		}
		c.touch(GroupProfile)
	}

	if edit.Status != nil {
		if !edit.Status.Valid() {
			return nil, invalid("status", "status must be one of available, occupied, maintenance")
		}
		c.setStatus(*edit.Status)
		if *edit.Status == model.StatusMaintenance && policy.MaintenanceClearsOccupancy && t.IsOccupied {
			c.clearOccupied()
		}
	}

	if edit.ManualOpenEnabled != nil {
		c.touch(GroupOverride)
		c.After.ManualOpenEnabled = *edit.ManualOpenEnabled
	}

	return c, nil
}

// ValidateSensorRequest checks a sensor report and returns its occupancy flag.
func ValidateSensorRequest(toiletID, sensorStatus string) (occupied bool, err error) {
	if strings.TrimSpace(toiletID) == "" || sensorStatus == "" {
		return false, invalid("", "toilet_id and sensor_status are required")
	}
	return ParseSensorStatus(sensorStatus)
}

// ParseSensorStatus maps the hardware's sensor_status to an occupancy flag.
func ParseSensorStatus(s string) (occupied bool, err error) {
	switch s {
	case "occupied":
		return true, nil
	case "available":
		return false, nil
	}
	return false, invalid("sensor_status", `sensor_status must be "occupied" or "available"`)
}

// ApplySensorEvent applies an occupancy report from the hardware sensor.
//
// Occupied marks the toilet occupied without any payment check. A repeated
// occupied report keeps the original occupied_since. Available clears
// occupancy and the paid flag, so every use needs a new payment. Status
// follows occupancy unless the toilet is in maintenance and
// Policy.SensorKeepsMaintenance is set.
func ApplySensorEvent(t *model.Toilet, occupied bool, policy Policy, now time.Time) *Change {
	c := newChange(t)
	keepStatus := t.Status == model.StatusMaintenance && policy.SensorKeepsMaintenance
	if occupied {
		c.setOccupied(now)
		if !keepStatus {
			c.setStatus(model.StatusOccupied)
		}
		return c
	}

	c.clearOccupied()
	c.touch(GroupPayment)
	c.After.IsPaid = false
	if !keepStatus {
		c.setStatus(model.StatusAvailable)
	}
	return c
}

// PaymentRequest is a payment as reported by a caller. Amount and method are
// self-reported.
type PaymentRequest struct {
	ToiletID  string
	Amount    int64
	Method    model.PaymentMethod
	Reference string

	// fractional marks an amount that is a number but not a whole one.
	// amountText is the amount as it is echoed back in a mismatch.
	fractional bool
	amountText string
}

// SetAmountLiteral sets the amount from its JSON literal. Any whole number
// counts, however it is written: 200, 200.0 and 2e2 are all 200. Other
// numbers are kept as fractional and never match a tariff. A string or any
// other non-number is rejected. An absent or null literal leaves the amount
// unset.
func (req *PaymentRequest) SetAmountLiteral(literal string) error {
	req.Amount, req.fractional, req.amountText = 0, false, ""
	literal = strings.TrimSpace(literal)
	if literal == "" || literal == "null" {
		return nil
	}
	if literal[0] == '"' {
		return invalid("amount", "amount must be a number")
	}

	f, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			req.fractional = true
			req.amountText = literal
			return nil
		}
		return invalid("amount", "amount must be a number")
	}
	req.amountText = strconv.FormatFloat(f, 'f', -1, 64)
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		req.Amount = int64(f)
		return nil
	}
	req.fractional = true
	return nil
}

func (req PaymentRequest) renderAmount() string {
	if req.amountText != "" {
		return req.amountText
	}
	return strconv.FormatInt(req.Amount, 10)
}

// Confirmation is the result of an accepted payment: the toilet change, the
// payment row and the access log entry that must be written together.
type Confirmation struct {
	Change  *Change
	Payment model.Payment
	Entry   model.AccessLog
}

// ValidatePaymentRequest checks presence, tariff and method, in that order.
func ValidatePaymentRequest(req PaymentRequest, policy Policy) error {
	if req.ToiletID == "" || (req.Amount == 0 && !req.fractional) || req.Method == "" || strings.TrimSpace(req.Reference) == "" {
		return invalid("", "toilet_id, amount, payment_method, and payment_reference are required")
	}
	if req.fractional || req.Amount != policy.Tariff {
		return TariffMismatch(policy.Tariff, policy.Currency, req.renderAmount())
	}
	if !req.Method.Valid() {
		return invalid("payment_method", `payment_method must be "momo" or "rfid_card"`)
	}
	return nil
}

// ApplyPaymentConfirmation applies an automated payment confirmation. The door
// opens for a paid session: the toilet becomes available and paid, and manual
// override is disabled until the sensor reports the next occupancy.
func ApplyPaymentConfirmation(t *model.Toilet, req PaymentRequest, policy Policy, now time.Time) (*Confirmation, error) {
	if err := ValidatePaymentRequest(req, policy); err != nil {
		return nil, err
	}
	if !t.Usable() {
		return nil, &ValidationError{Field: "toilet_id", Message: "toilet is under maintenance", kind: ErrNotUsable}
	}

	c := newChange(t)
	paidAt := now
	c.touch(GroupPayment)
	c.After.IsPaid = true
	c.After.LastPaymentTime = &paidAt
	c.setStatus(model.StatusAvailable)
	c.clearOccupied()
	c.touch(GroupOverride)
	c.After.ManualOpenEnabled = false

	return &Confirmation{
		Change: c,
		Payment: model.Payment{
			ToiletID:  t.ID,
			Amount:    req.Amount,
			Method:    req.Method,
			Reference: strings.TrimSpace(req.Reference),
			Status:    model.PaymentCompleted,
			CreatedAt: now,
		},
		Entry: model.AccessLog{
			ToiletID:  t.ID,
			EntryTime: now,
		},
	}, nil
}

// ApplyManualPayment records a payment typed in by an operator on the
// dashboard. Unlike the automated confirmation it only enforces a minimum
// amount and touches nothing but the payment fields.
func ApplyManualPayment(t *model.Toilet, req PaymentRequest, policy Policy, now time.Time) (*Confirmation, error) {
	if req.ToiletID == "" || req.Method == "" || strings.TrimSpace(req.Reference) == "" {
		return nil, invalid("", "payment_method and payment_reference are required")
	}
	if req.fractional || req.Amount < policy.MinManualAmount {
		return nil, invalid("amount", "Minimum payment amount is %d %s", policy.MinManualAmount, policy.Currency)
	}
	if !req.Method.Valid() {
		return nil, invalid("payment_method", `payment_method must be "momo" or "rfid_card"`)
	}

	c := newChange(t)
	paidAt := now
	c.touch(GroupPayment)
	c.After.IsPaid = true
	c.After.LastPaymentTime = &paidAt

	return &Confirmation{
		Change: c,
		Payment: model.Payment{
			ToiletID:  t.ID,
			Amount:    req.Amount,
			Method:    req.Method,
			Reference: strings.TrimSpace(req.Reference),
			Status:    model.PaymentCompleted,
			CreatedAt: now,
		},
		Entry: model.AccessLog{
			ToiletID:  t.ID,
			EntryTime: now,
		},
	}, nil
}

// ApplyManualOpen is the operator's "open door" override.
func ApplyManualOpen(t *model.Toilet, policy Policy, now time.Time) (*Change, error) {
	return ApplyDoorToggle(t, true, policy, now)
}

// ApplyDoorToggle opens or closes the door on an operator's behalf. Opening
// behaves like a sensor "available" report, closing like "occupied".
func ApplyDoorToggle(t *model.Toilet, open bool, policy Policy, now time.Time) (*Change, error) {
	if !t.ManualOpenEnabled {
		return nil, ErrManualOverrideDisabled
	}
	return ApplySensorEvent(t, !open, policy, now), nil
}
