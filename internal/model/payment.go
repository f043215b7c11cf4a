package model

import "time"

// PaymentMethod is the channel a payment was made through.
type PaymentMethod string

const (
	MethodMomo     PaymentMethod = "momo"
	MethodRFIDCard PaymentMethod = "rfid_card"
)

// Valid reports whether m is a recognized payment method.
func (m PaymentMethod) Valid() bool {
	return m == MethodMomo || m == MethodRFIDCard
}

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one payment event for a toilet. Rows are never updated.
type Payment struct {
	ID        string        `gorm:"primaryKey;size:36" json:"id"`
	ToiletID  string        `gorm:"size:36;not null;index" json:"toilet_id"`
	Amount    int64         `gorm:"not null" json:"amount"`
	Method    PaymentMethod `gorm:"column:payment_method;type:varchar(16);not null" json:"payment_method"`
	Reference string        `gorm:"column:payment_reference;size:128;not null;uniqueIndex" json:"payment_reference"`
	Status    PaymentStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt time.Time     `gorm:"not null;index" json:"created_at"`

	// Filled by joined listings only.
	ToiletName string `gorm:"->;-:migration" json:"toilet_name,omitempty"`
}
