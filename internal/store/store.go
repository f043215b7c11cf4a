package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a toilet changed since the snapshot a write
	// was computed from. The caller may re-read and retry.
	ErrConflict = errors.New("toilet was modified concurrently; retry with a fresh read")
)

// Store defines the interface for all database operations.
type Store interface {
	Ping(ctx context.Context) error

	CreateToilet(ctx context.Context, t *model.Toilet) error
	GetToilet(ctx context.Context, id string) (*model.Toilet, error)
	ListToilets(ctx context.Context) ([]model.Toilet, error)
	ListOccupiedToilets(ctx context.Context) ([]model.Toilet, error)
	DeleteToilet(ctx context.Context, id string) error
	ApplyChange(ctx context.Context, c *session.Change, now time.Time) (*ChangeResult, error)

	ConfirmPayment(ctx context.Context, conf *session.Confirmation) (*PaymentResult, error)
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	ListRecentPayments(ctx context.Context, limit int) ([]model.Payment, error)

	GetOpenAccessLog(ctx context.Context, toiletID string) (*model.AccessLog, error)
	FlagOverstay(ctx context.Context, toiletID, reason string) (bool, error)
	ListRecentAccessLogs(ctx context.Context, limit int) ([]model.AccessLog, error)

	CreateAdminUser(ctx context.Context, u *model.AdminUser) error
	GetAdminUserByEmail(ctx context.Context, email string) (*model.AdminUser, error)

	PutSubscription(ctx context.Context, sub *model.PushSubscription, toiletIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForToilet(ctx context.Context, toiletID string) ([]model.PushSubscription, error)
}

// ChangeResult is the toilet after a change plus the access logs the change
// opened or closed.
type ChangeResult struct {
	Toilet     *model.Toilet
	OpenedLog  *model.AccessLog
	ClosedLogs []model.AccessLog
}

// PaymentResult is the outcome of a payment confirmation.
type PaymentResult struct {
	Payment    *model.Payment
	Toilet     *model.Toilet
	Entry      *model.AccessLog
	ClosedLogs []model.AccessLog

	// Replayed is set when the reference was already confirmed; nothing was written.
	Replayed bool
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db                *gorm.DB
	overstayThreshold time.Duration
}

// NewGormStore creates a new GORM-backed store. overstayThreshold is used to
// flag sessions that are closed after running too long.
func NewGormStore(db *gorm.DB, overstayThreshold time.Duration) Store {
	return &gormStore{db: db, overstayThreshold: overstayThreshold}
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func newID() string {
	return uuid.New().String()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
