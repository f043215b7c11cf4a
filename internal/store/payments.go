package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

const defaultRecentPayments = 10

// ErrReferenceReused is returned when a payment reference was already used
// for a different toilet or amount.
var ErrReferenceReused = errors.New("payment_reference was already used for a different payment")

// errReferenceTaken marks a payment insert that lost the race for its
// reference to a concurrent delivery.
var errReferenceTaken = errors.New("payment_reference inserted concurrently")

// ConfirmPayment writes the payment row, the toilet transition and the new
// access log in one transaction, so either all three land or none does. A
// payment that opens the door closes any session still open on the toilet and
// starts a new one; a payment that does not is attached to the open session.
//
// The payment reference is the idempotency key: confirming a reference that
// already exists for the same toilet and amount returns the stored payment
// with Replayed set and writes nothing. Two deliveries racing on the same
// reference meet at the unique index; the loser rolls back and answers with
// the winner's payment.
func (s *gormStore) ConfirmPayment(ctx context.Context, conf *session.Confirmation) (*PaymentResult, error) {
	var result PaymentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		replayed, err := lookupReplay(tx, conf.Payment)
		if err != nil {
			return err
		}
		if replayed != nil {
			res, err := replayResult(tx, replayed)
			if err != nil {
				return err
			}
			result = *res
			return nil
		}

		payment := conf.Payment
		payment.ID = newID()
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errReferenceTaken
			}
			return fmt.Errorf("failed to create payment record: %w", err)
		}
		result.Payment = &payment

		now := payment.CreatedAt
		t, err := casToilet(tx, conf.Change, now)
		if err != nil {
			return err
		}
		result.Toilet = t

		if conf.Change.Touches(session.GroupOccupancy) {
			result.ClosedLogs, err = s.closeOpenLogs(tx, t.ID, now)
			if err != nil {
				return err
			}
		} else {
			// A payment that does not open the door belongs to the running session, if any.
			// A session that already cites a payment keeps it.
			attached, err := attachPayment(tx, t.ID, payment.ID)
			if err != nil {
				return err
			}
			if attached != nil {
				result.Entry = attached
				return nil
			}
		}

		entry := conf.Entry
		entry.ID = newID()
		entry.PaymentID = &payment.ID
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to create access log: %w", err)
		}
		result.Entry = &entry
		return nil
	})
	if errors.Is(err, errReferenceTaken) {
		return s.replayAfterRace(ctx, conf.Payment)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// replayAfterRace reads the committed winner outside the rolled back
// transaction, which Postgres no longer accepts statements on.
func (s *gormStore) replayAfterRace(ctx context.Context, p model.Payment) (*PaymentResult, error) {
	db := s.db.WithContext(ctx)
	existing, err := lookupReplay(db, p)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("payment reference %s collided but is not stored", p.Reference)
	}
	return replayResult(db, existing)
}

func replayResult(db *gorm.DB, p *model.Payment) (*PaymentResult, error) {
	var t model.Toilet
	if err := db.First(&t, "id = ?", p.ToiletID).Error; err != nil {
		return nil, notFound(err)
	}
	return &PaymentResult{Payment: p, Toilet: &t, Replayed: true}, nil
}

func lookupReplay(tx *gorm.DB, p model.Payment) (*model.Payment, error) {
	var existing model.Payment
	err := tx.Where("payment_reference = ?", p.Reference).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment reference: %w", err)
	}
	if existing.ToiletID != p.ToiletID || existing.Amount != p.Amount || existing.Method != p.Method {
		return nil, ErrReferenceReused
	}
	return &existing, nil
}

func attachPayment(tx *gorm.DB, toiletID, paymentID string) (*model.AccessLog, error) {
	var open model.AccessLog
	err := tx.Where("toilet_id = ? AND exit_time IS NULL", toiletID).First(&open).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up open session: %w", err)
	}
	if open.PaymentID != nil {
		return &open, nil
	}
	if err := tx.Model(&open).Update("payment_id", paymentID).Error; err != nil {
		return nil, fmt.Errorf("failed to attach payment to session %s: %w", open.ID, err)
	}
	open.PaymentID = &paymentID
	return &open, nil
}

func (s *gormStore) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	var p model.Payment
	if err := s.db.WithContext(ctx).First(&p, "payment_reference = ?", reference).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ListRecentPayments returns the newest payments first, with the toilet name
// when the toilet still exists.
func (s *gormStore) ListRecentPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	if limit <= 0 {
		limit = defaultRecentPayments
	}
	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("payments.*, toilets.name AS toilet_name").
		Joins("LEFT JOIN toilets ON toilets.id = payments.toilet_id").
		Order("payments.created_at DESC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
