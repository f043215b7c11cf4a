package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

func (s *gormStore) CreateToilet(ctx context.Context, t *model.Toilet) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create toilet: %w", err)
	}
	return nil
}

func (s *gormStore) GetToilet(ctx context.Context, id string) (*model.Toilet, error) {
	var t model.Toilet
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *gormStore) ListToilets(ctx context.Context) ([]model.Toilet, error) {
	var toilets []model.Toilet
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&toilets).Error; err != nil {
		return nil, err
	}
	return toilets, nil
}

func (s *gormStore) ListOccupiedToilets(ctx context.Context) ([]model.Toilet, error) {
	var toilets []model.Toilet
	if err := s.db.WithContext(ctx).Where("is_occupied = ?", true).Find(&toilets).Error; err != nil {
		return nil, err
	}
	return toilets, nil
}

// DeleteToilet removes the toilet and the push subscriptions' links to it.
// Payments and access logs keep referencing the deleted id.
func (s *gormStore) DeleteToilet(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_toilet_mapping WHERE toilet_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to unlink subscriptions from toilet %s: %w", id, err)
		}
		res := tx.Delete(&model.Toilet{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete toilet %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ApplyChange writes a transition atomically. When the change touches
// occupancy, the toilet's session log follows it in the same transaction:
// becoming occupied opens an access log if none is open, becoming unoccupied
// closes the open ones.
func (s *gormStore) ApplyChange(ctx context.Context, c *session.Change, now time.Time) (*ChangeResult, error) {
	if c.Empty() {
		t, err := s.GetToilet(ctx, c.ToiletID())
		if err != nil {
			return nil, err
		}
		return &ChangeResult{Toilet: t}, nil
	}

	var result ChangeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := casToilet(tx, c, now)
		if err != nil {
			return err
		}
		result.Toilet = t

		if !c.Touches(session.GroupOccupancy) {
			return nil
		}
		if t.IsOccupied {
			result.OpenedLog, err = s.ensureOpenLog(tx, t, now)
			return err
		}
		result.ClosedLogs, err = s.closeOpenLogs(tx, t.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// casToilet is the conditional write: it succeeds only if every touched field
// group still has the expected revision.
func casToilet(tx *gorm.DB, c *session.Change, now time.Time) (*model.Toilet, error) {
	id := c.ToiletID()
	updates := c.Columns()

	q := tx.Model(&model.Toilet{}).Where("id = ?", id)
	for _, g := range c.Groups() {
		col := g.RevisionColumn()
		q = q.Where(col+" = ?", c.Expected[g])
		updates[col] = gorm.Expr(col + " + 1")
	}
	updates["revision"] = gorm.Expr("revision + 1")
	updates["updated_at"] = now

	res := q.Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update toilet %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&model.Toilet{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check toilet %s: %w", id, err)
		}
		if count == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}

	var t model.Toilet
	if err := tx.First(&t, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to reload toilet %s: %w", id, err)
	}
	return &t, nil
}
