package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

const defaultRecentAccessLogs = 20

func (s *gormStore) GetOpenAccessLog(ctx context.Context, toiletID string) (*model.AccessLog, error) {
	var l model.AccessLog
	err := s.db.WithContext(ctx).
		Where("toilet_id = ? AND exit_time IS NULL", toiletID).
		Order("entry_time DESC").
		First(&l).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// FlagOverstay persists an overstay alert on the toilet's open session. It
// reports true only the first time a session is flagged.
func (s *gormStore) FlagOverstay(ctx context.Context, toiletID, reason string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.AccessLog{}).
		Where("toilet_id = ? AND exit_time IS NULL AND security_alert = ?", toiletID, false).
		Updates(map[string]any{"security_alert": true, "alert_reason": reason})
	if res.Error != nil {
		return false, fmt.Errorf("failed to flag overstay for toilet %s: %w", toiletID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListRecentAccessLogs returns the newest sessions first, with the toilet name
// when the toilet still exists.
func (s *gormStore) ListRecentAccessLogs(ctx context.Context, limit int) ([]model.AccessLog, error) {
	if limit <= 0 {
		limit = defaultRecentAccessLogs
	}
	var logs []model.AccessLog
	err := s.db.WithContext(ctx).
		Model(&model.AccessLog{}).
		Select("access_logs.*, toilets.name AS toilet_name").
		Joins("LEFT JOIN toilets ON toilets.id = access_logs.toilet_id").
		Order("access_logs.entry_time DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *gormStore) ensureOpenLog(tx *gorm.DB, t *model.Toilet, now time.Time) (*model.AccessLog, error) {
	var count int64
	if err := tx.Model(&model.AccessLog{}).
		Where("toilet_id = ? AND exit_time IS NULL", t.ID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to look up open session for toilet %s: %w", t.ID, err)
	}
	if count > 0 {
		return nil, nil
	}

	entry := now
	if t.OccupiedSince != nil {
		entry = *t.OccupiedSince
	}
	l := model.AccessLog{ID: newID(), ToiletID: t.ID, EntryTime: entry}
	if err := tx.Create(&l).Error; err != nil {
		return nil, fmt.Errorf("failed to open session for toilet %s: %w", t.ID, err)
	}
	return &l, nil
}

func (s *gormStore) closeOpenLogs(tx *gorm.DB, toiletID string, now time.Time) ([]model.AccessLog, error) {
	var open []model.AccessLog
	if err := tx.Where("toilet_id = ? AND exit_time IS NULL", toiletID).Find(&open).Error; err != nil {
		return nil, fmt.Errorf("failed to load open sessions for toilet %s: %w", toiletID, err)
	}
	for i := range open {
		session.CloseSession(&open[i], now, s.overstayThreshold)
		if err := tx.Model(&open[i]).Updates(map[string]any{
			"exit_time":        open[i].ExitTime,
			"duration_minutes": open[i].DurationMinutes,
			"security_alert":   open[i].SecurityAlert,
			"alert_reason":     open[i].AlertReason,
		}).Error; err != nil {
			return nil, fmt.Errorf("failed to close session %s: %w", open[i].ID, err)
		}
	}
	return open, nil
}
