package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartengo-backend/internal/model"
)

func (s *gormStore) CreateAdminUser(ctx context.Context, u *model.AdminUser) error {
	if u.ID == "" {
		u.ID = newID()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create admin user %s: %w", u.Email, err)
	}
	return nil
}

func (s *gormStore) GetAdminUserByEmail(ctx context.Context, email string) (*model.AdminUser, error) {
	var u model.AdminUser
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// PutSubscription creates or replaces a push subscription and the set of
// toilets it follows.
func (s *gormStore) PutSubscription(ctx context.Context, sub *model.PushSubscription, toiletIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(sub).Error; err != nil {
			return err
		}

		var toilets []*model.Toilet
		if len(toiletIDs) > 0 {
			if err := tx.Where("id IN ?", toiletIDs).Find(&toilets).Error; err != nil {
				return err
			}
		}

		return tx.Model(sub).Association("Toilets").Replace(toilets)
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).Preload("Toilets").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	sub := model.PushSubscription{Endpoint: endpoint}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sub).Association("Toilets").Clear(); err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
}

func (s *gormStore) SubscriptionsForToilet(ctx context.Context, toiletID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_toilet_mapping stm ON stm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("stm.toilet_id = ?", toiletID).
		Find(&subs).Error
	return subs, err
}
