package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartengo-backend/config"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/notification"
	"smartengo-backend/internal/session"
	"smartengo-backend/internal/util"
)

// Store is the part of the store the monitor needs.
type Store interface {
	ListOccupiedToilets(ctx context.Context) ([]model.Toilet, error)
	FlagOverstay(ctx context.Context, toiletID, reason string) (bool, error)
}

// Dispatcher queues push notifications.
type Dispatcher interface {
	Dispatch(job notification.Job) bool
}

// Service periodically checks occupied toilets for overstays. An overstay is
// persisted on the open access log and announced once per session.
type Service struct {
	cfg        config.MonitorConfig
	threshold  time.Duration
	store      Store
	hub        *events.Hub
	dispatcher Dispatcher
	now        func() time.Time
	logger     *zap.Logger
}

// NewService creates the overstay monitor. hub and dispatcher may be nil.
func NewService(cfg config.MonitorConfig, threshold time.Duration, store Store, hub *events.Hub, dispatcher Dispatcher) *Service {
	return &Service{
		cfg:        cfg,
		threshold:  threshold,
		store:      store,
		hub:        hub,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     util.GetLogger().Named("monitor"),
	}
}

// Run checks once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("Overstay monitor is disabled. Not starting.")
		return
	}
	s.logger.Info("Starting overstay monitor", zap.Duration("interval", s.cfg.Interval))

	s.CheckOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Overstay monitor shutting down.")
			return
		case <-timer.C:
			s.CheckOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// CheckOnce runs a single pass and returns the number of sessions newly
// flagged.
func (s *Service) CheckOnce(ctx context.Context) int {
	ctx, span := util.StartSpan(ctx, "Monitor.CheckOnce")
	defer span.End()

	toilets, err := s.store.ListOccupiedToilets(ctx)
	if err != nil {
		s.logger.Error("Error listing occupied toilets", zap.Error(err))
		return 0
	}
	util.OccupiedToilets.Set(float64(len(toilets)))

	now := s.now()
	flagged := 0
	for i := range toilets {
		t := &toilets[i]
		alert := session.ComputeOccupancyAlert(t, now, s.threshold)
		if !alert.Overstay {
			continue
		}

		first, err := s.store.FlagOverstay(ctx, t.ID, alert.Reason)
		if err != nil {
			s.logger.Error("Error flagging overstay", zap.String("toilet_id", t.ID), zap.Error(err))
			continue
		}
		if !first {
			continue
		}

		flagged++
		util.OverstayAlertsTotal.Inc()
		s.logger.Warn("Overstay detected",
			zap.String("toilet_id", t.ID),
			zap.String("name", t.Name),
			zap.Int("occupied_minutes", alert.Minutes))

		if s.hub != nil {
			s.hub.Publish(events.NewEvent(events.TableAlerts, events.TypeAlert, t.ID, alertRecord{
				ToiletID:   t.ID,
				ToiletName: t.Name,
				Alert:      alert,
			}))
		}
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(notification.Job{ToiletID: t.ID, Kind: notification.KindOverstay, Message: alert.Reason})
		}
	}
	return flagged
}

type alertRecord struct {
	ToiletID   string `json:"toilet_id"`
	ToiletName string `json:"toilet_name"`
	session.Alert
}
