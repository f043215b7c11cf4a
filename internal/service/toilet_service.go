package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/notification"
	"smartengo-backend/internal/session"
	"smartengo-backend/internal/store"
	"smartengo-backend/internal/util"
)

// Dispatcher queues push notifications.
type Dispatcher interface {
	Dispatch(job notification.Job) bool
}

// ToiletService runs every toilet operation: read the current row, apply the
// session rule, write it with a conditional update, then publish the change.
// A stale write is returned as store.ErrConflict and never retried here.
type ToiletService struct {
	store      store.Store
	hub        *events.Hub
	dispatcher Dispatcher
	policy     session.Policy
	now        func() time.Time
	logger     *zap.Logger
}

// NewToiletService creates a new toilet service. dispatcher may be nil.
func NewToiletService(st store.Store, hub *events.Hub, dispatcher Dispatcher, policy session.Policy) *ToiletService {
	return &ToiletService{
		store:      st,
		hub:        hub,
		dispatcher: dispatcher,
		policy:     policy,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

func (s *ToiletService) ListToilets(ctx context.Context) ([]model.Toilet, error) {
	return s.store.ListToilets(ctx)
}

func (s *ToiletService) GetToilet(ctx context.Context, id string) (*model.Toilet, error) {
	return s.store.GetToilet(ctx, id)
}

// CreateToilet adds a toilet with the creation defaults.
func (s *ToiletService) CreateToilet(ctx context.Context, name string, location *string) (*model.Toilet, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.CreateToilet")
	defer span.End()

	t, err := session.NewToilet(name, location)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateToilet(ctx, t); err != nil {
		return nil, err
	}

	s.logger.Info("Toilet created", zap.String("toilet_id", t.ID), zap.String("name", t.Name))
	s.publish(events.TableToilets, events.TypeInsert, t.ID, t)
	return t, nil
}

// UpdateToilet applies an admin edit. expected carries the group revisions
// the dashboard last saw; when nil the fresh read is the baseline.
func (s *ToiletService) UpdateToilet(ctx context.Context, id string, edit session.AdminEdit, expected map[session.FieldGroup]int64) (*model.Toilet, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.UpdateToilet")
	defer span.End()
	span.SetAttributes(attribute.String("toilet_id", id))

	res, err := s.apply(ctx, "admin_edit", id, func(t *model.Toilet) (*session.Change, error) {
		c, err := session.ApplyAdminEdit(t, edit, s.policy)
		if err != nil {
			return nil, err
		}
		c.ExpectRevisions(expected)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Toilet, nil
}

// DeleteToilet removes a toilet. Its payments and access logs are kept.
func (s *ToiletService) DeleteToilet(ctx context.Context, id string) error {
	ctx, span := util.StartSpan(ctx, "ToiletService.DeleteToilet")
	defer span.End()

	if err := s.store.DeleteToilet(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Toilet deleted", zap.String("toilet_id", id))
	s.publish(events.TableToilets, events.TypeDelete, id, nil)
	return nil
}

// HandleSensorEvent applies an occupancy report from the hardware.
func (s *ToiletService) HandleSensorEvent(ctx context.Context, toiletID, sensorStatus string) (*model.Toilet, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.HandleSensorEvent")
	defer span.End()
	span.SetAttributes(attribute.String("toilet_id", toiletID), attribute.String("sensor_status", sensorStatus))

	occupied, err := session.ValidateSensorRequest(toiletID, sensorStatus)
	if err != nil {
		return nil, err
	}

	now := s.now()
	res, err := s.apply(ctx, "sensor", toiletID, func(t *model.Toilet) (*session.Change, error) {
		return session.ApplySensorEvent(t, occupied, s.policy, now), nil
	})
	if err != nil {
		return nil, err
	}

	util.SensorEventsTotal.WithLabelValues(sensorStatus).Inc()
	s.logger.Info("Sensor update applied",
		zap.String("toilet_id", toiletID),
		zap.String("sensor_status", sensorStatus),
		zap.String("status", string(res.Toilet.Status)))
	return res.Toilet, nil
}

// ConfirmPayment handles an automated payment confirmation. A reference
// that was already confirmed returns the stored result with Replayed set.
func (s *ToiletService) ConfirmPayment(ctx context.Context, req session.PaymentRequest) (*store.PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.ConfirmPayment")
	defer span.End()
	span.SetAttributes(attribute.String("toilet_id", req.ToiletID), attribute.String("payment_reference", req.Reference))

	if err := session.ValidatePaymentRequest(req, s.policy); err != nil {
		util.PaymentsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	return s.confirm(ctx, "webhook", req, session.ApplyPaymentConfirmation)
}

// RecordManualPayment records a payment entered on the dashboard.
func (s *ToiletService) RecordManualPayment(ctx context.Context, req session.PaymentRequest) (*store.PaymentResult, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.RecordManualPayment")
	defer span.End()
	span.SetAttributes(attribute.String("toilet_id", req.ToiletID))

	return s.confirm(ctx, "manual", req, session.ApplyManualPayment)
}

type paymentRule func(t *model.Toilet, req session.PaymentRequest, policy session.Policy, now time.Time) (*session.Confirmation, error)

func (s *ToiletService) confirm(ctx context.Context, source string, req session.PaymentRequest, rule paymentRule) (*store.PaymentResult, error) {
	if replay, err := s.replay(ctx, req); replay != nil || err != nil {
		return replay, err
	}

	t, err := s.store.GetToilet(ctx, req.ToiletID)
	if err != nil {
		return nil, err
	}

	conf, err := rule(t, req, s.policy, s.now())
	if err != nil {
		util.PaymentsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	res, err := s.store.ConfirmPayment(ctx, conf)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.WriteConflictsTotal.WithLabelValues("payment_" + source).Inc()
		}
		return nil, err
	}
	if res.Replayed {
		util.PaymentsReplayedTotal.Inc()
		return res, nil
	}

	util.PaymentsConfirmedTotal.WithLabelValues(string(res.Payment.Method), source).Inc()
	s.logger.Info("Payment confirmed",
		zap.String("toilet_id", res.Toilet.ID),
		zap.String("payment_id", res.Payment.ID),
		zap.String("payment_reference", res.Payment.Reference),
		zap.Int64("amount", res.Payment.Amount),
		zap.String("source", source))

	s.publish(events.TablePayments, events.TypeInsert, res.Payment.ID, res.Payment)
	s.publishChange(&store.ChangeResult{Toilet: res.Toilet, ClosedLogs: res.ClosedLogs})
	if res.Entry != nil {
		typ := events.TypeInsert
		if res.Entry.EntryTime.Before(res.Payment.CreatedAt) {
			typ = events.TypeUpdate
		}
		s.publish(events.TableAccessLogs, typ, res.Entry.ID, res.Entry)
	}
	return res, nil
}

// replay answers a repeated reference without touching the toilet, so a
// retried webhook succeeds even if the toilet moved on since.
func (s *ToiletService) replay(ctx context.Context, req session.PaymentRequest) (*store.PaymentResult, error) {
	existing, err := s.store.GetPaymentByReference(ctx, req.Reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check payment reference: %w", err)
	}
	if existing.ToiletID != req.ToiletID || existing.Amount != req.Amount || existing.Method != req.Method {
		util.PaymentsRejectedTotal.WithLabelValues("reference_reused").Inc()
		return nil, store.ErrReferenceReused
	}

	t, err := s.store.GetToilet(ctx, existing.ToiletID)
	if err != nil {
		return nil, err
	}
	util.PaymentsReplayedTotal.Inc()
	s.logger.Info("Duplicate payment confirmation detected",
		zap.String("payment_reference", req.Reference),
		zap.String("payment_id", existing.ID))
	return &store.PaymentResult{Payment: existing, Toilet: t, Replayed: true}, nil
}

// ManualOpen is the operator's "open door" override.
func (s *ToiletService) ManualOpen(ctx context.Context, id string) (*model.Toilet, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.ManualOpen")
	defer span.End()

	return s.toggle(ctx, "manual_open", id, true)
}

// ToggleDoor opens or closes the door on an operator's behalf.
func (s *ToiletService) ToggleDoor(ctx context.Context, id string, open bool) (*model.Toilet, error) {
	ctx, span := util.StartSpan(ctx, "ToiletService.ToggleDoor")
	defer span.End()
	span.SetAttributes(attribute.Bool("open", open))

	return s.toggle(ctx, "door_toggle", id, open)
}

func (s *ToiletService) toggle(ctx context.Context, op, id string, open bool) (*model.Toilet, error) {
	now := s.now()
	res, err := s.apply(ctx, op, id, func(t *model.Toilet) (*session.Change, error) {
		return session.ApplyDoorToggle(t, open, s.policy, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Door override applied", zap.String("toilet_id", id), zap.Bool("open", open))
	return res.Toilet, nil
}

// OccupancyAlert derives the overstay state of a toilet now.
func (s *ToiletService) OccupancyAlert(ctx context.Context, id string) (*model.Toilet, session.Alert, error) {
	t, err := s.store.GetToilet(ctx, id)
	if err != nil {
		return nil, session.Alert{}, err
	}
	return t, session.ComputeOccupancyAlert(t, s.now(), s.policy.OverstayThreshold), nil
}

func (s *ToiletService) ListRecentPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	return s.store.ListRecentPayments(ctx, limit)
}

func (s *ToiletService) ListRecentAccessLogs(ctx context.Context, limit int) ([]model.AccessLog, error) {
	return s.store.ListRecentAccessLogs(ctx, limit)
}

// apply is the read, rule, conditional write sequence shared by every
// toilet transition.
func (s *ToiletService) apply(ctx context.Context, op, id string, rule func(t *model.Toilet) (*session.Change, error)) (*store.ChangeResult, error) {
	t, err := s.store.GetToilet(ctx, id)
	if err != nil {
		return nil, err
	}

	c, err := rule(t)
	if err != nil {
		return nil, err
	}

	res, err := s.store.ApplyChange(ctx, c, s.now())
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			util.WriteConflictsTotal.WithLabelValues(op).Inc()
			s.logger.Warn("Rejected stale toilet write",
				zap.String("toilet_id", id), zap.String("operation", op), zap.Any("groups", c.Groups()))
		}
		return nil, err
	}

	if c.Empty() {
		return res, nil
	}
	s.publishChange(res)
	if c.Before.IsOccupied && !res.Toilet.IsOccupied && res.Toilet.Usable() {
		s.notify(notification.Job{ToiletID: res.Toilet.ID, Kind: notification.KindAvailable})
	}
	return res, nil
}

func (s *ToiletService) publishChange(res *store.ChangeResult) {
	s.publish(events.TableToilets, events.TypeUpdate, res.Toilet.ID, res.Toilet)
	if res.OpenedLog != nil {
		s.publish(events.TableAccessLogs, events.TypeInsert, res.OpenedLog.ID, res.OpenedLog)
	}
	for i := range res.ClosedLogs {
		l := res.ClosedLogs[i]
		s.publish(events.TableAccessLogs, events.TypeUpdate, l.ID, l)
	}
}

func (s *ToiletService) publish(table, typ, recordID string, record any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(events.NewEvent(table, typ, recordID, record))
}

func (s *ToiletService) notify(job notification.Job) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(job)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrTariffMismatch):
		return "tariff_mismatch"
	case errors.Is(err, session.ErrNotUsable):
		return "maintenance"
	case errors.Is(err, session.ErrInvalidInput):
		return "invalid_input"
	}
	return "other"
}
