package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"smartengo-backend/config"
	"smartengo-backend/internal/db"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/notification"
	"smartengo-backend/internal/session"
	"smartengo-backend/internal/store"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []notification.Job
}

func (d *fakeDispatcher) Dispatch(job notification.Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return true
}

func (d *fakeDispatcher) dispatched() []notification.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.Job(nil), d.jobs...)
}

type fixture struct {
	svc        *ToiletService
	store      store.Store
	db         *gorm.DB
	hub        *events.Hub
	dispatcher *fakeDispatcher
	clock      time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func newFixture(t *testing.T) *fixture {
	gormDB, err := db.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	sqlDB, _ := gormDB.DB()
	t.Cleanup(func() { sqlDB.Close() })

	policy := session.DefaultPolicy()
	st := store.NewGormStore(gormDB, policy.OverstayThreshold)
	hub := events.NewHub()
	dispatcher := &fakeDispatcher{}

	f := &fixture{
		store:      st,
		db:         gormDB,
		hub:        hub,
		dispatcher: dispatcher,
		clock:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewToiletService(st, hub, dispatcher, policy)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func payment(toiletID, ref string) session.PaymentRequest {
	return session.PaymentRequest{ToiletID: toiletID, Amount: 200, Method: model.MethodMomo, Reference: ref}
}

func TestToiletService_PaymentThenSensorRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, toilet.Status)
	assert.False(t, toilet.IsPaid)

	res, err := f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
	require.NoError(t, err)
	assert.True(t, res.Toilet.IsPaid)
	assert.False(t, res.Toilet.ManualOpenEnabled)

	f.advance(5 * time.Minute)
	got, err := f.svc.HandleSensorEvent(ctx, toilet.ID, "available")
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Equal(t, model.StatusAvailable, got.Status)

	logs, err := f.svc.ListRecentAccessLogs(ctx, 20)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].EntryTime.IsZero())
	require.NotNil(t, logs[0].DurationMinutes)
	assert.Equal(t, 5, *logs[0].DurationMinutes)
	assert.False(t, logs[0].SecurityAlert)
}

func TestToiletService_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Tariff mismatch is rejected without writes", func(t *testing.T) {
		f := newFixture(t)
		toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
		require.NoError(t, err)

		req := payment(toilet.ID, "TX1")
		req.Amount = 150
		_, err = f.svc.ConfirmPayment(ctx, req)
		require.ErrorIs(t, err, session.ErrTariffMismatch)
		assert.EqualError(t, err, "Payment amount must be 200 Frw. Received: 150 Frw")

		var payments int64
		require.NoError(t, f.db.Model(&model.Payment{}).Count(&payments).Error)
		assert.Zero(t, payments)
	})

	t.Run("Unknown toilet is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ConfirmPayment(ctx, payment(uuid.NewString(), "TX1"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Repeated reference replays after the toilet moved on", func(t *testing.T) {
		f := newFixture(t)
		toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
		require.NoError(t, err)

		first, err := f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
		require.NoError(t, err)

		maintenance := model.StatusMaintenance
		_, err = f.svc.UpdateToilet(ctx, toilet.ID, session.AdminEdit{Status: &maintenance}, nil)
		require.NoError(t, err)

		second, err := f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Payment.ID, second.Payment.ID)

		_, err = f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX2"))
		assert.ErrorIs(t, err, session.ErrNotUsable)
	})

	t.Run("Events are published for every written row", func(t *testing.T) {
		f := newFixture(t)
		toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
		require.NoError(t, err)

		sub := f.hub.Subscribe(16)
		defer sub.Cancel()

		_, err = f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
		require.NoError(t, err)

		var tables []string
		for len(sub.C) > 0 {
			tables = append(tables, (<-sub.C).Table)
		}
		assert.Equal(t, []string{events.TablePayments, events.TableToilets, events.TableAccessLogs}, tables)
	})
}

func TestToiletService_RecordManualPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)

	req := payment(toilet.ID, "CASH-1")
	req.Amount = 100
	_, err = f.svc.RecordManualPayment(ctx, req)
	require.ErrorIs(t, err, session.ErrInvalidInput)
	assert.EqualError(t, err, "Minimum payment amount is 200 Frw")

	req.Amount = 500
	res, err := f.svc.RecordManualPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Toilet.IsPaid)
	assert.True(t, res.Toilet.ManualOpenEnabled)
	assert.Equal(t, int64(500), res.Payment.Amount)
}

func TestToiletService_SensorEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing fields are rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.HandleSensorEvent(ctx, "", "occupied")
		assert.EqualError(t, err, "toilet_id and sensor_status are required")
		_, err = f.svc.HandleSensorEvent(ctx, "t-1", "broken")
		assert.ErrorIs(t, err, session.ErrInvalidInput)
	})

	t.Run("Leaving notifies subscribers that the toilet is available", func(t *testing.T) {
		f := newFixture(t)
		toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
		require.NoError(t, err)

		got, err := f.svc.HandleSensorEvent(ctx, toilet.ID, "occupied")
		require.NoError(t, err)
		assert.True(t, got.IsOccupied)
		assert.Empty(t, f.dispatcher.dispatched())

		open, err := f.store.GetOpenAccessLog(ctx, toilet.ID)
		require.NoError(t, err)
		assert.Nil(t, open.PaymentID)

		_, err = f.svc.HandleSensorEvent(ctx, toilet.ID, "available")
		require.NoError(t, err)
		jobs := f.dispatcher.dispatched()
		require.Len(t, jobs, 1)
		assert.Equal(t, notification.KindAvailable, jobs[0].Kind)
		assert.Equal(t, toilet.ID, jobs[0].ToiletID)
	})

	t.Run("Sensor reports replace maintenance", func(t *testing.T) {
		f := newFixture(t)
		toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
		require.NoError(t, err)
		maintenance := model.StatusMaintenance
		_, err = f.svc.UpdateToilet(ctx, toilet.ID, session.AdminEdit{Status: &maintenance}, nil)
		require.NoError(t, err)

		got, err := f.svc.HandleSensorEvent(ctx, toilet.ID, "occupied")
		require.NoError(t, err)
		assert.True(t, got.IsOccupied)
		assert.Equal(t, model.StatusOccupied, got.Status)
	})
}

func TestToiletService_UpdateToiletStaleRevision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)
	seen := session.Revisions(toilet)

	_, err = f.svc.HandleSensorEvent(ctx, toilet.ID, "occupied")
	require.NoError(t, err)

	// The dashboard still shows the old status revision.
	available := model.StatusAvailable
	_, err = f.svc.UpdateToilet(ctx, toilet.ID, session.AdminEdit{Status: &available}, seen)
	assert.ErrorIs(t, err, store.ErrConflict)

	// A rename from the same stale view touches nothing the sensor wrote.
	name := "Block A (north)"
	got, err := f.svc.UpdateToilet(ctx, toilet.ID, session.AdminEdit{Name: &name}, seen)
	require.NoError(t, err)
	assert.Equal(t, "Block A (north)", got.Name)
	assert.Equal(t, model.StatusOccupied, got.Status)
}

func TestToiletService_DoorOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)

	got, err := f.svc.ToggleDoor(ctx, toilet.ID, false)
	require.NoError(t, err)
	assert.True(t, got.IsOccupied)

	got, err = f.svc.ManualOpen(ctx, toilet.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOccupied)
	assert.False(t, got.IsPaid)

	_, err = f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
	require.NoError(t, err)
	_, err = f.svc.ManualOpen(ctx, toilet.ID)
	assert.ErrorIs(t, err, session.ErrManualOverrideDisabled)
}

func TestToiletService_OccupancyAlert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)

	_, err = f.svc.HandleSensorEvent(ctx, toilet.ID, "occupied")
	require.NoError(t, err)

	f.advance(15 * time.Minute)
	_, alert, err := f.svc.OccupancyAlert(ctx, toilet.ID)
	require.NoError(t, err)
	assert.False(t, alert.Overstay)

	f.advance(time.Minute)
	_, alert, err = f.svc.OccupancyAlert(ctx, toilet.ID)
	require.NoError(t, err)
	assert.True(t, alert.Overstay)
	assert.Equal(t, 16, alert.Minutes)
}

func TestToiletService_DeleteToiletKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	toilet, err := f.svc.CreateToilet(ctx, "Block A", nil)
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, payment(toilet.ID, "TX1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteToilet(ctx, toilet.ID))
	assert.ErrorIs(t, f.svc.DeleteToilet(ctx, toilet.ID), store.ErrNotFound)

	payments, err := f.svc.ListRecentPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, toilet.ID, payments[0].ToiletID)
	assert.Empty(t, payments[0].ToiletName)
}
