package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartengo-backend/config"
	"smartengo-backend/internal/api"
	"smartengo-backend/internal/auth"
	"smartengo-backend/internal/db"
	"smartengo-backend/internal/events"
	"smartengo-backend/internal/model"
	"smartengo-backend/internal/monitor"
	"smartengo-backend/internal/service"
	"smartengo-backend/internal/session"
	"smartengo-backend/internal/store"
)

// TestSessionLifecycle drives one paid visit end to end: an operator creates
// the toilet, the payment webhook opens the door, the sensor reports the
// visitor in, the monitor flags the overstay and the sensor reports them out.
func TestSessionLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---
	gormDB, err := db.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	cfg := config.Config{}
	cfg.WorkerPool.Size = 1
	cfg.ApplyDefaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	policy := session.DefaultPolicy()
	appStore := store.NewGormStore(gormDB, policy.OverstayThreshold)
	hub := events.NewHub()
	svc := service.NewToiletService(appStore, hub, nil, policy)
	manager := auth.NewManager("integration-secret", time.Hour)

	router := api.NewRouter(api.Deps{
		Server:  cfg.Server,
		Service: svc,
		Store:   appStore,
		Auth:    manager,
		Hub:     hub,
	})

	token, err := manager.Issue(&model.AdminUser{ID: uuid.NewString(), Email: "ops@example.com", Role: model.RoleModerator}, time.Now())
	require.NoError(t, err)

	call := func(method, path string, body any, out any) int {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if out != nil {
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
		}
		return w.Code
	}

	alerts := hub.Subscribe(4, events.TableAlerts)
	defer alerts.Cancel()

	// --- Step 1: create the toilet ---
	var toilet model.Toilet
	require.Equal(t, http.StatusCreated, call(http.MethodPost, "/api/admin/toilets", map[string]any{"name": "Kimironko 1"}, &toilet))

	// --- Step 2: the visitor pays ---
	var paid struct {
		Success   bool   `json:"success"`
		PaymentID string `json:"payment_id"`
	}
	require.Equal(t, http.StatusOK, call(http.MethodPost, "/functions/v1/payment-webhook", map[string]any{
		"toilet_id": toilet.ID, "amount": 200, "payment_method": "momo", "payment_reference": "MOMO-0001",
	}, &paid))
	assert.True(t, paid.Success)

	// --- Step 3: the sensor sees the visitor walk in ---
	var sensed struct {
		Data model.Toilet `json:"data"`
	}
	require.Equal(t, http.StatusOK, call(http.MethodPost, "/functions/v1/sensor-update", map[string]any{
		"toilet_id": toilet.ID, "sensor_status": "occupied",
	}, &sensed))
	assert.True(t, sensed.Data.IsOccupied)
	assert.True(t, sensed.Data.IsPaid)
	assert.False(t, sensed.Data.ManualOpenEnabled)

	// --- Step 4: the monitor flags the overstay, once ---
	time.Sleep(5 * time.Millisecond)
	overstay := monitor.NewService(config.MonitorConfig{Enabled: true, Interval: time.Minute}, time.Millisecond, appStore, hub, nil)
	assert.Equal(t, 1, overstay.CheckOnce(context.Background()))
	assert.Equal(t, 0, overstay.CheckOnce(context.Background()))

	select {
	case e := <-alerts.C:
		assert.Equal(t, toilet.ID, e.RecordID)
		assert.Equal(t, events.TypeAlert, e.Type)
	case <-time.After(time.Second):
		t.Fatal("expected an overstay alert on the change feed")
	}

	// --- Step 5: the visitor leaves ---
	require.Equal(t, http.StatusOK, call(http.MethodPost, "/functions/v1/sensor-update", map[string]any{
		"toilet_id": toilet.ID, "sensor_status": "available",
	}, &sensed))
	assert.False(t, sensed.Data.IsOccupied)
	assert.False(t, sensed.Data.IsPaid)
	assert.Nil(t, sensed.Data.OccupiedSince)
	assert.Equal(t, model.StatusAvailable, sensed.Data.Status)

	// --- Verification ---
	var logs []model.AccessLog
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/api/admin/access-logs/recent", nil, &logs))
	require.Len(t, logs, 1, "the payment and the sensor report share one session")
	entry := logs[0]
	require.NotNil(t, entry.PaymentID)
	assert.Equal(t, paid.PaymentID, *entry.PaymentID)
	assert.NotNil(t, entry.ExitTime)
	require.NotNil(t, entry.DurationMinutes)
	assert.Equal(t, 0, *entry.DurationMinutes)
	assert.True(t, entry.SecurityAlert)
	assert.NotNil(t, entry.AlertReason)
	assert.Equal(t, "Kimironko 1", entry.ToiletName)

	var payments []model.Payment
	require.Equal(t, http.StatusOK, call(http.MethodGet, "/api/admin/payments/recent", nil, &payments))
	require.Len(t, payments, 1)
	assert.Equal(t, "MOMO-0001", payments[0].Reference)
	assert.Equal(t, int64(200), payments[0].Amount)
}
