package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/util"
)

// Job kinds.
const (
	KindAvailable = "available"
	KindOverstay  = "overstay"
)

// Job asks the pool to notify every subscriber of a toilet.
type Job struct {
	ToiletID string
	Kind     string
	// Message overrides the default text for Kind.
	Message string
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ToiletID string `json:"toilet_id"`
	Kind     string `json:"kind"`
}

// SubscriptionStore is the part of the store the pool needs.
type SubscriptionStore interface {
	GetToilet(ctx context.Context, id string) (*model.Toilet, error)
	SubscriptionsForToilet(ctx context.Context, toiletID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, store SubscriptionStore, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, size*16),
		store:   store,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  util.GetLogger().Named("notification"),
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("Worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-wp.jobs:
			wp.logger.Debug("Worker processing job",
				zap.Int("worker", id), zap.String("toilet_id", job.ToiletID), zap.String("kind", job.Kind))
			wp.sendNotificationsForToilet(ctx, job)
		case <-ctx.Done():
			wp.logger.Debug("Worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues a job without blocking. It reports false when the queue is
// full and the job was dropped.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		wp.logger.Warn("Notification queue full, dropping job",
			zap.String("toilet_id", job.ToiletID), zap.String("kind", job.Kind))
		util.NotificationsSentTotal.WithLabelValues(job.Kind, "dropped").Inc()
		return false
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// sendNotificationsForToilet fetches subscriptions and sends notifications for a given toilet.
func (wp *WorkerPool) sendNotificationsForToilet(ctx context.Context, job Job) {
	subscriptions, err := wp.store.SubscriptionsForToilet(ctx, job.ToiletID)
	if err != nil {
		wp.logger.Error("Error fetching subscriptions", zap.String("toilet_id", job.ToiletID), zap.Error(err))
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	wp.logger.Info("Sending notifications",
		zap.Int("count", len(subscriptions)), zap.String("toilet_id", job.ToiletID), zap.String("kind", job.Kind))

	label := job.ToiletID
	if t, err := wp.store.GetToilet(ctx, job.ToiletID); err != nil {
		wp.logger.Warn("Error fetching toilet", zap.String("toilet_id", job.ToiletID), zap.Error(err))
	} else if t.Name != "" {
		label = t.Name
	}

	payload, err := json.Marshal(buildPayload(job, label))
	if err != nil {
		wp.logger.Error("Error encoding notification", zap.Error(err))
		return
	}
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, job.Kind, sub, payload)
	}
}

func buildPayload(job Job, label string) Payload {
	p := Payload{ToiletID: job.ToiletID, Kind: job.Kind, Body: job.Message}
	switch job.Kind {
	case KindOverstay:
		p.Title = "Overstay alert"
		if p.Body == "" {
			p.Body = fmt.Sprintf("Toilet %s has been occupied for too long", label)
		}
	default:
		p.Title = "Toilet available"
		if p.Body == "" {
			p.Body = fmt.Sprintf("Toilet %s is now available", label)
		}
	}
	return p
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, kind string, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("Error sending notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		util.NotificationsSentTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("Subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		util.NotificationsSentTotal.WithLabelValues(kind, "expired").Inc()
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.logger.Error("Failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return
	}
	util.NotificationsSentTotal.WithLabelValues(kind, "sent").Inc()
}
