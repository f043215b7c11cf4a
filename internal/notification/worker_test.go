package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartengo-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

type fakeStore struct {
	mu      sync.Mutex
	toilets map[string]*model.Toilet
	subs    map[string][]model.PushSubscription
	deleted []string
}

func (f *fakeStore) GetToilet(ctx context.Context, id string) (*model.Toilet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.toilets[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return t, nil
}

func (f *fakeStore) SubscriptionsForToilet(ctx context.Context, toiletID string) ([]model.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[toiletID], nil
}

func (f *fakeStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func (f *fakeStore) deletedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func response(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(""))}
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, &fakeStore{}, &webpush.Options{})

	assert.True(t, wp.Dispatch(Job{ToiletID: "t-1", Kind: KindAvailable}))

	select {
	case job := <-wp.jobs:
		assert.Equal(t, "t-1", job.ToiletID)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	wp := NewWorkerPool(1, &fakeStore{}, &webpush.Options{})
	for i := 0; i < cap(wp.jobs); i++ {
		require.True(t, wp.Dispatch(Job{ToiletID: "t-1", Kind: KindAvailable}))
	}
	assert.False(t, wp.Dispatch(Job{ToiletID: "t-1", Kind: KindAvailable}))
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	store := &fakeStore{
		toilets: map[string]*model.Toilet{"t-1": {ID: "t-1", Name: "Block A"}},
		subs: map[string][]model.PushSubscription{
			"t-1": {{Endpoint: "https://example.com/push", P256DH: "test_p256dh", Auth: "test_auth"}},
			"t-2": {{Endpoint: "https://example.com/fallback", P256DH: "p", Auth: "a"}},
			"t-3": {{Endpoint: "https://example.com/expired", P256DH: "p", Auth: "a"}},
		},
	}
	wp := NewWorkerPool(1, store, &webpush.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	t.Run("sends notification for one subscription", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				assert.Equal(t, "https://example.com/push", sub.Endpoint)
				assert.Equal(t, "test_p256dh", sub.Keys.P256dh)

				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, "Toilet Block A is now available", p.Body)
				assert.Equal(t, KindAvailable, p.Kind)
				return response(http.StatusCreated), nil
			},
		}

		wp.Dispatch(Job{ToiletID: "t-1", Kind: KindAvailable})
		wg.Wait()
	})

	t.Run("falls back to toilet ID when lookup fails", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				defer wg.Done()
				var p Payload
				assert.NoError(t, json.Unmarshal(payload, &p))
				assert.Equal(t, "Toilet t-2 has been occupied for too long", p.Body)
				assert.Equal(t, "Overstay alert", p.Title)
				return response(http.StatusCreated), nil
			},
		}

		wp.Dispatch(Job{ToiletID: "t-2", Kind: KindOverstay})
		wg.Wait()
	})

	t.Run("deletes expired subscription", func(t *testing.T) {
		wp.sender = &mockSender{
			SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
				return response(http.StatusGone), nil
			},
		}

		wp.Dispatch(Job{ToiletID: "t-3", Kind: KindAvailable, Message: "custom"})

		require.Eventually(t, func() bool { return len(store.deletedEndpoints()) == 1 }, time.Second, 10*time.Millisecond)
		assert.Equal(t, []string{"https://example.com/expired"}, store.deletedEndpoints())
	})
}
