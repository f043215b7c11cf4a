// Package events is the realtime change feed: every committed write to a
// toilet, payment or access log is published as an Event.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartengo-backend/internal/util"
)

// Tables carried by the feed.
const (
	TableToilets    = "toilets"
	TablePayments   = "payments"
	TableAccessLogs = "access_logs"
	TableAlerts     = "alerts"
)

// Event types.
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
	TypeDelete = "DELETE"
	TypeAlert  = "ALERT"
)

// Event is one change notification. Record is the row after the change, or
// the alert for TableAlerts.
type Event struct {
	ID       string          `json:"id"`
	Table    string          `json:"table"`
	Type     string          `json:"type"`
	RecordID string          `json:"record_id"`
	Record   json.RawMessage `json:"record,omitempty"`
	At       time.Time       `json:"at"`

	// Origin is the id of the hub that first published the event.
	Origin string `json:"origin"`
}

// NewEvent builds an event around record.
func NewEvent(table, typ, recordID string, record any) Event {
	e := Event{Table: table, Type: typ, RecordID: recordID}
	if record != nil {
		raw, err := json.Marshal(record)
		if err != nil {
			util.GetLogger().Warn("Failed to encode event record",
				zap.String("table", table), zap.String("record_id", recordID), zap.Error(err))
		} else {
			e.Record = raw
		}
	}
	return e
}

// Hub fans events out to in-process subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the event.
type Hub struct {
	id     string
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub with a fresh instance id.
func NewHub() *Hub {
	return &Hub{
		id:   uuid.NewString(),
		subs: make(map[*Subscription]struct{}),
	}
}

// ID identifies this hub as an event origin.
func (h *Hub) ID() string {
	return h.id
}

// Publish delivers e to every matching subscriber. Missing ID, At and Origin
// are filled in.
func (h *Hub) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Origin == "" {
		e.Origin = h.id
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.wants(e.Table) {
			continue
		}
		select {
		case s.c <- e:
		default:
			util.EventsDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a subscriber for the given tables, or for every table
// when none is given. buffer is the channel capacity.
func (h *Hub) Subscribe(buffer int, tables ...string) *Subscription {
	c := make(chan Event, buffer)
	s := &Subscription{C: c, c: c, hub: h}
	if len(tables) > 0 {
		s.tables = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			s.tables[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(c) })
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close ends every subscription, closing their channels, and makes later
// subscriptions start closed. Long-lived readers such as event streams use
// it to finish during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.c) })
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscription is a live registration on a Hub.
type Subscription struct {
	C <-chan Event

	c      chan Event
	tables map[string]struct{}
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) wants(table string) bool {
	if s.tables == nil {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

// Cancel unregisters the subscription and closes C. It is safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.c)
	})
}
