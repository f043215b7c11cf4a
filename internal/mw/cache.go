package mw

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"smartengo-backend/internal/events"
	"smartengo-backend/internal/util"
)

// snapshot is one cached dashboard read.
type snapshot struct {
	contentType string
	body        []byte
}

// recordingWriter tees the response body so it can be cached once the
// handler returns.
type recordingWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// cacheKey normalizes the query so ?a=1&b=2 and ?b=2&a=1 share an entry.
func cacheKey(r *http.Request) string {
	if q := r.URL.Query(); len(q) > 0 {
		return r.URL.Path + "?" + q.Encode()
	}
	return r.URL.Path
}

// ReadCache serves repeated GETs of the dashboard list from memory and is
// emptied on every toilet change. A flush bumps the generation; a response
// whose handler ran across a flush is not stored, since it may have read the
// state the flush was for.
type ReadCache struct {
	store *cache.Cache
	ttl   time.Duration

	mu  sync.Mutex
	gen uint64
}

func NewReadCache(ttl time.Duration) *ReadCache {
	return &ReadCache{store: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Flush drops every entry and invalidates responses still being built.
func (rc *ReadCache) Flush() {
	rc.mu.Lock()
	rc.gen++
	rc.store.Flush()
	rc.mu.Unlock()
}

// Len is the number of stored responses.
func (rc *ReadCache) Len() int {
	return rc.store.ItemCount()
}

func (rc *ReadCache) generation() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.gen
}

// storeIfCurrent saves snap unless a flush happened since gen was read.
func (rc *ReadCache) storeIfCurrent(key string, gen uint64, snap snapshot) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.gen != gen {
		return false
	}
	rc.store.Set(key, snap, rc.ttl)
	return true
}

// Middleware stores only 200 responses; a request sent with
// Cache-Control: no-cache skips the lookup and refreshes the entry. Hits
// carry X-Cache: HIT.
func (rc *ReadCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := cacheKey(c.Request)
		if c.GetHeader("Cache-Control") != "no-cache" {
			if v, ok := rc.store.Get(key); ok {
				util.CacheLookupsTotal.WithLabelValues("hit").Inc()
				snap := v.(snapshot)
				c.Header("X-Cache", "HIT")
				c.Data(http.StatusOK, snap.contentType, snap.body)
				c.Abort()
				return
			}
		}
		util.CacheLookupsTotal.WithLabelValues("miss").Inc()

		gen := rc.generation()
		rec := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if rec.Status() != http.StatusOK || c.IsAborted() {
			return
		}
		stored := rc.storeIfCurrent(key, gen, snapshot{
			contentType: rec.Header().Get("Content-Type"),
			body:        bytes.Clone(rec.buf.Bytes()),
		})
		if !stored {
			util.GetLogger().Debug("Response not cached, flushed while in flight", zap.String("key", key))
		}
	}
}

// FlushOnChange flushes whenever a toilet changes, so the dashboard never
// reads a state older than the last committed write. It returns when ctx is
// done or the hub is closed.
func (rc *ReadCache) FlushOnChange(ctx context.Context, hub *events.Hub) {
	sub := hub.Subscribe(64, events.TableToilets)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			rc.Flush()
			util.GetLogger().Debug("Response cache flushed", zap.String("record_id", e.RecordID), zap.String("type", e.Type))
		}
	}
}
