package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
)

// captureWriter captures the response body while forwarding it to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	limit  int
	over   bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.over {
		if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
			cw.over = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

// SeatCache caches seat availability responses per trip in Redis.  The
// booking handlers evict a trip's entry after every change to its ledger,
// so the TTL only bounds staleness from other replicas' writes.
type SeatCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
}

// NewSeatCache returns a SeatCache.  A nil client disables caching.
func NewSeatCache(cfg config.CacheConfig, rdb *redis.Client) *SeatCache {
	return &SeatCache{cfg: cfg, rdb: rdb}
}

func (sc *SeatCache) enabled() bool { return sc != nil && sc.cfg.Enabled && sc.rdb != nil }

func (sc *SeatCache) key(tripID string) string { return sc.cfg.Prefix + ":trip:" + tripID }

// Middleware serves GET /trips/:id/seats from the cache when possible and
// stores successful JSON responses on a miss.
func (sc *SeatCache) Middleware() echo.MiddlewareFunc {
	if !sc.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()
			key := sc.key(c.Param("id"))

			if body, err := sc.rdb.Get(ctx, key).Bytes(); err == nil {
				c.Response().Header().Set("X-Cache", "HIT")
				return c.JSONBlob(http.StatusOK, body)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: sc.cfg.MaxBodyBytes}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status == http.StatusOK && !cw.over && cw.buf.Len() > 0 {
				_ = sc.rdb.Set(context.WithoutCancel(ctx), key, cw.buf.Bytes(), sc.cfg.TTL).Err()
			}
			return nil
		}
	}
}

// Invalidate drops the cached availability of a trip.
func (sc *SeatCache) Invalidate(ctx context.Context, tripID uint64) {
	if !sc.enabled() {
		return
	}
	_ = sc.rdb.Del(ctx, sc.key(strconv.FormatUint(tripID, 10))).Err()
}
