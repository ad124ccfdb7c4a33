package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
)

// Booking operations with their own budget when PerOperation is set.
const (
	OpCreate  = "create"
	OpConfirm = "confirm"
	OpCancel  = "cancel"
)

// gcraScript is a generic cell rate limiter.  The key holds the
// theoretical arrival time (TAT) in ms on the Redis clock, so replicas
// with skewed clocks share one schedule.
// It returns {allowed, remaining, retry_after_ms, reset_ms}.
var gcraScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local every = tonumber(ARGV[2])
local t = redis.call('TIME')
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local tat = tonumber(redis.call('GET', KEYS[1])) or now
if tat < now then
	tat = now
end
local next_tat = tat + every
local allow_at = next_tat - burst * every
if now < allow_at then
	return {0, 0, allow_at - now, tat - now}
end
redis.call('SET', KEYS[1], next_tat, 'PX', next_tat - now)
return {1, math.floor((now - allow_at) / every), 0, next_tat - now}
`)

// BookingLimiter throttles the booking mutations of each requester.  A
// nil or disabled limiter, or one without Redis, lets everything through.
type BookingLimiter struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func NewBookingLimiter(cfg config.RateLimitConfig, rdb *redis.Client) *BookingLimiter {
	return &BookingLimiter{cfg: cfg, rdb: rdb}
}

func (l *BookingLimiter) enabled() bool {
	return l != nil && l.cfg.Enabled && l.rdb != nil
}

// For returns the middleware guarding op.  Redis errors fail open.
func (l *BookingLimiter) For(op string) echo.MiddlewareFunc {
	if !l.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := l.key(c, op)
			vals, err := gcraScript.Run(c.Request().Context(), l.rdb, []string{key},
				l.cfg.Burst, l.cfg.Every.Milliseconds()).Int64Slice()
			if err != nil {
				c.Logger().Warnf("ratelimit %s: %v", key, err)
				return next(c)
			}
			v, ok := parseVerdict(vals)
			if !ok {
				c.Logger().Warnf("ratelimit %s: unexpected reply %v", key, vals)
				return next(c)
			}
			if err := v.write(c, l.cfg.Burst); err != nil || !v.allowed {
				return err
			}
			return next(c)
		}
	}
}

// key buckets by JWT subject.  Anonymous callers share a bucket per
// client address.
func (l *BookingLimiter) key(c echo.Context, op string) string {
	owner := "req:" + RequesterRef(c)
	if owner == "req:" {
		owner = "ip:" + c.RealIP()
	}
	k := l.cfg.Prefix + ":" + owner
	if l.cfg.PerOperation {
		k += ":" + op
	}
	return k
}

type verdict struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
	reset      time.Duration
}

func parseVerdict(vals []int64) (verdict, bool) {
	if len(vals) != 4 {
		return verdict{}, false
	}
	return verdict{
		allowed:    vals[0] == 1,
		remaining:  vals[1],
		retryAfter: time.Duration(vals[2]) * time.Millisecond,
		reset:      time.Duration(vals[3]) * time.Millisecond,
	}, true
}

// write sets the rate limit headers and, when the call is refused, sends
// the 429.
func (v verdict) write(c echo.Context, burst int) error {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(burst))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(v.reset), 10))
	if v.allowed {
		return nil
	}
	secs := ceilSeconds(v.retryAfter)
	h.Set("Retry-After", strconv.FormatInt(secs, 10))
	return c.JSON(http.StatusTooManyRequests, echo.Map{
		"error":       "too many booking requests, slow down",
		"retry_after": secs,
	})
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
