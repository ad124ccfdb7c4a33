package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/anushagandi23-hash/bus-seat-reservation/internal/clock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/config"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/lock"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/model"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/queue"
	"github.com/anushagandi23-hash/bus-seat-reservation/internal/repository"
)

// sweepLockName is the lease every replica competes for.
const sweepLockName = "booking-sweep"

// Locker grants a lease shared across replicas.  lock.RedisLocker is the
// production implementation.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// SeatCache drops cached seat summaries of a trip.
// middleware.SeatCache is the production implementation.
type SeatCache interface {
	Invalidate(ctx context.Context, tripID uint64)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	// Locked is set when another replica held the sweep lease.
	Locked bool `json:"locked,omitempty"`
}

// Sweeper fails PENDING bookings whose hold lapsed and frees their seats.
type Sweeper struct {
	store  repository.Store
	clock  clock.Clock
	policy config.Policy
	events EventPublisher
	locker Locker
	cache  SeatCache
	log    *log.Helper

	group singleflight.Group
}

// NewSweeper wires a Sweeper.  locker may be nil when only a single
// replica runs; events may be nil to drop events.
func NewSweeper(store repository.Store, clk clock.Clock, policy config.Policy, events EventPublisher, locker Locker, logger log.Logger) *Sweeper {
	if clk == nil {
		clk = clock.Real()
	}
	if events == nil {
		events = queue.Discard{}
	}
	return &Sweeper{
		store:  store,
		clock:  clk,
		policy: policy,
		events: events,
		locker: locker,
		log:    moduleLogger(logger, "booking/sweeper"),
	}
}

// SetCache makes every sweep evict the seat summaries of the trips whose
// holds it released.  Call it before Run.
func (s *Sweeper) SetCache(c SeatCache) {
	s.cache = c
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Infof("expiry sweeper started, interval %s, hold %s", s.policy.SweepInterval, s.policy.HoldDuration)
	ticker := time.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Errorf("sweep failed: %v", err)
				}
				continue
			}
			if res.Expired > 0 || res.Failed > 0 {
				s.log.Infof("sweep: scanned=%d expired=%d skipped=%d failed=%d", res.Scanned, res.Expired, res.Skipped, res.Failed)
			}
		}
	}
}

// Sweep runs one scan-and-release cycle.  Overlapping calls in this
// process share a single run.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := s.group.Do(sweepLockName, func() (interface{}, error) {
		return s.sweepLocked(ctx)
	})
	if err != nil {
		return SweepResult{}, err
	}
	return v.(SweepResult), nil
}

func (s *Sweeper) sweepLocked(ctx context.Context) (SweepResult, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, sweepLockName, s.policy.SweepLockTTL)
		if errors.Is(err, lock.ErrNotAcquired) {
			return SweepResult{Locked: true}, nil
		}
		if err != nil {
			// sweeping twice is safe, so a lock outage does not stop it
			s.log.Warnf("sweep lease unavailable, sweeping without it: %v", err)
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warnf("release sweep lease: %v", err)
				}
			}()
		}
	}
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	ids, err := s.store.ListExpiredPending(ctx, s.clock.Now(), s.policy.SweepBatchSize)
	if err != nil {
		return res, fmt.Errorf("list expired bookings: %w", err)
	}
	res.Scanned = len(ids)
	touched := make(map[uint64]struct{})
	defer s.invalidate(ctx, touched)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b, err := s.expire(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			s.log.Errorf("expire booking %s: %v", id, err)
		case b == nil:
			res.Skipped++
		default:
			res.Expired++
			touched[b.TripID] = struct{}{}
			publishEvent(ctx, s.events, s.log, queue.EventExpired, b, s.clock.Now())
		}
	}
	return res, nil
}

// invalidate evicts each touched trip once, even when the sweep was
// cancelled halfway.
func (s *Sweeper) invalidate(ctx context.Context, trips map[uint64]struct{}) {
	if s.cache == nil || len(trips) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for id := range trips {
		s.cache.Invalidate(ctx, id)
	}
}

// expire fails one booking in its own transaction.  It returns nil when
// the booking was no longer eligible, e.g. because a confirm won the race.
func (s *Sweeper) expire(ctx context.Context, id string) (*model.Booking, error) {
	var out *model.Booking
	attempt := func() error {
		out = nil
		now := s.clock.Now()
		return s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			b, err := tx.GetBookingForUpdate(ctx, id)
			if errors.Is(err, repository.ErrBookingNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if b.Status != model.BookingPending || !b.HoldExpired(now) {
				return nil
			}
			if _, err := releaseBooking(ctx, tx, b, now); err != nil {
				return err
			}
			b.Status = model.BookingFailed
			b.ExpiredAt = &now
			out = b
			return nil
		})
	}
	err := attempt()
	if errors.Is(err, ErrStoreConflict) {
		err = attempt()
	}
	return out, err
}
