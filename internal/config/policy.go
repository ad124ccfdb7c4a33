package config

import (
	"fmt"
	"time"
)

// Policy holds the tunable values of the booking core.
type Policy struct {
	HoldDuration    time.Duration // lifetime of a PENDING hold
	SweepInterval   time.Duration // period of the expiry sweeper
	SweepBatchSize  int           // max bookings expired per sweep
	MaxSeats        int           // max seats in a single booking
	ConflictBackoff time.Duration // pause before the single retry of an aborted transaction
	SweepLockTTL    time.Duration // lease of the cross-replica sweep lock
}

// DefaultPolicy returns the stock policy: 2 minute holds swept every minute.
func DefaultPolicy() Policy {
	return Policy{
		HoldDuration:    2 * time.Minute,
		SweepInterval:   time.Minute,
		SweepBatchSize:  500,
		MaxSeats:        10,
		ConflictBackoff: 50 * time.Millisecond,
		SweepLockTTL:    30 * time.Second,
	}
}

// LoadPolicy reads BOOKING_* variables on top of DefaultPolicy.
func LoadPolicy() (Policy, error) {
	def := DefaultPolicy()
	p := Policy{
		HoldDuration:    envDur("BOOKING_HOLD_DURATION", def.HoldDuration),
		SweepInterval:   envDur("BOOKING_SWEEP_INTERVAL", def.SweepInterval),
		SweepBatchSize:  envInt("BOOKING_SWEEP_BATCH", def.SweepBatchSize),
		MaxSeats:        envInt("BOOKING_MAX_SEATS", def.MaxSeats),
		ConflictBackoff: envDur("BOOKING_CONFLICT_BACKOFF", def.ConflictBackoff),
		SweepLockTTL:    envDur("BOOKING_SWEEP_LOCK_TTL", def.SweepLockTTL),
	}
	return p, p.Validate()
}

// Validate rejects values the booking core cannot run with.
func (p Policy) Validate() error {
	switch {
	case p.HoldDuration <= 0:
		return fmt.Errorf("hold duration must be positive, got %s", p.HoldDuration)
	case p.SweepInterval <= 0:
		return fmt.Errorf("sweep interval must be positive, got %s", p.SweepInterval)
	case p.SweepBatchSize < 1:
		return fmt.Errorf("sweep batch size must be at least 1, got %d", p.SweepBatchSize)
	case p.MaxSeats < 1:
		return fmt.Errorf("max seats must be at least 1, got %d", p.MaxSeats)
	case p.ConflictBackoff < 0:
		return fmt.Errorf("conflict backoff must not be negative, got %s", p.ConflictBackoff)
	}
	return nil
}
