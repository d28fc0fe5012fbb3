// Package circuitbreaker implements the three-state breaker in front of
// the single upstream this gateway fronts. State lives in the shared
// store under one fixed key, so every replica observes and drives the
// same state machine.
//
// The state shape (CLOSED/OPEN/HALF_OPEN, failure/success counters, last
// transition time) lives entirely in the store rather than in process
// memory, so a full three-state machine with independent failure and
// success counters is cheap to keep, rather than collapsing OPEN and
// HALF_OPEN into a single "unhealthy" bit.
package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/arvela/resily/internal/core/domain"
	"github.com/arvela/resily/internal/core/ports"
)

const (
	stateKey = "circuit_breaker:upstream_service"
)

// Config holds the breaker's thresholds.
type Config struct {
	FailureThreshold         int
	ResetTimeoutSeconds      int
	HalfOpenSuccessThreshold int
}

// Breaker is the store-backed ports.CircuitBreaker.
type Breaker struct {
	store  ports.StoreClient
	clock  ports.Clock
	config Config
}

// New builds a Breaker. clock may be ports.SystemClock{} in production.
func New(store ports.StoreClient, clock ports.Clock, cfg Config) *Breaker {
	return &Breaker{store: store, clock: clock, config: cfg}
}

func (b *Breaker) BeforeRequest(ctx context.Context) (bool, domain.BreakerState, error) {
	record, err := b.read(ctx)
	if err != nil {
		return false, domain.BreakerClosed, err
	}

	now := b.clock.Now().Unix()

	if record.State == domain.BreakerOpen {
		if now-record.LastStateChangeTime >= int64(b.config.ResetTimeoutSeconds) {
			if err := b.transition(ctx, domain.BreakerHalfOpen); err != nil {
				return false, domain.BreakerOpen, err
			}
			return true, domain.BreakerHalfOpen, nil
		}
		return false, domain.BreakerOpen, nil
	}

	return true, record.State, nil
}

func (b *Breaker) RecordSuccess(ctx context.Context) error {
	record, err := b.read(ctx)
	if err != nil {
		return err
	}

	switch record.State {
	case domain.BreakerClosed:
		if record.FailureCount == 0 {
			return nil
		}
		return b.writeFields(ctx, map[string]string{"failure_count": "0"})
	case domain.BreakerHalfOpen:
		successCount := record.SuccessCount + 1
		if successCount >= b.config.HalfOpenSuccessThreshold {
			return b.transition(ctx, domain.BreakerClosed)
		}
		return b.writeFields(ctx, map[string]string{"success_count": strconv.Itoa(successCount)})
	default:
		return nil
	}
}

func (b *Breaker) RecordFailure(ctx context.Context) error {
	record, err := b.read(ctx)
	if err != nil {
		return err
	}

	switch record.State {
	case domain.BreakerClosed:
		failureCount := record.FailureCount + 1
		if failureCount >= b.config.FailureThreshold {
			return b.transition(ctx, domain.BreakerOpen)
		}
		return b.writeFields(ctx, map[string]string{"failure_count": strconv.Itoa(failureCount)})
	case domain.BreakerHalfOpen:
		return b.transition(ctx, domain.BreakerOpen)
	default:
		return nil
	}
}

// read returns the current record, initialising it to CLOSED on first use.
func (b *Breaker) read(ctx context.Context) (domain.BreakerRecord, error) {
	fields, err := b.store.ReadAll(ctx, stateKey)
	if err != nil {
		return domain.BreakerRecord{}, fmt.Errorf("circuit breaker read: %w", err)
	}

	if len(fields) == 0 {
		record := domain.BreakerRecord{
			State:               domain.BreakerClosed,
			LastStateChangeTime: b.clock.Now().Unix(),
		}
		if err := b.write(ctx, record); err != nil {
			return domain.BreakerRecord{}, err
		}
		return record, nil
	}

	record := domain.BreakerRecord{State: domain.BreakerClosed}
	if v, ok := fields["state"]; ok {
		record.State = domain.BreakerState(v)
	}
	if v, ok := fields["failure_count"]; ok {
		record.FailureCount, _ = strconv.Atoi(v)
	}
	if v, ok := fields["success_count"]; ok {
		record.SuccessCount, _ = strconv.Atoi(v)
	}
	if v, ok := fields["last_state_change_time"]; ok {
		record.LastStateChangeTime, _ = strconv.ParseInt(v, 10, 64)
	}
	return record, nil
}

// transition moves to a new state, resetting both counters.
func (b *Breaker) transition(ctx context.Context, state domain.BreakerState) error {
	now := b.clock.Now().Unix()
	return b.write(ctx, domain.BreakerRecord{
		State:               state,
		FailureCount:        0,
		SuccessCount:        0,
		LastStateChangeTime: now,
	})
}

func (b *Breaker) write(ctx context.Context, record domain.BreakerRecord) error {
	return b.writeFields(ctx, map[string]string{
		"state":                  string(record.State),
		"failure_count":          strconv.Itoa(record.FailureCount),
		"success_count":          strconv.Itoa(record.SuccessCount),
		"last_state_change_time": strconv.FormatInt(record.LastStateChangeTime, 10),
	})
}

// writeFields merges fields into the breaker's record. Unlike the rate
// limiter's bucket, this key carries no TTL: it is meant to survive the
// proxy process and outlive any single replica (spec.md §3, §6).
func (b *Breaker) writeFields(ctx context.Context, fields map[string]string) error {
	if err := b.store.WriteFields(ctx, stateKey, fields); err != nil {
		return fmt.Errorf("circuit breaker write: %w", err)
	}
	return nil
}
