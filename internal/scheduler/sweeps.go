package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

const (
	CompletionJobName   = "booking_completion"
	LockEvictionJobName = "lock_eviction"

	sweepTimeout = 2 * time.Minute
)

// Sweeper is satisfied by *booking.Service.
type Sweeper interface {
	CompleteEnded(ctx context.Context) (int, error)
	ExpireLocks(ctx context.Context) (int, error)
}

// RegisterSweepJobs registers the booking completion and lock eviction jobs.
// Both are idempotent, so an overlapping or failed run is simply redone on
// the next tick; singleton mode keeps runs from piling up.
func RegisterSweepJobs(svc *Service, sweeper Sweeper, completionCron, evictionCron string) error {
	if sweeper == nil {
		return fmt.Errorf("sweep jobs require a sweeper")
	}

	if _, err := svc.AddJob(CompletionJobName, completionCron, func(ctx context.Context) {
		RunCompletion(ctx, sweeper)
	}, gocron.WithSingletonMode(gocron.LimitModeWait)); err != nil {
		return fmt.Errorf("add booking completion job: %w", err)
	}

	if _, err := svc.AddJob(LockEvictionJobName, evictionCron, func(ctx context.Context) {
		RunLockEviction(ctx, sweeper)
	}, gocron.WithSingletonMode(gocron.LimitModeWait)); err != nil {
		return fmt.Errorf("add lock eviction job: %w", err)
	}
	return nil
}

// RunCompletion runs one completion sweep.
func RunCompletion(ctx context.Context, sweeper Sweeper) int {
	jobLogger := log.Ctx(ctx).With().
		Str("component", "booking_completion_job").
		Logger()
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	ctx = jobLogger.WithContext(ctx)

	n, err := sweeper.CompleteEnded(ctx)
	if err != nil {
		jobLogger.Error().Err(err).Msg("Booking completion sweep failed")
		return 0
	}
	if n > 0 {
		jobLogger.Info().Int("completed", n).Msg("Ended bookings completed")
	}
	return n
}

// RunLockEviction runs one expired-lock eviction.
func RunLockEviction(ctx context.Context, sweeper Sweeper) int {
	jobLogger := log.Ctx(ctx).With().
		Str("component", "lock_eviction_job").
		Logger()
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()
	ctx = jobLogger.WithContext(ctx)

	n, err := sweeper.ExpireLocks(ctx)
	if err != nil {
		jobLogger.Error().Err(err).Int("evicted", n).Msg("Lock eviction failed")
		return n
	}
	if n > 0 {
		jobLogger.Debug().Int("evicted", n).Msg("Expired locks evicted")
	}
	return n
}
