package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vitalmesh/consentd/internal/lifecycle"
	"github.com/vitalmesh/consentd/internal/store"
	"github.com/vitalmesh/consentd/pkg/logger"
	"github.com/vitalmesh/consentd/pkg/metrics"
)

const defaultSweepSpec = "@every 5m"

// Reaper reconciles stored status with effective status: grants whose expiry
// has passed are demoted to denied on a schedule, independent of any read.
// Reads stay correct without it (the engine projects effective status); the
// reaper just keeps storage from drifting indefinitely.
type Reaper struct {
	requests *store.RequestStore
	engine   *lifecycle.Engine
	cron     *cron.Cron
	schedule string
	now      func() time.Time
	log      *zap.Logger
}

// Option customises the Reaper.
type Option func(*Reaper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Reaper) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the sweep.
func WithSchedule(spec string) Option {
	return func(r *Reaper) {
		if spec != "" {
			r.schedule = spec
		}
	}
}

// WithNow overrides the clock used to decide which grants have lapsed.
func WithNow(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReaper constructs a Reaper with a five minute default cadence.
func NewReaper(requests *store.RequestStore, engine *lifecycle.Engine, opts ...Option) (*Reaper, error) {
	if requests == nil {
		return nil, errors.New("reaper: request store is required")
	}
	if engine == nil {
		return nil, errors.New("reaper: lifecycle engine is required")
	}

	reaper := &Reaper{
		requests: requests,
		engine:   engine,
		schedule: defaultSweepSpec,
		now:      time.Now,
		log:      logger.WithModule("reaper"),
	}

	for _, opt := range opts {
		opt(reaper)
	}

	if reaper.cron == nil {
		reaper.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return reaper, nil
}

// Start registers the sweep with the cron scheduler and launches it.
func (r *Reaper) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		stats, err := r.Sweep(context.Background())
		if err != nil {
			r.log.Warn("expiry sweep finished with errors",
				zap.Int("expired", stats.Expired),
				zap.Int("failed", stats.Failed),
				zap.Error(err))
		}
	}); err != nil {
		return err
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running sweep to complete.
func (r *Reaper) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// Sweep demotes every lapsed grant it can find. Failures on individual
// records are isolated: they are logged, aggregated into the returned error
// and the sweep moves on. Losing a transition race (to a revoke or a
// concurrent sweep) is not a failure.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	stats := SweepStats{}

	lapsed, err := r.requests.ListExpired(ctx, r.now().UTC())
	if err != nil {
		metrics.ReaperSweeps.WithLabelValues("partial").Inc()
		return stats, err
	}

	var errs error
	for i := range lapsed {
		record := &lapsed[i]
		stats.Scanned++

		swept, expireErr := r.engine.Expire(ctx, record)
		switch {
		case expireErr != nil:
			stats.Failed++
			r.log.Warn("failed to expire grant",
				zap.String("request_id", record.ID),
				zap.Error(expireErr))
			errs = multierr.Append(errs, expireErr)
		case swept:
			stats.Expired++
			metrics.ReaperExpired.Inc()
		default:
			stats.Skipped++
		}
	}

	if errs != nil {
		metrics.ReaperSweeps.WithLabelValues("partial").Inc()
	} else {
		metrics.ReaperSweeps.WithLabelValues("success").Inc()
	}

	return stats, errs
}
