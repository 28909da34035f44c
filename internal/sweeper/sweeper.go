// Package sweeper periodically switches off coupons and promotions whose
// validity window has passed.
package sweeper

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 10 * time.Minute

// Expirer deactivates records past their end date.
type Expirer interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Target is a named set of records to sweep.
type Target struct {
	Name    string
	Expirer Expirer
}

// Sweeper runs the expiry sweep on a fixed interval.
type Sweeper struct {
	targets  []Target
	interval time.Duration
	now      func() time.Time
}

// New creates a Sweeper over the given targets.
func New(interval time.Duration, targets ...Target) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{targets: targets, interval: interval, now: time.Now}
}

// Sweep deactivates expired records of every target once. All targets are
// attempted; the errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) error {
	lg := zctx.From(ctx)
	now := s.now()

	var errs []error
	for _, t := range s.targets {
		n, err := t.Expirer.DeactivateExpired(ctx, now)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "sweep %s", t.Name))
			continue
		}
		if n > 0 {
			lg.Info("Deactivated expired records", zap.String("target", t.Name), zap.Int64("count", n))
		}
	}
	return multierr.Combine(errs...)
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	lg := zctx.From(ctx)

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.Sweep(ctx); err != nil {
				lg.Error("Expiry sweep failed", zap.Error(err))
			}
		}),
		gocron.WithName("expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return errors.Wrap(err, "schedule sweep")
	}

	sched.Start()
	lg.Info("Expiry sweeper started", zap.Duration("interval", s.interval))

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown scheduler")
	}
	return nil
}
