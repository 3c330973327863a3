package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/memberhub/internal/clock"
	"github.com/smallbiznis/memberhub/internal/lock"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireOrders      = "expire_orders"
	JobExpireMemberships = "expire_memberships"
)

// maxOrderBatches bounds a single expire_orders run; the next tick picks up
// whatever is left.
const maxOrderBatches = 50

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrUnknownJob    = errors.New("scheduler_unknown_job")
)

type Params struct {
	fx.In

	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	OrderSvc      orderdomain.Service
	MembershipSvc membershipdomain.Service
	Locker        *lock.Locker `optional:"true"`
	Config        Config       `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	orderSvc      orderdomain.Service
	membershipSvc membershipdomain.Service
	locker        *lock.Locker
	cron          *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.OrderSvc == nil || p.MembershipSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		orderSvc:      p.OrderSvc,
		membershipSvc: p.MembershipSvc,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()

	err := s.locker.Do(ctx, lock.Key("job", name), s.cfg.LockTTL, func(ctx context.Context) error {
		if owner {
			s.logJobStart(ctx, run)
		}
		schedMetrics.IncJobRun(name, run.trigger)
		return fn(ctx)
	})
	if errors.Is(err, lock.ErrHeld) {
		schedMetrics.IncJobSkipped(name, obsmetrics.SchedulerSkipReasonLockHeld)
		log.Debug("job skipped, another runner holds the lock")
		return nil
	}

	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errors == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		schedMetrics.MarkJobSuccess(name, s.clock.Now())
		return nil
	}

	// deadline is a soft timeout: the next tick resumes the batch
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunJob runs one named job immediately under the same locking and metrics
// as the cron schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	switch name {
	case JobExpireOrders:
		return s.runJob(ctx, name, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireOrdersJob)
	case JobExpireMemberships:
		return s.runJob(ctx, name, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireMembershipsJob)
	}
	return ErrUnknownJob
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, name := range []string{JobExpireOrders, JobExpireMemberships} {
		err = errors.Join(err, s.RunJob(parent, name))
	}
	return err
}

// Start registers the jobs on a cron schedule. Runs of the same job never
// overlap within a process; the Redis lock covers other replicas.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entries := []struct {
		name string
		spec string
	}{
		{JobExpireOrders, s.cfg.ExpireOrdersSpec},
		{JobExpireMemberships, s.cfg.ExpireMembershipsSpec},
	}
	for _, entry := range entries {
		name := entry.name
		if _, err := c.AddFunc(entry.spec, func() {
			if err := s.RunJob(withTrigger(ctx, triggerCron), name); err != nil {
				s.log.Warn("scheduler run failed", zap.String("job", name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", name, entry.spec, err)
		}
	}

	s.cron = c
	c.Start()
	s.log.Info("scheduler started",
		zap.String("expire_orders", s.cfg.ExpireOrdersSpec),
		zap.String("expire_memberships", s.cfg.ExpireMembershipsSpec),
	)
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) ExpireOrdersJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireOrders, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()

	for i := 0; i < maxOrderBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := s.orderSvc.ExpirePendingOrders(ctx, s.clock.Now(), s.cfg.BatchSize)
		run.record("order", count)
		schedMetrics.AddBatchProcessed(JobExpireOrders, "order", count)
		if err != nil {
			s.logSchedulerError(ctx, run, "expire orders batch failed", err, zap.Int("batch", i))
			return err
		}
		if count < s.cfg.BatchSize {
			return nil
		}
	}
	return nil
}

func (s *Scheduler) ExpireMembershipsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireMemberships, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	count, err := s.membershipSvc.ExpireMemberships(ctx, s.clock.Now(), s.cfg.BatchSize)
	run.record("membership", count)
	obsmetrics.Scheduler().AddBatchProcessed(JobExpireMemberships, "membership", count)
	if err != nil {
		s.logSchedulerError(ctx, run, "expire memberships failed", err)
		return err
	}
	return nil
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
