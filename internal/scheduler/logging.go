package scheduler

import (
	"context"
	"sort"
	"time"

	obscontext "github.com/smallbiznis/memberhub/internal/observability/context"
	obslogger "github.com/smallbiznis/memberhub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	triggerCron   = "cron"
	triggerManual = "manual"
)

type triggerKey struct{}

// withTrigger marks how a run was started. Runs without a trigger are manual
// (memberctl or an operator).
func withTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFromContext(ctx context.Context) string {
	if trigger, ok := ctx.Value(triggerKey{}).(string); ok && trigger != "" {
		return trigger
	}
	return triggerManual
}

// jobRun accumulates what one execution of a job touched. Nested job calls
// share the outer run.
type jobRun struct {
	job       string
	runID     string
	trigger   string
	batchSize int
	startedAt time.Time
	processed map[string]int
	errors    int
}

type jobRunKey struct{}

func (r *jobRun) record(resource string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processed[resource] += count
}

func (r *jobRun) total() int {
	n := 0
	for _, count := range r.processed {
		n += count
	}
	return n
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errors++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		trigger:   triggerFromContext(ctx),
		batchSize: batchSize,
		startedAt: time.Now(),
		processed: map[string]int{},
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("trigger", run.trigger),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("trigger", run.trigger),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.total()),
		zap.Int("error_count", run.errors),
	}
	resources := make([]string, 0, len(run.processed))
	for resource := range run.processed {
		resources = append(resources, resource)
	}
	sort.Strings(resources)
	for _, resource := range resources {
		fields = append(fields, zap.Int(resource+"_processed", run.processed[resource]))
	}

	log := s.logger(ctx)
	if run.errors > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	job := ""
	if run != nil {
		run.IncError()
		job = run.job
	}
	s.logger(ctx).Error(msg, append([]zap.Field{
		zap.String("job", job),
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	}, fields...)...)
}
