package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/memberhub/internal/clock"
	membershipdomain "github.com/smallbiznis/memberhub/internal/membership/domain"
	obsmetrics "github.com/smallbiznis/memberhub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/memberhub/internal/order/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrderService struct {
	orderdomain.Service
	batches []int
	calls   int
	limits  []int
	err     error
}

func (f *fakeOrderService) ExpirePendingOrders(ctx context.Context, now time.Time, limit int) (int, error) {
	f.limits = append(f.limits, limit)
	if f.calls >= len(f.batches) {
		f.calls++
		return 0, f.err
	}
	count := f.batches[f.calls]
	f.calls++
	return count, nil
}

type fakeMembershipService struct {
	membershipdomain.Service
	now   time.Time
	count int
	err   error
}

func (f *fakeMembershipService) ExpireMemberships(ctx context.Context, now time.Time, limit int) (int, error) {
	f.now = now
	return f.count, f.err
}

func newTestScheduler(t *testing.T, orders *fakeOrderService, memberships *fakeMembershipService, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 5, 1, 0, 15, 0, 0, time.UTC)),
		OrderSvc:      orders,
		MembershipSvc: memberships,
		Config:        cfg,
	})
	require.NoError(t, err)
	return s
}

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "memberhub",
		Environment: "test",
	})
	return registry
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: 5 * time.Minute}.withDefaults()
	assert.Equal(t, "@every 5m", cfg.ExpireOrdersSpec)
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := withTestRegistry(t)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), cfg: DefaultConfig()}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "memberhub",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "memberhub_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "memberhub",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "memberhub_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestExpireOrdersJobDrainsFullBatches(t *testing.T) {
	registry := withTestRegistry(t)
	orders := &fakeOrderService{batches: []int{10, 10, 3}}
	s := newTestScheduler(t, orders, &fakeMembershipService{}, Config{BatchSize: 10})

	require.NoError(t, s.RunJob(context.Background(), JobExpireOrders))
	assert.Equal(t, 3, orders.calls)
	assert.Equal(t, []int{10, 10, 10}, orders.limits)

	labels := map[string]string{
		"service":  "memberhub",
		"env":      "test",
		"job":      JobExpireOrders,
		"resource": "order",
	}
	if got := getCounterValue(t, registry, "memberhub_scheduler_batch_processed_total", labels); got != 23 {
		t.Fatalf("expected 23 processed orders, got %v", got)
	}
	runLabels := map[string]string{"service": "memberhub", "env": "test", "job": JobExpireOrders, "trigger": triggerManual}
	if got := getCounterValue(t, registry, "memberhub_scheduler_job_runs_total", runLabels); got != 1 {
		t.Fatalf("expected one run, got %v", got)
	}
}

func TestExpireMembershipsJobUsesClock(t *testing.T) {
	withTestRegistry(t)
	memberships := &fakeMembershipService{count: 4}
	s := newTestScheduler(t, &fakeOrderService{}, memberships, Config{})

	require.NoError(t, s.RunJob(context.Background(), JobExpireMemberships))
	assert.True(t, memberships.now.Equal(time.Date(2026, 5, 1, 0, 15, 0, 0, time.UTC)))
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	withTestRegistry(t)
	orders := &fakeOrderService{err: errors.New("connection reset")}
	memberships := &fakeMembershipService{err: errors.New("deadlock detected")}
	s := newTestScheduler(t, orders, memberships, Config{})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobExpireOrders)
	assert.Contains(t, err.Error(), JobExpireMemberships)
}

func TestRunJobRejectsUnknownName(t *testing.T) {
	s := newTestScheduler(t, &fakeOrderService{}, &fakeMembershipService{}, Config{})
	assert.ErrorIs(t, s.RunJob(context.Background(), "rebuild_rollups"), ErrUnknownJob)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := newTestScheduler(t, &fakeOrderService{}, &fakeMembershipService{}, Config{ExpireOrdersSpec: "every five minutes"})
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobExpireOrders)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	s := newTestScheduler(t, &fakeOrderService{}, &fakeMembershipService{}, Config{})
	require.NoError(t, s.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

func TestJobRunTracksResourcesAndTrigger(t *testing.T) {
	run := &jobRun{processed: map[string]int{}}
	run.record("order", 3)
	run.record("order", 0)
	run.record("membership", 2)
	assert.Equal(t, 5, run.total())
	assert.Equal(t, 3, run.processed["order"])

	assert.Equal(t, triggerManual, triggerFromContext(context.Background()))
	assert.Equal(t, triggerCron, triggerFromContext(withTrigger(context.Background(), triggerCron)))
}
