package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/retailpos/retailpos/internal/jobs"
	"github.com/retailpos/retailpos/internal/shared"
	"github.com/retailpos/retailpos/internal/stock"
)

type fakeReconciler struct {
	calls      int
	mismatches []stock.Mismatch
	err        error
}

func (f *fakeReconciler) Reconcile(context.Context) ([]stock.Mismatch, error) {
	f.calls++
	return f.mismatches, f.err
}

func newLocker(t *testing.T) (*redislock.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client), mr
}

func reconcileTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewStockReconcileTask(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return task
}

func TestStockReconcileJobReportsMismatches(t *testing.T) {
	locker, mr := newLocker(t)
	reconciler := &fakeReconciler{mismatches: []stock.Mismatch{
		{ProductID: uuid.New(), Name: "Tea", Quantity: 5, LedgerQuantity: 3},
	}}
	job := NewStockReconcileJob(reconciler, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t)))
	require.Equal(t, 1, reconciler.calls)
	require.False(t, mr.Exists(shared.ReconcileLockKey), "lock released after run")
}

func TestStockReconcileJobSkipsWhenLockHeld(t *testing.T) {
	locker, _ := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.ReconcileLockKey, time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	reconciler := &fakeReconciler{}
	job := NewStockReconcileJob(reconciler, locker, nil, nil)

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t)))
	require.Zero(t, reconciler.calls)
}

func TestStockReconcileJobPropagatesFailure(t *testing.T) {
	locker, mr := newLocker(t)
	boom := errors.New("db down")
	job := NewStockReconcileJob(&fakeReconciler{err: boom}, locker, nil, nil)

	require.ErrorIs(t, job.Handle(context.Background(), reconcileTask(t)), boom)
	require.False(t, mr.Exists(shared.ReconcileLockKey))
}

func TestStockReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewStockReconcileJob(&fakeReconciler{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskStockReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	retention time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	cleaner := &fakeCleaner{removed: 12}
	job := &IdempotencyCleanupJob{Store: cleaner, Retention: 72 * time.Hour}

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, cleaner.retention)
}

func TestIdempotencyCleanupNeedsRetention(t *testing.T) {
	job := &IdempotencyCleanupJob{Store: &fakeCleaner{}}
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)), asynq.SkipRetry)
}

func TestTaskPayloads(t *testing.T) {
	task := reconcileTask(t)
	require.Equal(t, TaskStockReconcile, task.Type())
	var payload StockReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 2, payload.ScheduledFor.Hour())
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	mr := miniredis.RunT(t)
	task := reconcileTask(t)
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Cron:      []CronRegistration{{Spec: "not a cron", Task: task}},
	})
	require.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"scheduled":0,"retry":0,"archived":0}`, rec.Body.String())
}

type fakeEnqueuer struct {
	at  time.Time
	err error
}

func (f *fakeEnqueuer) EnqueueStockReconcile(_ context.Context, at time.Time) (*asynq.TaskInfo, error) {
	f.at = at
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func TestReconcileEndpoint(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).WithEnqueuer(enq).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/stock-reconcile", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"status":"queued","task_id":"task-1"}`, rec.Body.String())
	require.False(t, enq.at.IsZero())

	enq.err = asynq.ErrDuplicateTask
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/stock-reconcile", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"status":"already_queued"}`, rec.Body.String())

	enq.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/stock-reconcile", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReconcileEndpointWithoutClient(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/stock-reconcile", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
