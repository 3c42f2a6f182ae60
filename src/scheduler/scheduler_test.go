package scheduler

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestAccount(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	account, err := model.CreateAccount(db, t.Name(), utils.NowMs())
	require.NoError(t, err)
	return account.ID
}

func newTestRegistry(t *testing.T, db *sql.DB, grace time.Duration) *Registry {
	t.Helper()
	registry, err := NewRegistry(db, NewBroker(), grace)
	require.NoError(t, err)
	return registry
}

func waitForStatus(t *testing.T, db *sql.DB, jobID string, want models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, err := model.GetJobStatus(db, jobID)
		return err == nil && status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached status %s", jobID, want)
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	var ran atomic.Bool
	jobID, err := registry.Enqueue(accountID, Spec{
		Name:    "noop",
		Trigger: "test",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			ran.Store(true)
			progress(nil, "working")
			return nil
		},
	})
	require.NoError(t, err)

	waitForStatus(t, db, jobID, models.JobStatusCompleted)
	assert.True(t, ran.Load())

	lines, err := model.GetJobLogs(db, jobID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "working", lines[0].Line)
}

func TestOneJobAtATimePerAccount(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	var concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})
	body := func(ctx context.Context, progress ProgressFunc) error {
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		<-release
		concurrent.Add(-1)
		return nil
	}

	first, err := registry.Enqueue(accountID, Spec{Name: "first", Run: body})
	require.NoError(t, err)
	second, err := registry.Enqueue(accountID, Spec{Name: "second", Run: body})
	require.NoError(t, err)

	waitForStatus(t, db, first, models.JobStatusRunning)
	time.Sleep(50 * time.Millisecond)
	close(release)

	waitForStatus(t, db, first, models.JobStatusCompleted)
	waitForStatus(t, db, second, models.JobStatusCompleted)
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestEnqueueDeduplicatesPendingByName(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	release := make(chan struct{})
	blocker, err := registry.Enqueue(accountID, Spec{
		Name: "blocker",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	waitForStatus(t, db, blocker, models.JobStatusRunning)

	noop := func(ctx context.Context, progress ProgressFunc) error { return nil }
	a, err := registry.Enqueue(accountID, Spec{Name: "recompute", Run: noop})
	require.NoError(t, err)
	b, err := registry.Enqueue(accountID, Spec{Name: "recompute", Run: noop})
	require.NoError(t, err)
	assert.Equal(t, a, b, "a queued job with the same name must be reused")

	// A different name is a different job.
	c, err := registry.Enqueue(accountID, Spec{Name: "other", Run: noop})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	close(release)
	waitForStatus(t, db, a, models.JobStatusCompleted)
	waitForStatus(t, db, c, models.JobStatusCompleted)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	release := make(chan struct{})
	blocker, err := registry.Enqueue(accountID, Spec{
		Name: "blocker",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	waitForStatus(t, db, blocker, models.JobStatusRunning)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context, ProgressFunc) error {
		return func(ctx context.Context, progress ProgressFunc) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	low, err := registry.Enqueue(accountID, Spec{Name: "low", Priority: 1, Run: record("low")})
	require.NoError(t, err)
	high, err := registry.Enqueue(accountID, Spec{Name: "high", Priority: 10, Run: record("high")})
	require.NoError(t, err)

	close(release)
	waitForStatus(t, db, low, models.JobStatusCompleted)
	waitForStatus(t, db, high, models.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "low"}, order)
}

func TestCancelQueuedJob(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	release := make(chan struct{})
	blocker, err := registry.Enqueue(accountID, Spec{
		Name: "blocker",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	waitForStatus(t, db, blocker, models.JobStatusRunning)

	var ran atomic.Bool
	queued, err := registry.Enqueue(accountID, Spec{
		Name: "victim",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			ran.Store(true)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, registry.Cancel(accountID, queued))
	waitForStatus(t, db, queued, models.JobStatusCancelled)

	close(release)
	waitForStatus(t, db, blocker, models.JobStatusCompleted)
	assert.False(t, ran.Load(), "a cancelled queued job must never execute")
}

func TestCancelRunningJobAborts(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	started := make(chan struct{})
	jobID, err := registry.Enqueue(accountID, Spec{
		Name: "cooperative",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			close(started)
			<-ctx.Done()
			return CheckCancelled(ctx)
		},
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, registry.Cancel(accountID, jobID))
	waitForStatus(t, db, jobID, models.JobStatusAborted)

	jobs, err := model.GetJobsByAccount(db, accountID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Contains(t, *jobs[0].ErrorMessage, ReasonUser)
}

func TestCancelUnknownJob(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	err := registry.Cancel(accountID, "no-such-job")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestGracePeriodWatchdog(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, 50*time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	jobID, err := registry.Enqueue(accountID, Spec{
		Name: "stubborn",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			close(started)
			// Ignores the cancellation signal entirely.
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, registry.Cancel(accountID, jobID))
	waitForStatus(t, db, jobID, models.JobStatusAborted)

	jobs, err := model.GetJobsByAccount(db, accountID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Contains(t, *jobs[0].ErrorMessage, "grace period")

	close(release)
}

func TestRemoveTearsDownQueue(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	started := make(chan struct{})
	finished := make(chan struct{})
	jobID, err := registry.Enqueue(accountID, Spec{
		Name: "running",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			close(started)
			<-ctx.Done()
			close(finished)
			return CheckCancelled(ctx)
		},
	})
	require.NoError(t, err)
	<-started

	registry.Remove(accountID)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("running job was not cancelled on queue removal")
	}

	// Terminal state is intentionally not persisted for a reset; the row
	// keeps its last persisted status.
	time.Sleep(50 * time.Millisecond)
	status, err := model.GetJobStatus(db, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, status)

	// The replacement queue built after removal accepts work again.
	again, err := registry.Enqueue(accountID, Spec{
		Name: "after-reset",
		Run:  func(ctx context.Context, progress ProgressFunc) error { return nil },
	})
	require.NoError(t, err)
	waitForStatus(t, db, again, models.JobStatusCompleted)
}

func TestFailedJobRecordsError(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)
	registry := newTestRegistry(t, db, time.Second)

	jobID, err := registry.Enqueue(accountID, Spec{
		Name: "broken",
		Run: func(ctx context.Context, progress ProgressFunc) error {
			return assert.AnError
		},
	})
	require.NoError(t, err)

	waitForStatus(t, db, jobID, models.JobStatusFailed)
	jobs, err := model.GetJobsByAccount(db, accountID, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Equal(t, assert.AnError.Error(), *jobs[0].ErrorMessage)
	require.NotNil(t, jobs[0].Duration)
}

func TestNewRegistryReconcilesStaleJobs(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	now := utils.NowMs()
	require.NoError(t, model.InsertJob(db, models.Job{
		ID: "stale-running", AccountID: accountID, Name: "a",
		Status: models.JobStatusQueued, CreatedAt: now,
	}))
	require.NoError(t, model.MarkJobRunning(db, "stale-running", now))
	require.NoError(t, model.InsertJob(db, models.Job{
		ID: "stale-queued", AccountID: accountID, Name: "b",
		Status: models.JobStatusQueued, CreatedAt: now,
	}))

	newTestRegistry(t, db, time.Second)

	status, err := model.GetJobStatus(db, "stale-running")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusAborted, status)

	status, err = model.GetJobStatus(db, "stale-queued")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, status)
}
