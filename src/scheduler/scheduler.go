package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

var ErrJobNotFound = errors.New("job not found")

// Cancellation reasons carried as the context cancel cause.
const (
	ReasonUser  = "user"
	ReasonReset = "reset"
)

// cancelReasonError is the cancel cause attached when a job is stopped.
type cancelReasonError struct{ reason string }

func (e *cancelReasonError) Error() string { return "job cancelled: " + e.reason }

func cancelReason(ctx context.Context) (string, bool) {
	var cre *cancelReasonError
	if errors.As(context.Cause(ctx), &cre) {
		return cre.reason, true
	}
	return "", false
}

// ProgressFunc is the sink a unit of work reports through. percent may be
// nil when only a message is available. Progress is advisory only.
type ProgressFunc func(percent *float64, message string)

// Spec describes one unit of background work to enqueue.
type Spec struct {
	Name        string
	Description string
	Priority    int // higher = sooner
	Trigger     string
	Run         func(ctx context.Context, progress ProgressFunc) error
}

type queuedJob struct {
	id        string
	spec      Spec
	seq       uint64
	createdAt int64
}

// jobLess is the explicit queue comparator: higher priority first, FIFO by
// enqueue sequence among equal priorities.
func jobLess(a, b *queuedJob) bool {
	if a.spec.Priority != b.spec.Priority {
		return a.spec.Priority > b.spec.Priority
	}
	return a.seq < b.seq
}

type runningJob struct {
	id     string
	cancel context.CancelCauseFunc
}

// accountQueue owns the pending list and the single runner goroutine of
// one account. At most one job body executes at a time per account.
type accountQueue struct {
	accountID int64
	db        *sql.DB
	broker    *Broker
	grace     time.Duration

	mu      sync.Mutex
	pending []*queuedJob
	running *runningJob
	active  bool
	closed  bool
	seq     uint64
}

// Registry holds one scheduler queue per account key, constructed lazily
// and torn down on account deletion/reset. It is built once in main and
// passed explicitly to everything that submits jobs.
type Registry struct {
	db     *sql.DB
	broker *Broker
	grace  time.Duration

	mu     sync.Mutex
	queues map[int64]*accountQueue
}

// NewRegistry builds the registry and reconciles jobs left over from a
// previous process before any new job can be accepted: running rows become
// aborted, queued rows become cancelled.
func NewRegistry(db *sql.DB, broker *Broker, grace time.Duration) (*Registry, error) {
	recovered, err := model.RecoverStaleJobs(db, utils.NowMs())
	if err != nil {
		return nil, fmt.Errorf("recovering stale jobs: %w", err)
	}
	if recovered > 0 {
		logger.L.Warn("Reconciled stale jobs from previous run", "count", recovered)
	}
	return &Registry{
		db:     db,
		broker: broker,
		grace:  grace,
		queues: make(map[int64]*accountQueue),
	}, nil
}

func (r *Registry) Broker() *Broker { return r.broker }

func (r *Registry) queue(accountID int64) *accountQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[accountID]
	if !ok {
		q = &accountQueue{
			accountID: accountID,
			db:        r.db,
			broker:    r.broker,
			grace:     r.grace,
		}
		r.queues[accountID] = q
	}
	return q
}

// Enqueue adds a job for the account. If a queued-but-not-started job with
// the same name already exists, its id is returned instead of duplicating.
func (r *Registry) Enqueue(accountID int64, spec Spec) (string, error) {
	return r.queue(accountID).enqueue(spec)
}

// Cancel stops a job: a running job gets its cancellation signal with
// reason "user", a queued job is removed and marked cancelled directly.
// ErrJobNotFound is returned when the job is neither running nor queued.
func (r *Registry) Cancel(accountID int64, jobID string) error {
	return r.queue(accountID).cancel(jobID)
}

// Remove tears down an account's queue during account deletion/reset. The
// running job is cancelled with reason "reset" and no terminal state is
// persisted for it, since its rows are being deleted concurrently.
func (r *Registry) Remove(accountID int64) {
	r.mu.Lock()
	q, ok := r.queues[accountID]
	if ok {
		delete(r.queues, accountID)
	}
	r.mu.Unlock()
	if ok {
		q.close()
	}
}

func (q *accountQueue) enqueue(spec Spec) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errors.New("account queue is shut down")
	}

	// Idempotent de-dup by name among jobs that have not started yet.
	for _, pending := range q.pending {
		if pending.spec.Name == spec.Name {
			return pending.id, nil
		}
	}

	job := &queuedJob{
		id:        uuid.New().String(),
		spec:      spec,
		seq:       q.seq,
		createdAt: utils.NowMs(),
	}
	q.seq++

	if err := model.InsertJob(q.db, models.Job{
		ID:          job.id,
		AccountID:   q.accountID,
		Name:        spec.Name,
		Description: spec.Description,
		Priority:    spec.Priority,
		Status:      models.JobStatusQueued,
		Trigger:     spec.Trigger,
		CreatedAt:   job.createdAt,
	}); err != nil {
		return "", fmt.Errorf("persisting queued job: %w", err)
	}

	idx := sort.Search(len(q.pending), func(i int) bool {
		return jobLess(job, q.pending[i])
	})
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = job

	if !q.active {
		q.active = true
		go q.run()
	}
	q.broker.Publish(Event{Type: EventQueueChanged, AccountID: q.accountID})
	return job.id, nil
}

func (q *accountQueue) cancel(jobID string) error {
	q.mu.Lock()
	if q.running != nil && q.running.id == jobID {
		cancel := q.running.cancel
		q.mu.Unlock()
		cancel(&cancelReasonError{reason: ReasonUser})
		return nil
	}
	for i, pending := range q.pending {
		if pending.id != jobID {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.mu.Unlock()
		if err := model.MarkJobTerminal(q.db, jobID, models.JobStatusCancelled, utils.NowMs(), nil, nil); err != nil {
			return err
		}
		q.broker.Publish(Event{Type: EventQueueChanged, AccountID: q.accountID})
		return nil
	}
	q.mu.Unlock()
	return ErrJobNotFound
}

func (q *accountQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	running := q.running
	q.mu.Unlock()
	if running != nil {
		running.cancel(&cancelReasonError{reason: ReasonReset})
	}
}

// run drains the pending list strictly one job at a time. It exits when
// the list is empty; the next enqueue starts a fresh goroutine.
func (q *accountQueue) run() {
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.active = false
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancelCause(context.Background())
		q.running = &runningJob{id: job.id, cancel: cancel}
		q.mu.Unlock()

		q.execute(ctx, job)
		cancel(nil)

		q.mu.Lock()
		q.running = nil
		q.mu.Unlock()
	}
}

func (q *accountQueue) execute(ctx context.Context, job *queuedJob) {
	startedAt := utils.NowMs()
	if err := model.MarkJobRunning(q.db, job.id, startedAt); err != nil {
		logger.L.Error("Failed to mark job running", "jobID", job.id, "error", err)
	}
	q.broker.Publish(Event{Type: EventQueueChanged, AccountID: q.accountID})

	progress := func(percent *float64, message string) {
		line := message
		if percent != nil {
			line = fmt.Sprintf("%.0f%% %s", *percent, message)
		}
		now := utils.NowMs()
		if err := model.AppendJobLog(q.db, job.id, now, line); err != nil {
			logger.L.Warn("Failed to append job log line", "jobID", job.id, "error", err)
		}
		q.broker.Publish(Event{Type: EventJobLog, AccountID: q.accountID, JobID: job.id, Line: line})
	}

	done := make(chan error, 1)
	go func() {
		done <- job.spec.Run(ctx, progress)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		// Grace-period watchdog: the job gets a fixed window to observe
		// the signal and exit cleanly. If it does not, unblock the runner;
		// the underlying work may still be abandoned in-flight.
		select {
		case runErr = <-done:
		case <-time.After(q.grace):
			runErr = fmt.Errorf("job %q did not stop within the %s grace period", job.spec.Name, q.grace)
		}
	}

	reason, wasCancelled := cancelReason(ctx)
	if wasCancelled && reason == ReasonReset {
		// The whole account is being torn down concurrently; skip
		// persisting terminal state for rows that are going away.
		return
	}

	completedAt := utils.NowMs()
	duration := completedAt - startedAt
	status := models.JobStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = models.JobStatusFailed
		if ctx.Err() != nil {
			status = models.JobStatusAborted
		}
		msg := runErr.Error()
		errMsg = &msg
		logger.L.Warn("Job finished with error", "jobID", job.id, "name", job.spec.Name, "status", status, "error", runErr)
	} else {
		logger.L.Info("Job completed", "jobID", job.id, "name", job.spec.Name, "durationMs", duration)
	}
	if err := model.MarkJobTerminal(q.db, job.id, status, completedAt, &duration, errMsg); err != nil {
		logger.L.Error("Failed to persist job terminal state", "jobID", job.id, "error", err)
	}
	q.broker.Publish(Event{Type: EventQueueChanged, AccountID: q.accountID})
}

// CheckCancelled is the cooperative cancellation probe reducers call at
// page and phase boundaries. It returns the cancel cause so the caller's
// error reflects why it stopped.
func CheckCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ctx.Err()
	default:
		return nil
	}
}
