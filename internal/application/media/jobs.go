package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

const (
	defaultWorkers      = 2
	defaultQueueSize    = 64
	defaultMergeTimeout = 30 * time.Minute
	defaultMaxInputs    = 32
	backlogRetry        = 250 * time.Millisecond
	stateWriteAttempts  = 5
	stateWriteBackoff   = 100 * time.Millisecond

	outputMIME = "audio/mpeg"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free. Nothing
	// is persisted in that case.
	ErrQueueFull = errors.New("merge queue is full")
	// ErrManagerStopped is returned by Submit after Stop.
	ErrManagerStopped = errors.New("merge manager is stopped")

	errCancelledByUser = errors.New("cancelled by user")
	errServerStopped   = errors.New("server stopped")
	errMergeTimeout    = errors.New("merge timed out")
)

// ManagerOptions sizes the worker pool.
type ManagerOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	MaxInputs int
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultMergeTimeout
	}
	if o.MaxInputs < 2 {
		o.MaxInputs = defaultMaxInputs
	}
	return o
}

// JobManager accepts merge submissions and runs them on a bounded worker
// pool. After creation a job row is written only by the worker that
// dequeued it.
type JobManager struct {
	assets AssetRepository
	jobs   JobRepository
	files  FileStore
	prober Prober
	merger Merger
	logger zerolog.Logger
	opts   ManagerOptions
	now    func() time.Time

	writeRetry time.Duration

	queue     chan string
	enqueueMu sync.Mutex

	mu              sync.Mutex
	running         map[string]*runningJob
	cancelRequested map[string]bool
	group           *errgroup.Group
	groupCtx        context.Context
	stopPool        context.CancelCauseFunc
	stopped         bool
}

type runningJob struct {
	cancel     context.CancelCauseFunc
	outputName string
}

// NewJobManager creates a merge job manager with injected ports.
func NewJobManager(assets AssetRepository, jobs JobRepository, files FileStore, prober Prober, merger Merger, logger zerolog.Logger, opts ManagerOptions) *JobManager {
	opts = opts.withDefaults()
	return &JobManager{
		assets:          assets,
		jobs:            jobs,
		files:           files,
		prober:          prober,
		merger:          merger,
		logger:          logger,
		opts:            opts,
		now:             time.Now,
		writeRetry:      stateWriteBackoff,
		queue:           make(chan string, opts.QueueSize),
		running:         make(map[string]*runningJob),
		cancelRequested: make(map[string]bool),
	}
}

// Submit validates a merge request, persists it as pending and queues it.
// It never waits for a worker.
func (m *JobManager) Submit(ctx context.Context, creatorID string, inputAssetIDs []string, removeSilence bool) (media.MergeJob, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return media.MergeJob{}, media.ValidationError("creator id is required")
	}
	if n := len(inputAssetIDs); n < 2 {
		return media.MergeJob{}, media.ValidationError("a merge needs at least 2 input assets, got %d", n)
	} else if n > m.opts.MaxInputs {
		return media.MergeJob{}, media.ValidationError("a merge accepts at most %d input assets, got %d", m.opts.MaxInputs, n)
	}
	inputs := make([]string, len(inputAssetIDs))
	for i, id := range inputAssetIDs {
		inputs[i] = strings.TrimSpace(id)
		if inputs[i] == "" {
			return media.MergeJob{}, media.ValidationError("input asset id at position %d is blank", i)
		}
	}

	job := media.MergeJob{
		ID:            uuid.NewString(),
		CreatorID:     creatorID,
		InputAssetIDs: inputs,
		RemoveSilence: removeSilence,
		Status:        media.StatusPending,
		CreatedAt:     m.now().UTC(),
	}

	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()
	if m.isStopped() {
		return media.MergeJob{}, ErrManagerStopped
	}
	if len(m.queue) >= cap(m.queue) {
		return media.MergeJob{}, ErrQueueFull
	}
	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return media.MergeJob{}, err
	}
	// Senders hold enqueueMu, so the slot checked above is still free.
	m.queue <- job.ID

	m.logger.Info().
		Str("job_id", job.ID).
		Str("creator_id", creatorID).
		Int("inputs", len(inputs)).
		Bool("remove_silence", removeSilence).
		Msg("merge job queued")
	return job, nil
}

// GetJob returns a read-only snapshot of a job created by requesterID.
func (m *JobManager) GetJob(ctx context.Context, requesterID, id string) (media.MergeJob, error) {
	job, err := m.jobs.GetJob(ctx, strings.TrimSpace(id))
	if err != nil {
		return media.MergeJob{}, err
	}
	if !job.CreatedBy(strings.TrimSpace(requesterID)) {
		return media.MergeJob{}, media.ForbiddenError("merge job %q belongs to another user", job.ID)
	}
	return job, nil
}

// ListJobs returns the creator's jobs, newest first.
func (m *JobManager) ListJobs(ctx context.Context, creatorID string) ([]media.MergeJob, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, media.ValidationError("creator id is required")
	}
	return m.jobs.ListJobs(ctx, creatorID)
}

// Cancel asks the worker owning a job to stop it. Only the creator may cancel
// and terminal jobs are refused. The returned snapshot is taken before the
// worker records the cancellation.
func (m *JobManager) Cancel(ctx context.Context, requesterID, jobID string) (media.MergeJob, error) {
	// The snapshot is read under mu: a worker deregisters a job only after its
	// terminal write, so a non-terminal job missing from running is still queued.
	m.mu.Lock()
	job, err := m.jobs.GetJob(ctx, strings.TrimSpace(jobID))
	if err != nil {
		m.mu.Unlock()
		return media.MergeJob{}, err
	}
	if !job.CreatedBy(strings.TrimSpace(requesterID)) {
		m.mu.Unlock()
		return media.MergeJob{}, media.ForbiddenError("merge job %q belongs to another user", job.ID)
	}
	if job.Status.Terminal() {
		m.mu.Unlock()
		return media.MergeJob{}, media.ConflictError("merge job %q is already %s", job.ID, job.Status)
	}
	if running, ok := m.running[job.ID]; ok {
		running.cancel(errCancelledByUser)
	} else {
		m.cancelRequested[job.ID] = true
	}
	m.mu.Unlock()

	m.logger.Info().Str("job_id", job.ID).Str("requester_id", requesterID).Msg("merge job cancellation requested")
	return job, nil
}

// Start launches the worker pool. Workers stop when ctx ends or Stop is called.
func (m *JobManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrManagerStopped
	}
	if m.group != nil {
		return errors.New("merge manager already started")
	}

	poolCtx, stop := context.WithCancelCause(ctx)
	group, groupCtx := errgroup.WithContext(poolCtx)
	for i := 0; i < m.opts.Workers; i++ {
		group.Go(func() error {
			m.worker(groupCtx)
			return nil
		})
	}
	m.group = group
	m.groupCtx = groupCtx
	m.stopPool = stop

	m.logger.Info().Int("workers", m.opts.Workers).Int("queue_size", m.opts.QueueSize).Dur("timeout", m.opts.Timeout).Msg("merge workers started")
	return nil
}

// Stop cancels the pool and waits for workers to exit. In-flight jobs are
// recorded as failed; queued jobs stay pending for Recover.
func (m *JobManager) Stop() {
	m.enqueueMu.Lock()
	m.mu.Lock()
	m.stopped = true
	group, stop := m.group, m.stopPool
	m.mu.Unlock()
	m.enqueueMu.Unlock()

	if group == nil {
		return
	}
	stop(errServerStopped)
	_ = group.Wait()
	m.logger.Info().Msg("merge workers stopped")
}

// Recover repairs jobs left behind by a previous process: processing jobs
// are failed, pending jobs are queued again. It must run after Start.
func (m *JobManager) Recover(ctx context.Context) error {
	m.mu.Lock()
	group, groupCtx := m.group, m.groupCtx
	m.mu.Unlock()
	if group == nil {
		return errors.New("merge manager not started")
	}

	stale, err := m.jobs.ListJobsByStatus(ctx, media.StatusProcessing)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}
	for _, job := range stale {
		if err := m.jobs.MarkFailed(ctx, job.ID, "interrupted by restart", m.now().UTC()); err != nil {
			m.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark interrupted job")
			continue
		}
		m.logger.Warn().Str("job_id", job.ID).Msg("merge job interrupted by restart")
	}

	pending, err := m.jobs.ListJobsByStatus(ctx, media.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	m.logger.Info().Int("failed", len(stale)).Int("requeued", len(pending)).Msg("merge jobs recovered")
	if len(pending) == 0 {
		return nil
	}
	ids := make([]string, len(pending))
	for i, job := range pending {
		ids[i] = job.ID
	}
	group.Go(func() error {
		m.feedBacklog(groupCtx, ids)
		return nil
	})
	return nil
}

// ActiveOutputs returns the storage names of outputs currently being written.
func (m *JobManager) ActiveOutputs() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make(map[string]bool, len(m.running))
	for _, running := range m.running {
		if running.outputName != "" {
			names[running.outputName] = true
		}
	}
	return names
}

// feedBacklog queues recovered jobs as slots free up so Submit keeps its
// non-blocking contract.
func (m *JobManager) feedBacklog(ctx context.Context, ids []string) {
	for _, id := range ids {
		for !m.tryEnqueue(id) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backlogRetry):
			}
		}
	}
}

func (m *JobManager) tryEnqueue(id string) bool {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()
	select {
	case m.queue <- id:
		return true
	default:
		return false
	}
}

func (m *JobManager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
