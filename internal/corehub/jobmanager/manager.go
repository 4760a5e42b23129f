package jobmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// Handler executes one job type. It must check rc.Cancelled() at phase
// checkpoints and call exactly one of rc.Succeed/rc.Fail when done; a
// handler that returns without doing either is treated as a failure by the
// dispatch loop's safety net.
type Handler func(rc *RunContext)

// Notify is a minimal in-process pub/sub for job status changes. An HTTP
// layer wires in its own implementation (e.g. an SSE hub); this module does
// not ship a transport-specific one.
type Notify interface {
	JobUpdated(j Job)
}

type noopNotify struct{}

func (noopNotify) JobUpdated(Job) {}

// Durable is the optional durable tier. A nil Durable means jobs only live
// in memory for this process's lifetime.
type Durable interface {
	Save(j Job) error
	List() ([]Job, error)
}

// Manager coordinates job submission, dispatch, cancellation, and cleanup.
// It enforces invariant I12 (at most one active job per target UID) by
// cancelling a prior active job for the same target before a new one is
// queued.
type Manager struct {
	log      *logger.Logger
	handlers map[string]Handler
	notify   Notify
	durable  Durable

	mu         sync.Mutex
	jobs       map[string]*Job
	byTarget   map[string]string // target_uid -> active job id
	cancelFns  map[string]context.CancelFunc
	queue      chan string
	staleAfter time.Duration
}

// Options configures a Manager.
type Options struct {
	WorkerConcurrency int
	HeartbeatEvery    time.Duration
	StaleRunningAfter time.Duration
	Notify            Notify
	Durable           Durable
}

// New constructs a Manager. Call Start to spawn the worker pool.
func New(log *logger.Logger, opts Options) *Manager {
	if opts.WorkerConcurrency <= 0 {
		opts.WorkerConcurrency = 4
	}
	if opts.Notify == nil {
		opts.Notify = noopNotify{}
	}
	m := &Manager{
		log:        log,
		handlers:   map[string]Handler{},
		notify:     opts.Notify,
		durable:    opts.Durable,
		jobs:       map[string]*Job{},
		byTarget:   map[string]string{},
		cancelFns:  map[string]context.CancelFunc{},
		queue:      make(chan string, 1024),
		staleAfter: opts.StaleRunningAfter,
	}
	return m
}

// RegisterHandler binds a job type to its execution function.
func (m *Manager) RegisterHandler(jobType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

// Start spawns n worker goroutines draining the submission queue.
func (m *Manager) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 4
	}
	for i := 0; i < n; i++ {
		go m.runLoop(ctx)
	}
}

func (m *Manager) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-m.queue:
			if !ok {
				return
			}
			m.execute(ctx, id)
		}
	}
}

func (m *Manager) execute(parent context.Context, id string) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.Status == StatusCancelled {
		m.mu.Unlock()
		return
	}
	handler, ok := m.handlers[j.JobType]
	m.mu.Unlock()

	if !ok {
		m.updateIfNotTerminal(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = apierr.New(apierr.CodeCommandFailed, "no handler registered for job type "+j.JobType, nil)
		})
		return
	}

	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.cancelFns[id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancelFns, id)
		m.mu.Unlock()
		cancel()
	}()

	rc := &RunContext{Ctx: ctx, mgr: m, id: id}

	defer func() {
		if r := recover(); r != nil {
			m.updateIfNotTerminal(id, func(j *Job) {
				j.Status = StatusFailed
				j.Error = apierr.New(apierr.CodeCommandFailed, fmt.Sprintf("job panicked: %v", r), nil)
			})
		}
	}()

	handler(rc)

	// Safety net: a handler that returned without reaching a terminal
	// status is treated as a failure rather than left stuck in_progress.
	m.updateIfNotTerminal(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = apierr.New(apierr.CodeCommandFailed, "handler returned without terminal status", nil)
	})
}

// Submit enqueues a new job, cancelling any existing active job for the
// same targetUID first (invariant I12).
func (m *Manager) Submit(jobType, sessionID, targetUID string, params map[string]any) (Job, error) {
	m.mu.Lock()

	var cancelledPrior *Job
	if targetUID != "" {
		if priorID, exists := m.byTarget[targetUID]; exists {
			if prior, ok := m.jobs[priorID]; ok && !prior.Status.Terminal() {
				prior.Status = StatusCancelled
				prior.UpdatedAt = time.Now().UTC()
				if cancel, ok := m.cancelFns[priorID]; ok {
					cancel()
				}
				snap := *prior
				cancelledPrior = &snap
			}
		}
	}

	id := "job_" + uuid.NewString()
	now := time.Now().UTC()
	j := &Job{
		ID:        id,
		JobType:   jobType,
		SessionID: sessionID,
		TargetUID: targetUID,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[id] = j
	if targetUID != "" {
		m.byTarget[targetUID] = id
	}
	m.mu.Unlock()

	if cancelledPrior != nil {
		m.persist(*cancelledPrior)
		m.notify.JobUpdated(*cancelledPrior)
	}
	m.persist(*j)
	m.notify.JobUpdated(*j)

	select {
	case m.queue <- id:
	default:
		m.updateIfNotTerminal(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = apierr.New(apierr.CodeJobQueueFull, "job queue full", nil)
		})
	}
	return *j, nil
}

// Get returns a copy of the current job state.
func (m *Manager) Get(id string) (Job, error) {
	j, ok := m.get(id)
	if !ok {
		return Job{}, apierr.New(apierr.CodeJobNotFound, "job not found: "+id, nil)
	}
	return *j, nil
}

func (m *Manager) get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return j.clone(), true
}

// Cancel cooperatively cancels an active job. Cancellation is never
// instant: the handler observes it at its next checkpoint.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return apierr.New(apierr.CodeJobNotFound, "job not found: "+id, nil)
	}
	if j.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	j.Status = StatusCancelled
	j.UpdatedAt = time.Now().UTC()
	cancel, hasCancel := m.cancelFns[id]
	snapshot := *j
	m.mu.Unlock()

	if hasCancel {
		cancel()
	}
	m.persist(snapshot)
	m.notify.JobUpdated(snapshot)
	return nil
}

// updateIfNotTerminal applies mutate under lock, refusing to touch a job
// already in a terminal state (invariant I10) and clamping progress to be
// monotonic (invariant I11, enforced by RunContext.Progress's own check;
// this guard additionally blocks any out-of-band regression).
func (m *Manager) updateIfNotTerminal(id string, mutate func(j *Job)) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	prevProgress := j.Progress
	mutate(j)
	if j.Progress < prevProgress {
		j.Progress = prevProgress
	}
	j.UpdatedAt = time.Now().UTC()
	snapshot := *j
	m.mu.Unlock()

	m.persist(snapshot)
	m.notify.JobUpdated(snapshot)
}

func (m *Manager) persist(j Job) {
	if m.durable == nil {
		return
	}
	if err := m.durable.Save(j); err != nil {
		m.log.Warn("jobmanager: durable save failed", "job_id", j.ID, "error", err)
	}
}

// List returns every known job, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out
}

// CleanupOlderThan discards terminal jobs older than age from memory (and
// the durable tier, if configured, via a fresh List+filter+Save pass is the
// durable implementation's responsibility).
func (m *Manager) CleanupOlderThan(age time.Duration) int {
	cutoff := time.Now().UTC().Add(-age)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			if m.byTarget[j.TargetUID] == id {
				delete(m.byTarget, j.TargetUID)
			}
			removed++
		}
	}
	return removed
}

// DetectOrphaned marks any in_progress job whose UpdatedAt predates
// staleAfter as failed, used after a process restart when durable state
// shows jobs that never reached a terminal status.
func (m *Manager) DetectOrphaned() int {
	if m.staleAfter <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-m.staleAfter)
	m.mu.Lock()
	var stale []string
	for id, j := range m.jobs {
		if j.Status == StatusInProgress && j.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.updateIfNotTerminal(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = apierr.New(apierr.CodeJobTimeout, "job orphaned by process restart", nil)
		})
	}
	return len(stale)
}
