// Package scanner runs batch scan jobs: it orders the symbols, admits jobs up
// to a concurrency cap and drives one worker goroutine per running job.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"screener/internal/events"
	"screener/internal/filter"
	"screener/internal/model"
	"screener/internal/store"
	"screener/internal/universe"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultMaxConcurrentJobs = 3

var (
	ErrNoSymbols      = errors.New("no symbols to scan")
	ErrInvalidFilters = errors.New("invalid filters")
)

// ProcessFunc fetches and classifies one symbol. A nil record with a nil
// error means the symbol has no usable data and is skipped.
type ProcessFunc func(ctx context.Context, symbol string, filters model.FilterSpec) (*model.StockRecord, error)

// Limiter grants permits for calls to the data provider
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ProgressSink receives progress snapshots at the partial results cadence
type ProgressSink interface {
	SetJobProgress(ctx context.Context, jobID string, progress model.JobProgress)
}

// ResultSink receives every completed job
type ResultSink interface {
	ExportResults(ctx context.Context, job model.Job) error
}

// Options are the optional collaborators of an Engine
type Options struct {
	MaxConcurrentJobs int
	MaxErrorLength    int
	Universe          universe.Universe
	Progress          ProgressSink
	Events            events.Publisher
	Results           ResultSink
}

// Engine owns job admission and the workers. Build one per process and share it.
type Engine struct {
	store   *store.Store
	limiter Limiter
	process ProcessFunc

	maxConcurrent int
	maxErrorLen   int
	universe      universe.Universe
	progress      ProgressSink
	events        events.Publisher
	results       ResultSink

	// mu guards running and queue; admission check and registration happen under it
	mu      sync.Mutex
	running map[string]context.CancelFunc
	queue   []string

	root     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	stats counters
	now   func() time.Time
}

// New creates an engine. limiter and process are required.
func New(st *store.Store, limiter Limiter, process ProcessFunc, opts Options) *Engine {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if opts.MaxErrorLength <= 0 {
		opts.MaxErrorLength = 200
	}
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}

	root, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:         st,
		limiter:       limiter,
		process:       process,
		maxConcurrent: opts.MaxConcurrentJobs,
		maxErrorLen:   opts.MaxErrorLength,
		universe:      opts.Universe,
		progress:      opts.Progress,
		events:        opts.Events,
		results:       opts.Results,
		running:       make(map[string]context.CancelFunc),
		root:          root,
		shutdown:      cancel,
		now:           time.Now,
	}
}

// CreateJob validates the request and stores a Pending job. With more than one
// index the symbols are interleaved across the indices.
func (e *Engine) CreateJob(ctx context.Context, symbols []string, filters model.FilterSpec, indices []string) (string, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return "", ErrNoSymbols
	}

	if err := filter.Validate(filters); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFilters, err)
	}

	if len(indices) > 1 && e.universe != nil {
		symbols = e.interleaveByIndex(ctx, symbols, indices)
	}

	job := model.Job{
		ID:        uuid.NewString(),
		Symbols:   symbols,
		Filters:   filters,
		Indices:   append([]string(nil), indices...),
		Status:    model.StatusPending,
		CreatedAt: e.now().UTC(),
		Progress: model.JobProgress{
			Total:  len(symbols),
			Errors: []string{},
		},
		Results: []model.StockRecord{},
	}

	entry := e.store.Add(job)
	e.store.Save(ctx, entry)
	e.stats.created()

	log.Info().
		Str("jobId", job.ID).
		Int("symbols", len(symbols)).
		Strs("indices", indices).
		Msg("Scan job created")

	return job.ID, nil
}

// Start admits a Pending job. It returns false without changing the job when
// the job is unknown, not Pending, or the engine is at capacity; in the last
// case the job is queued and started as soon as a slot frees up.
func (e *Engine) Start(jobID string) bool {
	entry, ok := e.store.Get(jobID)
	if !ok {
		return false
	}

	snap, ok := e.admit(entry, jobID)
	if !ok {
		return false
	}

	log.Info().
		Str("jobId", jobID).
		Int("total", snap.Progress.Total).
		Int("resumeFrom", snap.Progress.Processed).
		Msg("Scan job started")
	return true
}

// admit is the atomic capacity check and registration
func (e *Engine) admit(entry *store.Entry, jobID string) (model.Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.root.Err() != nil {
		return model.Job{}, false
	}

	if entry.Snapshot().Status != model.StatusPending {
		e.removeQueuedLocked(jobID)
		return model.Job{}, false
	}

	if len(e.running) >= e.maxConcurrent {
		e.enqueueLocked(jobID)
		log.Info().
			Str("jobId", jobID).
			Int("running", len(e.running)).
			Int("queued", len(e.queue)).
			Msg("Scan job queued, engine at capacity")
		return model.Job{}, false
	}

	started := false
	snap := entry.Update(func(job *model.Job) {
		if job.Status != model.StatusPending {
			return
		}
		now := e.now().UTC()
		job.Status = model.StatusRunning
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		started = true
	})
	if !started {
		return model.Job{}, false
	}

	ctx, cancel := context.WithCancel(e.root)
	e.running[jobID] = cancel
	e.removeQueuedLocked(jobID)

	e.wg.Add(1)
	go e.run(ctx, entry, jobID)

	return snap, true
}

// CreateAndStart creates a job and tries to start it right away
func (e *Engine) CreateAndStart(ctx context.Context, symbols []string, filters model.FilterSpec, indices []string) (string, bool, error) {
	id, err := e.CreateJob(ctx, symbols, filters, indices)
	if err != nil {
		return "", false, err
	}
	return id, e.Start(id), nil
}

// Cancel stops a Pending or Running job. It returns false for unknown and
// terminal jobs. A running worker notices at its next suspension point.
func (e *Engine) Cancel(jobID string) bool {
	entry, ok := e.store.Get(jobID)
	if !ok {
		return false
	}

	snap, ok := e.finish(entry, model.StatusCancelled, nil)
	if !ok {
		return false
	}

	e.mu.Lock()
	cancel := e.running[jobID]
	e.removeQueuedLocked(jobID)
	e.mu.Unlock()

	// the worker removes itself from the registry when it exits
	if cancel != nil {
		cancel()
	}

	e.store.Save(context.Background(), entry)
	e.stats.cancelled()
	e.publish(events.TypeCancelled, snap)

	log.Info().
		Str("jobId", jobID).
		Int("processed", snap.Progress.Processed).
		Msg("Scan job cancelled")
	return true
}

// GetJob returns a snapshot of the full job
func (e *Engine) GetJob(jobID string) (model.Job, bool) {
	entry, ok := e.store.Get(jobID)
	if !ok {
		return model.Job{}, false
	}
	return entry.Snapshot(), true
}

func (e *Engine) GetStatus(jobID string) (model.JobStatusView, bool) {
	job, ok := e.GetJob(jobID)
	if !ok {
		return model.JobStatusView{}, false
	}
	return job.StatusView(), true
}

// GetPartialResults returns whatever has passed the filters so far, at any point of the run
func (e *Engine) GetPartialResults(jobID string) (model.PartialResultsView, bool) {
	job, ok := e.GetJob(jobID)
	if !ok {
		return model.PartialResultsView{}, false
	}
	return job.PartialView(), true
}

// GetResults returns the final results. ok is false unless the job is Completed.
func (e *Engine) GetResults(jobID string) ([]model.StockRecord, bool) {
	job, ok := e.GetJob(jobID)
	if !ok || job.Status != model.StatusCompleted {
		return nil, false
	}
	if job.Results == nil {
		return []model.StockRecord{}, true
	}
	return job.Results, true
}

// ListJobs returns every job held in memory, newest first
func (e *Engine) ListJobs() []model.Job {
	return e.store.List()
}

// Resume re-admits jobs that were running when the previous process stopped.
// Each continues after its last persisted symbol, keeping its partial results.
func (e *Engine) Resume(ctx context.Context) int {
	jobs := e.store.LoadResumable(ctx)

	for _, job := range jobs {
		job.Status = model.StatusPending
		job.CompletedAt = nil
		job.Progress.CurrentSymbol = nil
		job.Progress.EstimatedCompletionTime = nil
		if job.Progress.Processed > len(job.Symbols) {
			job.Progress.Processed = len(job.Symbols)
		}
		job.Progress.Total = len(job.Symbols)

		e.store.Add(job)
		started := e.Start(job.ID)

		log.Info().
			Str("jobId", job.ID).
			Int("processed", job.Progress.Processed).
			Int("total", job.Progress.Total).
			Int("partialResults", len(job.Results)).
			Bool("started", started).
			Msg("Resuming scan job")
	}

	return len(jobs)
}

// Shutdown stops every worker and waits for them to exit. Interrupted jobs
// keep their Running snapshot so the next process can resume them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdown()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Scan engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scan workers: %w", ctx.Err())
	}
}

// release drops a finished worker from the registry and admits queued jobs
func (e *Engine) release(jobID string) {
	e.mu.Lock()
	delete(e.running, jobID)
	e.mu.Unlock()

	e.admitQueued()
}

// admitQueued starts queued jobs in arrival order while slots are free. The
// head stays queued until it starts, so losing a race for a slot keeps its place.
func (e *Engine) admitQueued() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 || len(e.running) >= e.maxConcurrent || e.root.Err() != nil {
			e.mu.Unlock()
			return
		}
		next := e.queue[0]
		e.mu.Unlock()

		if e.Start(next) {
			continue
		}

		// swept from the store while waiting
		if _, ok := e.store.Get(next); !ok {
			e.mu.Lock()
			e.removeQueuedLocked(next)
			e.mu.Unlock()
		}
	}
}

func (e *Engine) enqueueLocked(jobID string) {
	for _, id := range e.queue {
		if id == jobID {
			return
		}
	}
	e.queue = append(e.queue, jobID)
}

func (e *Engine) removeQueuedLocked(jobID string) {
	for i, id := range e.queue {
		if id == jobID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// finish moves the job to a terminal status unless it already is in one
func (e *Engine) finish(entry *store.Entry, status model.JobStatus, fn func(job *model.Job)) (model.Job, bool) {
	changed := false
	snap := entry.Update(func(job *model.Job) {
		if job.Status.IsTerminal() {
			return
		}
		now := e.now().UTC()
		job.Status = status
		job.CompletedAt = &now
		job.Progress.CurrentSymbol = nil
		job.Progress.EstimatedCompletionTime = nil
		if fn != nil {
			fn(job)
		}
		changed = true
	})
	return snap, changed
}

func (e *Engine) publish(t events.Type, job model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.events.Publish(ctx, events.FromJob(t, job)); err != nil {
		log.Warn().
			Err(err).
			Str("jobId", job.ID).
			Str("event", string(t)).
			Msg("Failed to publish scan event")
	}
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = universe.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
