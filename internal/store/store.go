// Package store keeps the in-memory job table and its durable mirror.
package store

import (
	"context"
	"encoding/json"
	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/model"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const snapshotPrefix = "scan_job:"

// Entry holds one job. Only the job's worker writes to it; everyone else reads snapshots.
type Entry struct {
	mu      sync.RWMutex
	job     model.Job
	version uint64

	// saveMu orders writes to the mirror so an older snapshot never overwrites a newer one
	saveMu sync.Mutex
	saved  uint64
}

// Snapshot returns a copy that is safe to read after the lock is released
func (e *Entry) Snapshot() model.Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone()
}

// Update applies fn under the write lock and returns the resulting snapshot
func (e *Entry) Update(fn func(job *model.Job)) model.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
	e.version++
	return e.job.Clone()
}

func (e *Entry) versioned() (model.Job, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), e.version
}

// Store is the authoritative in-memory job table. Snapshots are mirrored to a
// remote Cache for crash recovery; mirror failures never affect the job.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Entry

	remote      cache.Cache
	snapshotTTL time.Duration
	retention   time.Duration
	sweepEvery  time.Duration
	now         func() time.Time
}

// New creates a store. A nil remote disables the durable mirror.
func New(remote cache.Cache, cfg config.ScannerConfig) *Store {
	return &Store{
		jobs:        make(map[string]*Entry),
		remote:      remote,
		snapshotTTL: cfg.SnapshotTTL(),
		retention:   cfg.Retention(),
		sweepEvery:  cfg.SweepInterval(),
		now:         time.Now,
	}
}

// Add inserts a job, replacing any job with the same id
func (s *Store) Add(job model.Job) *Entry {
	entry := &Entry{job: job}

	s.mu.Lock()
	s.jobs[job.ID] = entry
	s.mu.Unlock()

	return entry
}

func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	return entry, ok
}

// List returns snapshots of every job, newest first
func (s *Store) List() []model.Job {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	jobs := make([]model.Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.Snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Save mirrors the entry's current state. Concurrent saves of the same entry
// are serialized and a save that has nothing newer to write is skipped.
func (s *Store) Save(ctx context.Context, entry *Entry) {
	if s.remote == nil {
		return
	}

	entry.saveMu.Lock()
	defer entry.saveMu.Unlock()

	job, version := entry.versioned()
	if version != 0 && version == entry.saved {
		return
	}

	s.Persist(ctx, job)
	entry.saved = version
}

// Persist writes the snapshot to the durable mirror. Errors are logged and swallowed.
func (s *Store) Persist(ctx context.Context, job model.Job) {
	if s.remote == nil {
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("Failed to encode job snapshot")
		return
	}

	if err := s.remote.Set(ctx, snapshotPrefix+job.ID, data, s.snapshotTTL); err != nil {
		log.Warn().
			Err(err).
			Str("jobId", job.ID).
			Str("status", string(job.Status)).
			Int("processed", job.Progress.Processed).
			Msg("Failed to persist job snapshot, continuing in memory")
	}
}

// LoadSnapshot reads one job from the durable mirror
func (s *Store) LoadSnapshot(ctx context.Context, id string) (model.Job, bool) {
	var job model.Job
	if s.remote == nil {
		return job, false
	}

	data, err := s.remote.Get(ctx, snapshotPrefix+id)
	if err != nil {
		return job, false
	}
	if err := json.Unmarshal(data, &job); err != nil {
		log.Warn().Err(err).Str("jobId", id).Msg("Discarding unreadable job snapshot")
		return job, false
	}
	return job, true
}

// LoadResumable returns durable snapshots that were still running when the
// previous process stopped and are not already in memory
func (s *Store) LoadResumable(ctx context.Context) []model.Job {
	if s.remote == nil {
		return nil
	}

	keys, err := s.remote.Keys(ctx, snapshotPrefix+"*")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list job snapshots, skipping resume")
		return nil
	}

	var jobs []model.Job
	for _, key := range keys {
		id := strings.TrimPrefix(key, snapshotPrefix)
		if _, ok := s.Get(id); ok {
			continue
		}

		job, ok := s.LoadSnapshot(ctx, id)
		if !ok || job.Status != model.StatusRunning {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Sweep evicts terminal jobs whose completedAt is older than the retention
// window and returns them
func (s *Store) Sweep() []model.Job {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []model.Job
	for id, entry := range s.jobs {
		job := entry.Snapshot()
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			evicted = append(evicted, job)
		}
	}
	return evicted
}

// Run sweeps periodically until ctx is done, handing evicted jobs to onEvict
func (s *Store) Run(ctx context.Context, onEvict func(ctx context.Context, jobs []model.Job)) error {
	interval := s.sweepEvery
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evicted := s.Sweep()
			if len(evicted) == 0 {
				continue
			}
			log.Info().
				Int("evicted", len(evicted)).
				Int("remaining", s.Len()).
				Msg("Swept expired jobs")
			if onEvict != nil {
				onEvict(ctx, evicted)
			}
		}
	}
}
