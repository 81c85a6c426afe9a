package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"screener/internal/config"
	"screener/internal/model"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Source names the tier an entry was served from
type Source string

const (
	SourceMemory Source = "memory"
	SourceRemote Source = "remote"
	SourceLoader Source = "loader"
)

const jobProgressNamespace = "job_progress"

// Key identifies a piece of per-symbol market data
type Key struct {
	Symbol    string
	DataType  string
	Timeframe string
}

func (k Key) String() string {
	return fmt.Sprintf("stock:%s:%s:%s", k.Symbol, k.DataType, k.Timeframe)
}

// Entry is a cached payload together with its bookkeeping
type Entry struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"written_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Source    Source          `json:"source"`
}

// Stats counts lookups per tier. They are informational only: eviction is purely TTL based.
type Stats struct {
	MemoryHits    int64 `json:"memory_hits"`
	RemoteHits    int64 `json:"remote_hits"`
	Misses        int64 `json:"misses"`
	Sets          int64 `json:"sets"`
	RemoteErrors  int64 `json:"remote_errors"`
	Evictions     int64 `json:"evictions"`
	MemoryEntries int   `json:"memory_entries"`
	RemoteEnabled bool  `json:"remote_enabled"`
}

// Tiered is a read-through, write-through cache: process memory first, then
// the remote tier. Remote failures degrade to memory-only and are never
// returned to the caller.
type Tiered struct {
	mu     sync.RWMutex
	memory map[string]Entry
	remote Cache

	memoryTTL   time.Duration
	remoteTTL   time.Duration
	progressTTL time.Duration
	sweepEvery  time.Duration

	group singleflight.Group
	now   func() time.Time

	memoryHits   atomic.Int64
	remoteHits   atomic.Int64
	misses       atomic.Int64
	sets         atomic.Int64
	remoteErrors atomic.Int64
	evictions    atomic.Int64
}

// NewTiered builds the cache. A nil remote runs memory-only.
func NewTiered(remote Cache, cfg config.CacheConfig) *Tiered {
	return &Tiered{
		memory:      make(map[string]Entry),
		remote:      remote,
		memoryTTL:   cfg.MemoryTTL(),
		remoteTTL:   cfg.RemoteTTL(),
		progressTTL: cfg.JobProgressTTL(),
		sweepEvery:  cfg.SweepInterval(),
		now:         time.Now,
	}
}

// Get looks the key up in memory, then in the remote tier. A remote hit is
// promoted into memory.
func (t *Tiered) Get(ctx context.Context, key Key) (Entry, bool) {
	return t.get(ctx, key.String())
}

// Set writes data to both tiers with their own TTLs
func (t *Tiered) Set(ctx context.Context, key Key, data []byte) {
	t.set(ctx, key.String(), data, t.memoryTTL, t.remoteTTL)
}

// Fetch returns the cached data for key or calls load once, even when several
// goroutines miss on the same key at the same time, and caches the result
func (t *Tiered) Fetch(ctx context.Context, key Key, load func(ctx context.Context) ([]byte, error)) ([]byte, Source, error) {
	if entry, ok := t.Get(ctx, key); ok {
		return entry.Data, entry.Source, nil
	}

	k := key.String()
	v, err, _ := t.group.Do(k, func() (interface{}, error) {
		// another caller may have filled it while we waited for the group
		if entry, ok := t.peekMemory(k); ok {
			return []byte(entry.Data), nil
		}

		data, err := load(ctx)
		if err != nil {
			return nil, err
		}
		t.set(ctx, k, data, t.memoryTTL, t.remoteTTL)
		return data, nil
	})
	if err != nil {
		return nil, SourceLoader, err
	}

	return v.([]byte), SourceLoader, nil
}

// Delete drops the key from both tiers
func (t *Tiered) Delete(ctx context.Context, key Key) {
	k := key.String()

	t.mu.Lock()
	delete(t.memory, k)
	t.mu.Unlock()

	if t.remote == nil {
		return
	}
	if err := t.remote.Delete(ctx, k); err != nil {
		t.remoteFailed(err, k, "delete")
	}
}

// SetJobProgress mirrors a job's progress under the job progress namespace
func (t *Tiered) SetJobProgress(ctx context.Context, jobID string, progress model.JobProgress) {
	data, err := json.Marshal(progress)
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("Failed to marshal job progress")
		return
	}
	t.set(ctx, progressKey(jobID), data, t.memoryTTL, t.progressTTL)
}

// GetJobProgress reads a mirrored progress record
func (t *Tiered) GetJobProgress(ctx context.Context, jobID string) (model.JobProgress, bool) {
	var progress model.JobProgress

	entry, ok := t.get(ctx, progressKey(jobID))
	if !ok {
		return progress, false
	}
	if err := json.Unmarshal(entry.Data, &progress); err != nil {
		log.Warn().Err(err).Str("jobId", jobID).Msg("Discarding unreadable job progress entry")
		return progress, false
	}
	return progress, true
}

// Stats returns a snapshot of the counters
func (t *Tiered) Stats() Stats {
	t.mu.RLock()
	entries := len(t.memory)
	t.mu.RUnlock()

	return Stats{
		MemoryHits:    t.memoryHits.Load(),
		RemoteHits:    t.remoteHits.Load(),
		Misses:        t.misses.Load(),
		Sets:          t.sets.Load(),
		RemoteErrors:  t.remoteErrors.Load(),
		Evictions:     t.evictions.Load(),
		MemoryEntries: entries,
		RemoteEnabled: t.remote != nil,
	}
}

// Sweep evicts expired memory entries and returns how many were removed
func (t *Tiered) Sweep() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, entry := range t.memory {
		if !now.Before(entry.ExpiresAt) {
			delete(t.memory, k)
			removed++
		}
	}
	t.evictions.Add(int64(removed))
	return removed
}

// Run sweeps the memory tier periodically until ctx is done
func (t *Tiered) Run(ctx context.Context) error {
	interval := t.sweepEvery
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Swept expired cache entries")
			}
		}
	}
}

func (t *Tiered) get(ctx context.Context, k string) (Entry, bool) {
	if entry, ok := t.peekMemory(k); ok {
		t.memoryHits.Add(1)
		return entry, true
	}

	if t.remote != nil {
		if entry, ok := t.getRemote(ctx, k); ok {
			t.remoteHits.Add(1)
			t.promote(k, entry)
			return entry, true
		}
	}

	t.misses.Add(1)
	return Entry{}, false
}

// peekMemory returns a live memory entry, lazily evicting an expired one
func (t *Tiered) peekMemory(k string) (Entry, bool) {
	now := t.now()

	t.mu.RLock()
	entry, ok := t.memory[k]
	t.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	if now.Before(entry.ExpiresAt) {
		return entry, true
	}

	t.mu.Lock()
	if cur, ok := t.memory[k]; ok && !now.Before(cur.ExpiresAt) {
		delete(t.memory, k)
		t.evictions.Add(1)
	}
	t.mu.Unlock()
	return Entry{}, false
}

func (t *Tiered) getRemote(ctx context.Context, k string) (Entry, bool) {
	raw, err := t.remote.Get(ctx, k)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			t.remoteFailed(err, k, "get")
		}
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Str("key", k).Msg("Discarding unreadable remote cache entry")
		return Entry{}, false
	}
	if !t.now().Before(entry.ExpiresAt) {
		return Entry{}, false
	}

	entry.Source = SourceRemote
	return entry, true
}

// promote copies a remote hit into memory without outliving the remote entry
func (t *Tiered) promote(k string, entry Entry) {
	expires := t.now().Add(t.memoryTTL)
	if entry.ExpiresAt.Before(expires) {
		expires = entry.ExpiresAt
	}

	entry.Source = SourceMemory
	entry.ExpiresAt = expires

	t.mu.Lock()
	t.memory[k] = entry
	t.mu.Unlock()
}

func (t *Tiered) set(ctx context.Context, k string, data []byte, memoryTTL, remoteTTL time.Duration) {
	now := t.now()
	t.sets.Add(1)

	t.mu.Lock()
	t.memory[k] = Entry{
		Data:      append(json.RawMessage(nil), data...),
		WrittenAt: now,
		ExpiresAt: now.Add(memoryTTL),
		Source:    SourceMemory,
	}
	t.mu.Unlock()

	if t.remote == nil {
		return
	}

	raw, err := json.Marshal(Entry{
		Data:      data,
		WrittenAt: now,
		ExpiresAt: now.Add(remoteTTL),
		Source:    SourceRemote,
	})
	if err != nil {
		log.Error().Err(err).Str("key", k).Msg("Failed to encode cache entry")
		return
	}

	if err := t.remote.Set(ctx, k, raw, remoteTTL); err != nil {
		t.remoteFailed(err, k, "set")
	}
}

func (t *Tiered) remoteFailed(err error, k, op string) {
	t.remoteErrors.Add(1)
	log.Warn().
		Err(err).
		Str("key", k).
		Str("op", op).
		Msg("Remote cache unavailable, continuing with memory tier")
}

func progressKey(jobID string) string {
	return jobProgressNamespace + ":" + jobID
}
