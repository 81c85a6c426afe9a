package scanner

import (
	"context"
	"errors"
	"fmt"
	"screener/internal/events"
	"screener/internal/filter"
	"screener/internal/model"
	"screener/internal/store"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	partialResultsEvery = 10
	earlyStageSymbols   = 50
	earlyStageInflation = 1.2
)

var errStopped = errors.New("job is no longer running")

// persistEvery is the adaptive snapshot cadence: total/20, kept within [10, 50]
func persistEvery(total int) int {
	return min(50, max(10, total/20))
}

func (e *Engine) run(ctx context.Context, entry *store.Entry, jobID string) {
	defer e.wg.Done()
	defer e.release(jobID)

	logger := log.With().Str("jobId", jobID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Scan worker panicked")
			e.fail(entry, fmt.Sprintf("panic: %v", r))
		}
	}()

	e.store.Save(ctx, entry)
	e.publish(events.TypeStarted, entry.Snapshot())

	err := e.loop(ctx, entry, logger)
	switch {
	case err == nil:
		e.complete(entry, logger)
	case ctx.Err() != nil || errors.Is(err, errStopped):
		snap := entry.Snapshot()
		if snap.Status.IsTerminal() {
			logger.Debug().Str("status", string(snap.Status)).Msg("Scan worker stopped")
			return
		}
		// engine shutdown: keep the Running snapshot for the next process to resume
		e.store.Save(context.Background(), entry)
		logger.Info().
			Int("processed", snap.Progress.Processed).
			Int("total", snap.Progress.Total).
			Msg("Scan worker interrupted, job left resumable")
	default:
		logger.Error().Err(err).Msg("Scan job failed")
		e.fail(entry, err.Error())
	}
}

// loop processes symbols in job order starting after the last processed one.
// It returns nil once every symbol is processed.
func (e *Engine) loop(ctx context.Context, entry *store.Entry, logger zerolog.Logger) error {
	job := entry.Snapshot()
	total := len(job.Symbols)
	resumeFrom := job.Progress.Processed
	cadence := persistEvery(total)
	runStart := e.now()

	for i := resumeFrom; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		symbol := job.Symbols[i]

		running := true
		entry.Update(func(j *model.Job) {
			if j.Status != model.StatusRunning {
				running = false
				return
			}
			j.Progress.CurrentSymbol = &symbol
			j.Progress.Percentage = percentage(j.Progress.Processed, total)
			j.Progress.EstimatedCompletionTime = e.estimate(runStart, j.Progress.Processed-resumeFrom, j.Progress.Processed, total)
		})
		if !running {
			return errStopped
		}

		if err := e.limiter.Acquire(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rate limiter: %w", err)
		}

		record, err := e.processSymbol(ctx, symbol, job.Filters)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		passed := false
		if err == nil && record != nil {
			passed, err = filter.Evaluate(*record, job.Filters)
		}
		if err != nil {
			logger.Debug().Err(err).Str("symbol", symbol).Msg("Symbol failed, continuing")
		}

		snap := entry.Update(func(j *model.Job) {
			if j.Status != model.StatusRunning {
				running = false
				return
			}
			if err != nil {
				j.Progress.Errors = appendError(j.Progress.Errors, e.truncate(symbol+": "+err.Error()))
			}
			if passed {
				// readers hold capacity-clipped views, so appending never changes what they see
				j.Results = append(j.Results, *record)
			}
			j.Progress.Processed++
			j.Progress.APICallsMade++
			j.Progress.Percentage = percentage(j.Progress.Processed, total)
			if j.Progress.Processed%partialResultsEvery == 0 {
				j.Progress.PartialResultsCount = len(j.Results)
			}
		})
		if !running {
			return errStopped
		}

		processed := snap.Progress.Processed
		switch {
		case processed%partialResultsEvery == 0:
			e.store.Save(ctx, entry)
			if e.progress != nil {
				e.progress.SetJobProgress(ctx, snap.ID, snap.Progress)
			}
			logger.Debug().
				Int("processed", processed).
				Int("total", total).
				Int("results", len(snap.Results)).
				Msg("Scan progress")
		case processed%cadence == 0:
			e.store.Save(ctx, entry)
		}
	}

	return nil
}

// processSymbol calls the process function, turning a panic into an error so
// it counts against the symbol rather than the job.
func (e *Engine) processSymbol(ctx context.Context, symbol string, filters model.FilterSpec) (record *model.StockRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.process(ctx, symbol, filters)
}

func (e *Engine) complete(entry *store.Entry, logger zerolog.Logger) {
	snap, ok := e.finish(entry, model.StatusCompleted, func(j *model.Job) {
		j.Progress.Percentage = 100
		j.Progress.PartialResultsCount = len(j.Results)
	})
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.store.Save(ctx, entry)
	if e.progress != nil {
		e.progress.SetJobProgress(ctx, snap.ID, snap.Progress)
	}

	var elapsed time.Duration
	if snap.StartedAt != nil && snap.CompletedAt != nil {
		elapsed = snap.CompletedAt.Sub(*snap.StartedAt)
	}
	e.stats.completed(snap.Progress.Processed, snap.Progress.APICallsMade, elapsed)

	logger.Info().
		Int("processed", snap.Progress.Processed).
		Int("results", len(snap.Results)).
		Int("errors", len(snap.Progress.Errors)).
		Dur("elapsed", elapsed).
		Msg("Scan job completed")

	e.publish(events.TypeCompleted, snap)

	if e.results != nil {
		if err := e.results.ExportResults(ctx, snap); err != nil {
			logger.Warn().Err(err).Msg("Failed to export scan results")
		}
	}
}

func (e *Engine) fail(entry *store.Entry, message string) {
	snap, ok := e.finish(entry, model.StatusFailed, func(j *model.Job) {
		j.Error = message
		j.Progress.PartialResultsCount = len(j.Results)
	})
	if !ok {
		return
	}

	e.store.Save(context.Background(), entry)
	e.stats.failed()
	e.publish(events.TypeFailed, snap)
}

// estimate projects the completion time from the pace of this run. Early on
// the projection is inflated because the first calls are not representative.
func (e *Engine) estimate(runStart time.Time, doneThisRun, processed, total int) *time.Time {
	if doneThisRun <= 0 || processed >= total {
		return nil
	}

	now := e.now()
	perItem := now.Sub(runStart) / time.Duration(doneThisRun)
	remaining := time.Duration(total-processed) * perItem
	if processed < earlyStageSymbols {
		remaining = time.Duration(float64(remaining) * earlyStageInflation)
	}

	eta := now.Add(remaining).UTC()
	return &eta
}

func (e *Engine) truncate(msg string) string {
	if len(msg) <= e.maxErrorLen {
		return msg
	}
	return msg[:e.maxErrorLen] + "..."
}

// appendError keeps only the most recent model.MaxJobErrors messages
func appendError(errs []string, msg string) []string {
	errs = append(errs, msg)
	if over := len(errs) - model.MaxJobErrors; over > 0 {
		errs = append([]string(nil), errs[over:]...)
	}
	return errs
}

func percentage(processed, total int) float64 {
	if total == 0 {
		return 100
	}
	return 100 * float64(processed) / float64(total)
}
