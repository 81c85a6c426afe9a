package scanner

import (
	"screener/internal/model"
	"screener/internal/ratelimit"
	"sync"
	"time"
)

type counters struct {
	mu            sync.Mutex
	jobsCreated   int64
	totalJobs     int64
	failedJobs    int64
	cancelledJobs int64
	stocks        int64
	apiCalls      int64
	avgSeconds    float64
}

func (c *counters) created() {
	c.mu.Lock()
	c.jobsCreated++
	c.mu.Unlock()
}

func (c *counters) failed() {
	c.mu.Lock()
	c.failedJobs++
	c.mu.Unlock()
}

func (c *counters) cancelled() {
	c.mu.Lock()
	c.cancelledJobs++
	c.mu.Unlock()
}

// completed folds a finished job into the totals and the running average
func (c *counters) completed(processed, apiCalls int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalJobs++
	c.stocks += int64(processed)
	c.apiCalls += int64(apiCalls)
	c.avgSeconds += (elapsed.Seconds() - c.avgSeconds) / float64(c.totalJobs)
}

type limiterStats interface {
	Stats() ratelimit.Stats
}

// GetStats returns the aggregate counters across every job this engine ran
func (e *Engine) GetStats() model.EngineStats {
	e.stats.mu.Lock()
	out := model.EngineStats{
		JobsCreated:          e.stats.jobsCreated,
		TotalJobs:            e.stats.totalJobs,
		FailedJobs:           e.stats.failedJobs,
		CancelledJobs:        e.stats.cancelledJobs,
		TotalStocksProcessed: e.stats.stocks,
		TotalAPICalls:        e.stats.apiCalls,
		AvgProcessingSeconds: e.stats.avgSeconds,
	}
	e.stats.mu.Unlock()

	e.mu.Lock()
	out.ActiveJobs = len(e.running)
	out.QueuedJobs = len(e.queue)
	e.mu.Unlock()
	out.MaxConcurrentJobs = e.maxConcurrent

	if ls, ok := e.limiter.(limiterStats); ok {
		rl := ls.Stats()
		out.RateLimitWindowCalls = rl.WindowCalls
		out.RateLimitCallsPerMin = rl.CallsPerMinute
		out.RateLimitTotalWaits = rl.TotalWaits
		out.RateLimitTotalGranted = rl.TotalGranted
	}

	return out
}
