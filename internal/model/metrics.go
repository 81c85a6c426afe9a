package model

// EngineStats aggregates counters across every job the engine has run
type EngineStats struct {
	JobsCreated           int64   `json:"jobs_created"`
	TotalJobs             int64   `json:"total_jobs"`
	FailedJobs            int64   `json:"failed_jobs"`
	CancelledJobs         int64   `json:"cancelled_jobs"`
	TotalStocksProcessed  int64   `json:"total_stocks_processed"`
	TotalAPICalls         int64   `json:"total_api_calls"`
	AvgProcessingSeconds  float64 `json:"avg_processing_seconds"`
	ActiveJobs            int     `json:"active_jobs"`
	QueuedJobs            int     `json:"queued_jobs"`
	MaxConcurrentJobs     int     `json:"max_concurrent_jobs"`
	RateLimitWindowCalls  int     `json:"rate_limit_window_calls"`
	RateLimitCallsPerMin  int     `json:"rate_limit_calls_per_minute"`
	RateLimitTotalWaits   int64   `json:"rate_limit_total_waits"`
	RateLimitTotalGranted int64   `json:"rate_limit_total_granted"`
}
