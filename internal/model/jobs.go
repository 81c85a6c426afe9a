package model

import (
	"time"
)

// JobStatus represents the current state of a scan job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// MaxJobErrors bounds the ring of most recent per-symbol errors kept on a job
const MaxJobErrors = 20

// IsTerminal reports whether the status can no longer change
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobProgress tracks the live processing state of a job
type JobProgress struct {
	Processed               int        `bson:"processed" json:"processed"`
	Total                   int        `bson:"total" json:"total"`
	Percentage              float64    `bson:"percentage" json:"percentage"`
	CurrentSymbol           *string    `bson:"current_symbol,omitempty" json:"current_symbol"`
	EstimatedCompletionTime *time.Time `bson:"estimated_completion_time,omitempty" json:"estimated_completion_time"`
	APICallsMade            int        `bson:"api_calls_made" json:"api_calls_made"`
	PartialResultsCount     int        `bson:"partial_results_count" json:"partial_results_count"`
	Errors                  []string   `bson:"errors" json:"errors"`
}

// Job represents a batch scan over an ordered list of symbols
type Job struct {
	ID          string        `bson:"_id" json:"id"`
	Symbols     []string      `bson:"symbols" json:"symbols"`
	Filters     FilterSpec    `bson:"filters" json:"filters"`
	Indices     []string      `bson:"indices,omitempty" json:"indices,omitempty"`
	Status      JobStatus     `bson:"status" json:"status"`
	Progress    JobProgress   `bson:"progress" json:"progress"`
	Results     []StockRecord `bson:"results" json:"results"`
	Error       string        `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
	StartedAt   *time.Time    `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time    `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Clone returns a copy of the job whose slices can be read without
// synchronising with the job's writer.
func (j Job) Clone() Job {
	out := j
	out.Symbols = append([]string(nil), j.Symbols...)
	out.Indices = append([]string(nil), j.Indices...)
	out.Progress.Errors = append([]string(nil), j.Progress.Errors...)
	// results are only ever replaced, never mutated in place
	out.Results = j.Results[:len(j.Results):len(j.Results)]
	if j.Progress.CurrentSymbol != nil {
		sym := *j.Progress.CurrentSymbol
		out.Progress.CurrentSymbol = &sym
	}
	return out
}

// JobStatusView is the status summary returned to pollers
type JobStatusView struct {
	ID          string      `json:"id"`
	Status      JobStatus   `json:"status"`
	Progress    JobProgress `json:"progress"`
	ResultCount int         `json:"result_count"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// PartialResultsView is the live results snapshot of a job
type PartialResultsView struct {
	ID                  string        `json:"id"`
	Status              JobStatus     `json:"status"`
	PartialResults      []StockRecord `json:"partial_results"`
	PartialResultsCount int           `json:"partial_results_count"`
	IsFinal             bool          `json:"is_final"`
}

// StatusView builds the poller summary for the job
func (j Job) StatusView() JobStatusView {
	return JobStatusView{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		ResultCount: len(j.Results),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// PartialView builds the live results snapshot for the job
func (j Job) PartialView() PartialResultsView {
	results := j.Results
	if results == nil {
		results = []StockRecord{}
	}
	return PartialResultsView{
		ID:                  j.ID,
		Status:              j.Status,
		PartialResults:      results,
		PartialResultsCount: len(results),
		IsFinal:             j.Status.IsTerminal(),
	}
}
