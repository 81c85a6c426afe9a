// Package events publishes scan lifecycle notifications to message buses.
package events

import (
	"context"
	"errors"
	"screener/internal/model"
	"time"
)

// Type names a lifecycle transition
type Type string

const (
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeCancelled Type = "cancelled"
)

// Event describes a job reaching a lifecycle transition
type Event struct {
	Type        Type            `json:"type"`
	JobID       string          `json:"job_id"`
	Status      model.JobStatus `json:"status"`
	Processed   int             `json:"processed"`
	Total       int             `json:"total"`
	ResultCount int             `json:"result_count"`
	Error       string          `json:"error,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// FromJob builds the event for a job snapshot
func FromJob(t Type, job model.Job) Event {
	return Event{
		Type:        t,
		JobID:       job.ID,
		Status:      job.Status,
		Processed:   job.Progress.Processed,
		Total:       job.Progress.Total,
		ResultCount: len(job.Results),
		Error:       job.Error,
		OccurredAt:  time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
