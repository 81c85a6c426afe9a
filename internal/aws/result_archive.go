package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"screener/internal/model"
	"time"

	"github.com/rs/zerolog/log"
)

// ResultArchive uploads the final results of completed scans as JSON documents
type ResultArchive struct {
	files  FileService
	prefix string
}

type resultDocument struct {
	ID          string              `json:"id"`
	Indices     []string            `json:"indices,omitempty"`
	Filters     model.FilterSpec    `json:"filters"`
	Total       int                 `json:"total"`
	Processed   int                 `json:"processed"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Results     []model.StockRecord `json:"results"`
}

func NewResultArchive(files FileService, prefix string) *ResultArchive {
	return &ResultArchive{files: files, prefix: prefix}
}

// Key is the object key results of jobID are written to
func (a *ResultArchive) Key(jobID string) string {
	return path.Join(a.prefix, jobID, "results.json")
}

func (a *ResultArchive) ExportResults(ctx context.Context, job model.Job) error {
	results := job.Results
	if results == nil {
		results = []model.StockRecord{}
	}

	body, err := json.Marshal(resultDocument{
		ID:          job.ID,
		Indices:     job.Indices,
		Filters:     job.Filters,
		Total:       job.Progress.Total,
		Processed:   job.Progress.Processed,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		Results:     results,
	})
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}

	start := time.Now()
	url, err := a.files.UploadFile(ctx, a.Key(job.ID), bytes.NewReader(body), "application/json")
	if err != nil {
		return fmt.Errorf("uploading results: %w", err)
	}

	log.Info().
		Str("jobId", job.ID).
		Str("url", url).
		Int("results", len(results)).
		Int("size", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Exported scan results")

	return nil
}
