package controller

import (
	"context"
	"errors"
	"fmt"
	"screener/internal/config"
	"screener/internal/database"
	"screener/internal/model"
	"screener/internal/rabbitmq"
	"screener/internal/scanner"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var (
	ErrScanNotFound     = errors.New("scan not found")
	ErrScanNotCompleted = errors.New("scan has not completed")
	ErrScanFinished     = errors.New("scan already finished")
	ErrInvalidRequest   = errors.New("invalid scan request")
)

// ScanEngine is the part of the batch engine the controller drives
type ScanEngine interface {
	CreateAndStart(ctx context.Context, symbols []string, filters model.FilterSpec, indices []string) (string, bool, error)
	Cancel(jobID string) bool
	GetJob(jobID string) (model.Job, bool)
	GetStatus(jobID string) (model.JobStatusView, bool)
	GetPartialResults(jobID string) (model.PartialResultsView, bool)
	GetResults(jobID string) ([]model.StockRecord, bool)
	GetStats() model.EngineStats
	ListJobs() []model.Job
}

// SymbolSource expands an index name into its member symbols
type SymbolSource interface {
	Symbols(index string) []string
}

// ScanController handles scan operations for the HTTP API and the request queue
type ScanController interface {
	// CreateScan validates the request, creates the job and tries to start it
	CreateScan(ctx context.Context, req model.ScanRequest) (model.ScanCreated, error)

	// GetStatus looks in memory first, then in the archive
	GetStatus(ctx context.Context, id string) (model.JobStatusView, error)

	GetPartialResults(ctx context.Context, id string) (model.PartialResultsView, error)

	// GetResults returns the final results of a completed scan
	GetResults(ctx context.Context, id string) ([]model.StockRecord, error)

	CancelScan(id string) error

	Stats() model.EngineStats

	History(ctx context.Context, status model.JobStatus, limit, offset int) (model.ScanHistory, error)

	// ConsumeScanRequests starts consuming queued scan requests
	ConsumeScanRequests(ctx context.Context) error

	// StopProcessing stops the queue consumer
	StopProcessing()
}

type scanController struct {
	engine   ScanEngine
	symbols  SymbolSource
	archive  database.JobArchive
	validate *validator.Validate

	rabbitClient rabbitmq.Client
	rabbitConfig config.RabbitMQConfig
	consumerTag  string
	shutdown     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewScanController creates the controller. archive and rabbitClient may be nil.
func NewScanController(engine ScanEngine, symbols SymbolSource, archive database.JobArchive,
	rabbitClient rabbitmq.Client, rabbitConfig config.RabbitMQConfig) ScanController {
	v := validator.New()
	v.SetTagName("binding")

	return &scanController{
		engine:       engine,
		symbols:      symbols,
		archive:      archive,
		validate:     v,
		rabbitClient: rabbitClient,
		rabbitConfig: rabbitConfig,
		shutdown:     make(chan struct{}),
	}
}

func (c *scanController) CreateScan(ctx context.Context, req model.ScanRequest) (model.ScanCreated, error) {
	if err := c.validate.Struct(req); err != nil {
		return model.ScanCreated{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = c.expandIndices(req.Indices)
	}

	id, started, err := c.engine.CreateAndStart(ctx, symbols, req.Filters, req.Indices)
	if err != nil {
		return model.ScanCreated{}, err
	}

	status := model.StatusPending
	if started {
		status = model.StatusRunning
	}
	return model.ScanCreated{ID: id, Status: status, Started: started}, nil
}

// expandIndices unions the members of every index, in index order
func (c *scanController) expandIndices(indices []string) []string {
	if c.symbols == nil {
		return nil
	}

	var out []string
	for _, index := range indices {
		out = append(out, c.symbols.Symbols(index)...)
	}
	return out
}

func (c *scanController) GetStatus(ctx context.Context, id string) (model.JobStatusView, error) {
	if view, ok := c.engine.GetStatus(id); ok {
		return view, nil
	}

	job, err := c.archived(ctx, id)
	if err != nil {
		return model.JobStatusView{}, err
	}
	return job.StatusView(), nil
}

func (c *scanController) GetPartialResults(ctx context.Context, id string) (model.PartialResultsView, error) {
	if view, ok := c.engine.GetPartialResults(id); ok {
		return view, nil
	}

	job, err := c.archived(ctx, id)
	if err != nil {
		return model.PartialResultsView{}, err
	}
	return job.PartialView(), nil
}

func (c *scanController) GetResults(ctx context.Context, id string) ([]model.StockRecord, error) {
	if results, ok := c.engine.GetResults(id); ok {
		return results, nil
	}
	if _, ok := c.engine.GetJob(id); ok {
		return nil, ErrScanNotCompleted
	}

	job, err := c.archived(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, ErrScanNotCompleted
	}
	if job.Results == nil {
		return []model.StockRecord{}, nil
	}
	return job.Results, nil
}

func (c *scanController) CancelScan(id string) error {
	if c.engine.Cancel(id) {
		return nil
	}
	if _, ok := c.engine.GetJob(id); ok {
		return ErrScanFinished
	}
	return ErrScanNotFound
}

func (c *scanController) Stats() model.EngineStats {
	return c.engine.GetStats()
}

func (c *scanController) History(ctx context.Context, status model.JobStatus, limit, offset int) (model.ScanHistory, error) {
	history := model.ScanHistory{
		Recent:   []model.JobStatusView{},
		Archived: []model.JobStatusView{},
	}

	for _, job := range c.engine.ListJobs() {
		if status == "" || job.Status == status {
			history.Recent = append(history.Recent, job.StatusView())
		}
	}

	if c.archive == nil {
		return history, nil
	}

	jobs, err := c.archive.ListArchivedJobs(ctx, status, limit, offset)
	if err != nil {
		return history, fmt.Errorf("listing archived scans: %w", err)
	}
	for _, job := range jobs {
		history.Archived = append(history.Archived, job.StatusView())
	}

	total, err := c.archive.CountArchivedJobs(ctx, status)
	if err != nil {
		return history, fmt.Errorf("counting archived scans: %w", err)
	}
	history.ArchivedTotal = total

	return history, nil
}

func (c *scanController) archived(ctx context.Context, id string) (*model.Job, error) {
	if c.archive == nil {
		return nil, ErrScanNotFound
	}

	job, err := c.archive.GetArchivedJob(ctx, id)
	if errors.Is(err, database.ErrJobNotFound) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("jobId", id).Msg("Failed to read scan archive")
		return nil, err
	}
	return job, nil
}

// IsBadRequest reports whether err was caused by the caller's input
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, scanner.ErrNoSymbols) ||
		errors.Is(err, scanner.ErrInvalidFilters)
}
