package database

import (
	"context"
	"errors"
	"screener/internal/model"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var ErrJobNotFound = errors.New("job not found")

// JobArchive stores terminal scan jobs after they leave the in-memory table
type JobArchive interface {
	// Upsert one job by id
	ArchiveJob(ctx context.Context, job model.Job) error

	// Archive a batch of swept jobs; failures are logged per job
	ArchiveJobs(ctx context.Context, jobs []model.Job)

	// Get an archived job by id
	GetArchivedJob(ctx context.Context, id string) (*model.Job, error)

	// List archived jobs, newest first. An empty status lists every status.
	ListArchivedJobs(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error)

	// Count archived jobs by status. An empty status counts every status.
	CountArchivedJobs(ctx context.Context, status model.JobStatus) (int64, error)
}

// ArchiveJob upserts the job document
func (m *mongoDB) ArchiveJob(ctx context.Context, job model.Job) error {
	_, err := m.jobsCol.ReplaceOne(
		ctx,
		bson.M{"_id": job.ID},
		job,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to archive job")
		return err
	}

	log.Debug().Str("jobID", job.ID).Str("status", string(job.Status)).Int("results", len(job.Results)).Msg("Archived job")
	return nil
}

func (m *mongoDB) ArchiveJobs(ctx context.Context, jobs []model.Job) {
	archived := 0
	for _, job := range jobs {
		if err := m.ArchiveJob(ctx, job); err == nil {
			archived++
		}
	}

	log.Info().Int("archived", archived).Int("swept", len(jobs)).Msg("Archived swept jobs")
}

// GetArchivedJob retrieves a job by its ID
func (m *mongoDB) GetArchivedJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobID", id).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

func (m *mongoDB) ListArchivedJobs(ctx context.Context, status model.JobStatus, limit, offset int) ([]*model.Job, error) {
	limit, offset = pagination(limit, offset)

	opts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64(offset)).
		SetSort(bson.M{"created_at": -1}).
		// history listings never need the full symbol list
		SetProjection(bson.M{"symbols": 0})

	cursor, err := m.jobsCol.Find(ctx, statusFilter(status), opts)
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to list archived jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	jobs := []*model.Job{}
	if err := cursor.All(ctx, &jobs); err != nil {
		log.Error().Err(err).Msg("Failed to decode jobs")
		return nil, err
	}

	return jobs, nil
}

func (m *mongoDB) CountArchivedJobs(ctx context.Context, status model.JobStatus) (int64, error) {
	count, err := m.jobsCol.CountDocuments(ctx, statusFilter(status))
	if err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("Failed to count archived jobs")
		return 0, err
	}
	return count, nil
}

func statusFilter(status model.JobStatus) bson.M {
	if status == "" {
		return bson.M{}
	}
	return bson.M{"status": status}
}

func pagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
