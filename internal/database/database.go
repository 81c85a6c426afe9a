package database

import (
	"context"
	"fmt"
	"screener/internal/config"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Database interface {
	Health() error
	Close(ctx context.Context) error
	JobArchive
}

type mongoDB struct {
	client *mongo.Client
	db     *mongo.Database

	jobsCol *mongo.Collection
}

func New(config config.MongoDBConfig) (Database, error) {
	clientOptions := options.Client().ApplyURI(config.URI)
	if config.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: config.Username,
			Password: config.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(config.DB)
	jobsCol := db.Collection("scan_jobs")

	_, err = jobsCol.Indexes().CreateMany(ctx, jobIndexModels(config.ArchiveTTLDays))
	if err != nil {
		log.Warn().Err(err).Str("Collection", "scan_jobs").Msg("Error creating indexes")
	}

	log.Info().
		Str("db", config.DB).
		Int("archiveTTLDays", config.ArchiveTTLDays).
		Msg("MongoDB job archive ready")

	return &mongoDB{
		client:  client,
		db:      db,
		jobsCol: jobsCol,
	}, nil
}

func jobIndexModels(ttlDays int) []mongo.IndexModel {
	models := []mongo.IndexModel{
		{
			// Index for status-based queries
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index(),
		},
		{
			// Index for sorting by creation date
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index(),
		},
	}

	if ttlDays > 0 {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "completed_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(ttlDays * 24 * 60 * 60)),
		})
	}
	return models
}

// Health implements Database interface
func (m *mongoDB) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := m.client.Ping(ctx, nil)

	if err != nil {
		log.Error().Msgf("Database health error: %v", err)
		return err
	}

	return nil
}

func (m *mongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
