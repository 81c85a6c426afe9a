package database

import (
	"screener/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestPagination(t *testing.T) {
	cases := []struct {
		limit, offset, wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{10, 20, 10, 20},
		{10000, 5, 500, 5},
	}
	for _, c := range cases {
		limit, offset := pagination(c.limit, c.offset)
		assert.Equal(t, c.wantLimit, limit)
		assert.Equal(t, c.wantOffset, offset)
	}
}

func TestStatusFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, statusFilter(""))
	assert.Equal(t, bson.M{"status": model.StatusFailed}, statusFilter(model.StatusFailed))
}

func TestJobIndexModels(t *testing.T) {
	assert.Len(t, jobIndexModels(0), 2, "no TTL index when archive expiry is disabled")

	models := jobIndexModels(30)
	assert.Len(t, models, 3)
	assert.Equal(t, bson.D{{Key: "completed_at", Value: 1}}, models[2].Keys)
	assert.Equal(t, int32(30*24*60*60), *models[2].Options.ExpireAfterSeconds)
}
