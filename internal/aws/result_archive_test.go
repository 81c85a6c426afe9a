package aws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"screener/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFiles struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (f *fakeFiles) ListFiles(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeFiles) TestConnection(context.Context) error { return nil }

func (f *fakeFiles) UploadFile(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.key, f.contentType, f.body = key, contentType, data
	return objectURL("bucket", "us-east-1", key), nil
}

func TestExportResults(t *testing.T) {
	files := &fakeFiles{}
	archive := NewResultArchive(files, "scans")

	done := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	job := model.Job{
		ID:          "job-1",
		Indices:     []string{"sp500"},
		Status:      model.StatusCompleted,
		CompletedAt: &done,
		Progress:    model.JobProgress{Total: 2, Processed: 2},
		Results:     []model.StockRecord{{Symbol: "AAPL", Price: 150}},
	}

	require.NoError(t, archive.ExportResults(context.Background(), job))
	assert.Equal(t, "scans/job-1/results.json", files.key)
	assert.Equal(t, "application/json", files.contentType)

	var doc resultDocument
	require.NoError(t, json.Unmarshal(files.body, &doc))
	assert.Equal(t, "job-1", doc.ID)
	assert.Equal(t, 2, doc.Processed)
	require.Len(t, doc.Results, 1)
	assert.Equal(t, "AAPL", doc.Results[0].Symbol)
}

func TestExportResults_EmptyResultsAreAnArray(t *testing.T) {
	files := &fakeFiles{}
	require.NoError(t, NewResultArchive(files, "").ExportResults(context.Background(), model.Job{ID: "empty"}))

	assert.Equal(t, "empty/results.json", files.key)
	assert.Contains(t, string(files.body), `"results":[]`)
}

func TestExportResults_UploadError(t *testing.T) {
	files := &fakeFiles{err: errors.New("access denied")}
	err := NewResultArchive(files, "scans").ExportResults(context.Background(), model.Job{ID: "x"})
	assert.ErrorContains(t, err, "access denied")
}

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/scans/x/results.json", objectURL("b", "eu-west-1", "scans/x/results.json"))
}
