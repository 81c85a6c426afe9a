package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/controller"
	"screener/internal/model"
	"screener/internal/scanner"
	"screener/internal/store"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noLimit struct{}

func (noLimit) Acquire(ctx context.Context) error { return ctx.Err() }

type fixture struct {
	server  *Server
	handler http.Handler
	release chan struct{}
}

// newFixture serves scans whose symbols named "WAIT" block until release is closed
func newFixture(t *testing.T, cfg config.Config, checks map[string]controller.HealthCheck) *fixture {
	t.Helper()

	release := make(chan struct{})
	process := func(ctx context.Context, symbol string, _ model.FilterSpec) (*model.StockRecord, error) {
		if symbol == "WAIT" {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
		}
		return &model.StockRecord{Symbol: symbol, Price: 150}, nil
	}

	engine := scanner.New(store.New(nil, config.ScannerConfig{RetentionHours: 24}), noLimit{}, process, scanner.Options{})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		_ = engine.Shutdown(context.Background())
	})

	tiered := cache.NewTiered(nil, config.CacheConfig{MemoryTTLSeconds: 120, RemoteTTLSeconds: 300})
	scans := controller.NewScanController(engine, nil, nil, nil, config.RabbitMQConfig{})

	s := newServer(cfg, controller.NewServer(checks), scans, tiered)
	s.streamInterval = 5 * time.Millisecond

	return &fixture{server: s, handler: s.RegisterRoutes(), release: release}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func (f *fixture) create(t *testing.T, body string) model.ScanCreated {
	t.Helper()
	w := f.do(http.MethodPost, "/scans", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created model.ScanCreated
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	return created
}

func (f *fixture) waitStatus(t *testing.T, id string, want model.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := f.do(http.MethodGet, "/scans/"+id, "")
		var view model.JobStatusView
		return w.Code == http.StatusOK && json.Unmarshal(w.Body.Bytes(), &view) == nil && view.Status == want
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScanLifecycle(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	created := f.create(t, `{"symbols":["aapl","msft"],"filters":{"price_filter":{"type":"under","under":1000}}}`)
	assert.True(t, created.Started)
	assert.NotEmpty(t, created.ID)

	f.waitStatus(t, created.ID, model.StatusCompleted)

	w := f.do(http.MethodGet, "/scans/"+created.ID+"/results", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int                 `json:"count"`
		Results []model.StockRecord `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "AAPL", body.Results[0].Symbol)

	w = f.do(http.MethodGet, "/scans/"+created.ID+"/partial", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_final":true`)

	w = f.do(http.MethodDelete, "/scans/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodGet, "/scans/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.EngineStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.JobsCreated)
}

func TestCreateScan_BadRequest(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/scans", `{"symbols":`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/scans", `{"symbols":[]}`).Code)

	w := f.do(http.MethodPost, "/scans", `{"symbols":["AAPL"],"filters":{"price_filter":{"type":"range","min":10}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid filters")
}

func TestRunningScan(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	created := f.create(t, `{"symbols":["WAIT"]}`)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodGet, "/scans/"+created.ID+"/results", "").Code)

	w := f.do(http.MethodDelete, "/scans/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodDelete, "/scans/"+created.ID, "").Code)
}

func TestUnknownScan(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	for _, path := range []string{"/scans/nope", "/scans/nope/partial", "/scans/nope/results", "/scans/nope/stream"} {
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/scans/nope", "").Code)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	created := f.create(t, `{"symbols":["KO"]}`)
	f.waitStatus(t, created.ID, model.StatusCompleted)

	w := f.do(http.MethodGet, "/scans/history?status=completed", "")
	require.Equal(t, http.StatusOK, w.Code)

	var history model.ScanHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Recent, 1)
	assert.Equal(t, created.ID, history.Recent[0].ID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/scans/history?status=done", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/scans/history?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/scans/history?offset=-1", "").Code)
}

func TestStream(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	created := f.create(t, `{"symbols":["WAIT","AAPL"]}`)

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- f.do(http.MethodGet, "/scans/"+created.ID+"/stream", "")
	}()

	time.Sleep(20 * time.Millisecond)
	close(f.release)

	select {
	case w := <-done:
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		body := w.Body.String()
		assert.Contains(t, body, "event:progress\n")
		assert.Contains(t, body, "event:complete\n")
		assert.Contains(t, body, `"is_final":true`)
		assert.True(t, strings.Index(body, "event:progress") < strings.Index(body, "event:complete"))
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{APIKeyHashes: []string{strings.ToUpper(HashAPIKey("s3cret"))}}}
	f := newFixture(t, cfg, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/scans/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/scans/stats", "", "Authorization", "Token s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/scans/stats", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/scans/stats", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/cache/stats", "", "X-API-Key", "s3cret").Code)

	// probes stay open
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/online", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.Config{}, map[string]controller.HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"rabbitmq": func(context.Context) error { return errors.New("connection is closed") },
	})

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var report model.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, "connection is closed", report.Components["rabbitmq"])

	w = f.do(http.MethodGet, "/online", "")
	assert.Equal(t, "Online", w.Body.String())
}

func TestCacheStats(t *testing.T) {
	f := newFixture(t, config.Config{}, nil)

	w := f.do(http.MethodGet, "/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats cache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.False(t, stats.RemoteEnabled)
}

func TestCORSConfig(t *testing.T) {
	s := newServer(config.Config{}, nil, nil, nil)
	cfg := s.corsConfig()
	assert.True(t, cfg.AllowAllOrigins)
	assert.Nil(t, cfg.AllowOrigins)

	s = newServer(config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}}}, nil, nil, nil)
	cfg = s.corsConfig()
	assert.False(t, cfg.AllowAllOrigins)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.AllowOrigins)
}
