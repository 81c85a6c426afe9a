package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/model"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provider(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"title":"Unauthorized","detail":"bad key"}]}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/indicators/AAPL":
			assert.Equal(t, "daily", r.URL.Query().Get("timeframe"))
			_, _ = w.Write([]byte(`{"symbol":"AAPL","name":"Apple Inc.","price":150.25,"dmi":32.5,"ppo":1.2,"ppo_slope":0.4,"hook":"Positive","as_of":"2024-05-01T20:00:00Z"}`))
		case "/v1/indicators/HALT":
			_, _ = w.Write([]byte(`{"symbol":"HALT","price":null,"dmi":10}`))
		case "/v1/indicators/BUSY":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"title":"Not Found","detail":"unknown symbol"}]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(baseURL, key string) *Client {
	return New(config.MarketDataConfig{APIKey: key, BaseURL: baseURL + "/", Timeframe: "daily", TimeoutSeconds: 5})
}

func TestGetIndicators(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)

	ind, err := newClient(srv.URL, "secret").GetIndicators(context.Background(), "AAPL", "")
	require.NoError(t, err)
	require.NotNil(t, ind.Price)
	assert.Equal(t, 150.25, *ind.Price)
	assert.Equal(t, "Apple Inc.", ind.Name)
	assert.Equal(t, 0.4, ind.PPOSlope)
}

func TestGetIndicators_APIError(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)

	_, err := newClient(srv.URL, "wrong").GetIndicators(context.Background(), "AAPL", "daily")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "API error: Unauthorized - bad key", err.Error())

	_, err = newClient(srv.URL, "secret").GetIndicators(context.Background(), "BUSY", "daily")
	assert.EqualError(t, err, "API error: status code 503")
}

func TestProcess(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)
	p := NewProcessor(newClient(srv.URL, "secret"), nil)
	ctx := context.Background()

	rec, err := p.Process(ctx, "AAPL", model.FilterSpec{})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "AAPL", rec.Symbol)
	assert.Equal(t, model.HookPositive, rec.Hook)
	assert.Equal(t, 32.5, rec.DMI)

	rec, err = p.Process(ctx, "HALT", model.FilterSpec{})
	assert.NoError(t, err)
	assert.Nil(t, rec, "no price means no record")

	rec, err = p.Process(ctx, "NOPE", model.FilterSpec{})
	assert.NoError(t, err)
	assert.Nil(t, rec, "unknown symbols are skipped")

	_, err = p.Process(ctx, "BUSY", model.FilterSpec{})
	assert.Error(t, err)
}

func TestProcess_ReadsThroughCache(t *testing.T) {
	var calls atomic.Int32
	srv := provider(t, &calls)

	tiered := cache.NewTiered(cache.NewMemoryCache(), config.CacheConfig{MemoryTTLSeconds: 120, RemoteTTLSeconds: 300})
	p := NewProcessor(newClient(srv.URL, "secret"), tiered)

	for i := 0; i < 3; i++ {
		rec, err := p.Process(context.Background(), "AAPL", model.FilterSpec{})
		require.NoError(t, err)
		require.NotNil(t, rec)
	}
	assert.Equal(t, int32(1), calls.Load())

	entry, ok := tiered.Get(context.Background(), cache.Key{Symbol: "AAPL", DataType: "indicators", Timeframe: "daily"})
	require.True(t, ok)
	assert.Contains(t, string(entry.Data), `"price":150.25`)

	// failures are not cached
	_, _ = p.Process(context.Background(), "BUSY", model.FilterSpec{})
	_, _ = p.Process(context.Background(), "BUSY", model.FilterSpec{})
	assert.Equal(t, int32(3), calls.Load())
}

func TestParseHook(t *testing.T) {
	assert.Equal(t, model.HookNegative, parseHook(" negative "))
	assert.Equal(t, model.HookNone, parseHook(""))
	assert.Equal(t, model.HookNone, parseHook("sideways"))
}
