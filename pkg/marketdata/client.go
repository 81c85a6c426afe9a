package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"screener/internal/config"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client talks to the market data provider's indicator API
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	timeframe  string
}

// Indicators is the provider's per-symbol payload. The indicator math is done upstream.
type Indicators struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Price    *float64  `json:"price"`
	DMI      float64   `json:"dmi"`
	PPO      float64   `json:"ppo"`
	PPOSlope float64   `json:"ppo_slope"`
	Hook     string    `json:"hook"`
	AsOf     time.Time `json:"as_of"`
}

// APIError is returned for non-2xx provider responses
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("API error: status code %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %s - %s", e.Title, e.Detail)
}

// New creates a market data client
func New(cfg config.MarketDataConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.Info().
		Str("base_url", cfg.BaseURL).
		Str("timeframe", cfg.Timeframe).
		Dur("timeout", timeout).
		Msg("Initializing market data client")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeframe:  cfg.Timeframe,
	}
}

// Timeframe is the default timeframe used when a caller passes none
func (c *Client) Timeframe() string {
	return c.timeframe
}

// GetIndicatorsRaw returns the provider's JSON for symbol without decoding it
func (c *Client) GetIndicatorsRaw(ctx context.Context, symbol, timeframe string) ([]byte, error) {
	if timeframe == "" {
		timeframe = c.timeframe
	}
	endpoint := fmt.Sprintf("/v1/indicators/%s?timeframe=%s", url.PathEscape(symbol), url.QueryEscape(timeframe))
	return c.request(ctx, endpoint)
}

// GetIndicators fetches and decodes the indicator snapshot for symbol
func (c *Client) GetIndicators(ctx context.Context, symbol, timeframe string) (*Indicators, error) {
	body, err := c.GetIndicatorsRaw(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	return decodeIndicators(body)
}

func decodeIndicators(body []byte) (*Indicators, error) {
	var ind Indicators
	if err := json.Unmarshal(body, &ind); err != nil {
		return nil, fmt.Errorf("error decoding indicators: %w", err)
	}
	return &ind, nil
}

func (c *Client) request(ctx context.Context, endpoint string) ([]byte, error) {
	requestID := fmt.Sprintf("req_%d", time.Now().UnixNano())
	startTime := time.Now()
	reqURL := c.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().
			Str("request_id", requestID).
			Err(err).
			Str("url", reqURL).
			Dur("total_duration", time.Since(startTime)).
			Msg("Error executing request")
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	readStart := time.Now()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, respBody)
		log.Debug().
			Str("request_id", requestID).
			Err(apiErr).
			Str("url", reqURL).
			Int("status_code", resp.StatusCode).
			Dur("total_duration", time.Since(startTime)).
			Msg("API returned error response")
		return nil, apiErr
	}

	log.Trace().
		Str("request_id", requestID).
		Str("url", reqURL).
		Int("status_code", resp.StatusCode).
		Int("response_size", len(respBody)).
		Dur("exec_duration", readStart.Sub(startTime)).
		Dur("total_duration", time.Since(startTime)).
		Msg("API request completed successfully")

	return respBody, nil
}

// parseAPIError extracts error information from the API response
func parseAPIError(statusCode int, respBody []byte) error {
	var errResp struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}

	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(respBody, &errResp); err == nil && len(errResp.Errors) > 0 {
		apiErr.Title = errResp.Errors[0].Title
		apiErr.Detail = errResp.Errors[0].Detail
	}
	return apiErr
}
