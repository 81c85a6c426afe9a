package marketdata

import (
	"context"
	"errors"
	"math"
	"net/http"
	"screener/internal/cache"
	"screener/internal/model"
	"strings"

	"github.com/rs/zerolog/log"
)

const indicatorsDataType = "indicators"

// Processor turns a symbol into a classified StockRecord, reading through the
// tiered cache so concurrent jobs share provider calls.
type Processor struct {
	client    *Client
	cache     *cache.Tiered
	timeframe string
}

// NewProcessor creates a processor. A nil cache fetches every symbol from the provider.
func NewProcessor(client *Client, tiered *cache.Tiered) *Processor {
	return &Processor{
		client:    client,
		cache:     tiered,
		timeframe: client.Timeframe(),
	}
}

// Process fetches the indicator snapshot for symbol. It returns nil, nil when
// the provider has no usable price for the symbol.
func (p *Processor) Process(ctx context.Context, symbol string, _ model.FilterSpec) (*model.StockRecord, error) {
	load := func(ctx context.Context) ([]byte, error) {
		return p.client.GetIndicatorsRaw(ctx, symbol, p.timeframe)
	}

	var (
		body []byte
		err  error
	)
	if p.cache != nil {
		var src cache.Source
		body, src, err = p.cache.Fetch(ctx, cache.Key{Symbol: symbol, DataType: indicatorsDataType, Timeframe: p.timeframe}, load)
		if err == nil {
			log.Trace().Str("symbol", symbol).Str("source", string(src)).Msg("Indicators loaded")
		}
	} else {
		body, err = load(ctx)
	}

	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	ind, err := decodeIndicators(body)
	if err != nil {
		return nil, err
	}
	return toRecord(symbol, ind), nil
}

func toRecord(symbol string, ind *Indicators) *model.StockRecord {
	if ind.Price == nil || *ind.Price <= 0 || math.IsNaN(*ind.Price) {
		return nil
	}

	return &model.StockRecord{
		Symbol:   symbol,
		Name:     ind.Name,
		Price:    *ind.Price,
		DMI:      ind.DMI,
		PPO:      ind.PPO,
		PPOSlope: ind.PPOSlope,
		Hook:     parseHook(ind.Hook),
		AsOf:     ind.AsOf,
	}
}

func parseHook(s string) model.HookLabel {
	switch model.HookLabel(strings.ToLower(strings.TrimSpace(s))) {
	case model.HookPositive:
		return model.HookPositive
	case model.HookNegative:
		return model.HookNegative
	default:
		return model.HookNone
	}
}
