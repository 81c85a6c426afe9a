package model

import "time"

// HookLabel is the categorical momentum hook classification supplied by the data provider
type HookLabel string

const (
	HookPositive HookLabel = "positive"
	HookNegative HookLabel = "negative"
	HookNone     HookLabel = "none"
)

// StockRecord is the per-symbol output of the fetch/classify capability
type StockRecord struct {
	Symbol   string    `bson:"symbol" json:"symbol"`
	Name     string    `bson:"name,omitempty" json:"name,omitempty"`
	Price    float64   `bson:"price" json:"price"`
	DMI      float64   `bson:"dmi" json:"dmi"`
	PPO      float64   `bson:"ppo" json:"ppo"`
	PPOSlope float64   `bson:"ppo_slope" json:"ppo_slope"`
	Hook     HookLabel `bson:"hook" json:"hook"`
	AsOf     time.Time `bson:"as_of,omitempty" json:"as_of,omitempty"`
}

// PriceMode selects how the price filter is applied
type PriceMode string

const (
	PriceUnder PriceMode = "under"
	PriceRange PriceMode = "range"
)

// HookMode selects which hook labels pass the hook filter
type HookMode string

const (
	HookAll      HookMode = "all"
	HookPosOnly  HookMode = "positive"
	HookNegOnly  HookMode = "negative"
	HookPosOrNeg HookMode = "both"
)

// PriceFilter is either a ceiling ("under") or an inclusive range
type PriceFilter struct {
	Type  PriceMode `bson:"type" json:"type" validate:"required,oneof=under range"`
	Under *float64  `bson:"under,omitempty" json:"under,omitempty" validate:"omitempty,gte=0"`
	Min   *float64  `bson:"min,omitempty" json:"min,omitempty" validate:"omitempty,gte=0"`
	Max   *float64  `bson:"max,omitempty" json:"max,omitempty" validate:"omitempty,gte=0"`
}

// DMIFilter is an inclusive range on the 0-100 DMI scale. Missing bounds default to 0 and 100.
type DMIFilter struct {
	Min *float64 `bson:"min,omitempty" json:"min,omitempty" validate:"omitempty,gte=0,lte=100"`
	Max *float64 `bson:"max,omitempty" json:"max,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// Bounds returns the effective range of the filter
func (f DMIFilter) Bounds() (float64, float64) {
	lo, hi := 0.0, 100.0
	if f.Min != nil {
		lo = *f.Min
	}
	if f.Max != nil {
		hi = *f.Max
	}
	return lo, hi
}

// PPOSlopeFilter passes records whose slope is at least Threshold. Threshold may be negative.
type PPOSlopeFilter struct {
	Threshold float64 `bson:"threshold" json:"threshold"`
}

// FilterSpec holds the optional sub-filters of a scan. A nil sub-filter accepts any value.
type FilterSpec struct {
	Price    *PriceFilter    `bson:"price_filter,omitempty" json:"price_filter,omitempty"`
	DMI      *DMIFilter      `bson:"dmi_filter,omitempty" json:"dmi_filter,omitempty"`
	PPOSlope *PPOSlopeFilter `bson:"ppo_slope_filter,omitempty" json:"ppo_slope_filter,omitempty"`
	Hook     HookMode        `bson:"hook_filter,omitempty" json:"hook_filter,omitempty" validate:"omitempty,oneof=all positive negative both"`
}

// Float returns a pointer to v, for building filters
func Float(v float64) *float64 {
	return &v
}
