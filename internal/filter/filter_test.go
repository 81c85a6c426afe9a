package filter

import (
	"math"
	"screener/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func underFilter(ceiling float64) model.FilterSpec {
	return model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceUnder, Under: model.Float(ceiling)}}
}

func TestPasses_PriceUnder(t *testing.T) {
	spec := underFilter(100)

	assert.False(t, Passes(model.StockRecord{Symbol: "AAPL", Price: 150}, spec))
	assert.True(t, Passes(model.StockRecord{Symbol: "F", Price: 50}, spec))
	assert.True(t, Passes(model.StockRecord{Symbol: "EDGE", Price: 100}, spec), "ceiling is inclusive")
}

func TestPasses_PriceRange(t *testing.T) {
	spec := model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceRange, Min: model.Float(10), Max: model.Float(20)}}

	tests := []struct {
		name  string
		price float64
		want  bool
	}{
		{"below", 9.99, false},
		{"lower bound", 10, true},
		{"inside", 15, true},
		{"upper bound", 20, true},
		{"above", 20.01, false},
		{"nan", math.NaN(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Passes(model.StockRecord{Price: tt.price}, spec))
		})
	}
}

func TestPasses_DMI(t *testing.T) {
	record := model.StockRecord{Symbol: "MSFT", DMI: 45}

	assert.True(t, Passes(record, model.FilterSpec{DMI: &model.DMIFilter{Min: model.Float(30), Max: model.Float(50)}}))
	assert.False(t, Passes(record, model.FilterSpec{DMI: &model.DMIFilter{Min: model.Float(0), Max: model.Float(40)}}))
	assert.True(t, Passes(record, model.FilterSpec{DMI: &model.DMIFilter{}}), "missing bounds default to 0-100")
}

func TestPasses_PPOSlopeNegativeThreshold(t *testing.T) {
	spec := model.FilterSpec{PPOSlope: &model.PPOSlopeFilter{Threshold: -0.5}}

	assert.True(t, Passes(model.StockRecord{PPOSlope: -0.5}, spec))
	assert.True(t, Passes(model.StockRecord{PPOSlope: 12}, spec), "no upper bound")
	assert.False(t, Passes(model.StockRecord{PPOSlope: -0.51}, spec))
}

func TestPasses_Hook(t *testing.T) {
	tests := []struct {
		mode  model.HookMode
		label model.HookLabel
		want  bool
	}{
		{model.HookAll, model.HookNone, true},
		{model.HookAll, model.HookPositive, true},
		{model.HookPosOnly, model.HookPositive, true},
		{model.HookPosOnly, model.HookNegative, false},
		{model.HookNegOnly, model.HookNegative, true},
		{model.HookNegOnly, model.HookNone, false},
		{model.HookPosOrNeg, model.HookPositive, true},
		{model.HookPosOrNeg, model.HookNegative, true},
		{model.HookPosOrNeg, model.HookNone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+string(tt.label), func(t *testing.T) {
			got := Passes(model.StockRecord{Hook: tt.label}, model.FilterSpec{Hook: tt.mode})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPasses_NoFiltersAcceptsEverything(t *testing.T) {
	assert.True(t, Passes(model.StockRecord{Symbol: "ANY", Price: 1e6, DMI: 99, PPOSlope: -10}, model.FilterSpec{}))
}

func TestPasses_ShortCircuitsOnFirstFailure(t *testing.T) {
	// Hook would pass, but price fails first.
	spec := underFilter(10)
	spec.Hook = model.HookPosOnly

	assert.False(t, Passes(model.StockRecord{Price: 50, Hook: model.HookPositive}, spec))
}

func TestPasses_MalformedFilterIsExcludedNotPropagated(t *testing.T) {
	// "under" without a ceiling would dereference nil; evaluation must swallow it.
	spec := model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceUnder}}

	assert.NotPanics(t, func() {
		assert.False(t, Passes(model.StockRecord{Price: 1}, spec))
	})
}

func TestEvaluate_ReportsFailedEvaluation(t *testing.T) {
	spec := model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceUnder}}

	ok, err := Evaluate(model.StockRecord{Symbol: "AAPL", Price: 1}, spec)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filter evaluation")

	ok, err = Evaluate(model.StockRecord{Symbol: "AAPL", Price: 150}, underFilter(100))
	assert.False(t, ok)
	assert.NoError(t, err, "an excluded record is not a failure")

	ok, err = Evaluate(model.StockRecord{Symbol: "F", Price: 50}, underFilter(100))
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    model.FilterSpec
		wantErr string
	}{
		{name: "empty", spec: model.FilterSpec{}},
		{name: "under", spec: underFilter(100)},
		{
			name:    "under without ceiling",
			spec:    model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceUnder}},
			wantErr: "requires 'under'",
		},
		{
			name:    "unknown price type",
			spec:    model.FilterSpec{Price: &model.PriceFilter{Type: "over", Under: model.Float(1)}},
			wantErr: "invalid filters",
		},
		{
			name:    "range inverted",
			spec:    model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceRange, Min: model.Float(20), Max: model.Float(10)}},
			wantErr: "greater than max",
		},
		{
			name:    "range missing max",
			spec:    model.FilterSpec{Price: &model.PriceFilter{Type: model.PriceRange, Min: model.Float(20)}},
			wantErr: "requires 'min' and 'max'",
		},
		{
			name:    "dmi out of scale",
			spec:    model.FilterSpec{DMI: &model.DMIFilter{Max: model.Float(120)}},
			wantErr: "invalid filters",
		},
		{
			name:    "dmi inverted",
			spec:    model.FilterSpec{DMI: &model.DMIFilter{Min: model.Float(60), Max: model.Float(40)}},
			wantErr: "dmi min",
		},
		{
			name:    "unknown hook mode",
			spec:    model.FilterSpec{Hook: "sideways"},
			wantErr: "invalid filters",
		},
		{
			name: "negative slope threshold",
			spec: model.FilterSpec{PPOSlope: &model.PPOSlopeFilter{Threshold: -3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
