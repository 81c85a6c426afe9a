// Package filter evaluates stock records against a scan's filter specification.
package filter

import (
	"fmt"
	"math"
	"screener/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// Validate checks a filter specification once, at the boundary where it enters the system
func Validate(spec model.FilterSpec) error {
	if err := validate.Struct(spec); err != nil {
		return fmt.Errorf("invalid filters: %w", err)
	}

	if p := spec.Price; p != nil {
		switch p.Type {
		case model.PriceUnder:
			if p.Under == nil {
				return fmt.Errorf("invalid filters: price filter of type under requires 'under'")
			}
		case model.PriceRange:
			if p.Min == nil || p.Max == nil {
				return fmt.Errorf("invalid filters: price filter of type range requires 'min' and 'max'")
			}
			if *p.Min > *p.Max {
				return fmt.Errorf("invalid filters: price min %.2f is greater than max %.2f", *p.Min, *p.Max)
			}
		}
	}

	if d := spec.DMI; d != nil {
		lo, hi := d.Bounds()
		if lo > hi {
			return fmt.Errorf("invalid filters: dmi min %.2f is greater than max %.2f", lo, hi)
		}
	}

	if s := spec.PPOSlope; s != nil && (math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0)) {
		return fmt.Errorf("invalid filters: ppo slope threshold must be a finite number")
	}

	return nil
}

// Passes reports whether the record satisfies every configured sub-filter.
// Evaluation never panics: any failure excludes the record.
func Passes(record model.StockRecord, spec model.FilterSpec) bool {
	ok, _ := Evaluate(record, spec)
	return ok
}

// Evaluate is Passes that also reports a failed evaluation. Sub-filters are
// checked in the order price, DMI, PPO slope, hook and the first failure
// short-circuits. A panic while evaluating excludes the record and comes back
// as the error.
func Evaluate(record model.StockRecord, spec model.FilterSpec) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("symbol", record.Symbol).
				Interface("panic", r).
				Msg("Filter evaluation failed, excluding record")
			ok = false
			err = fmt.Errorf("filter evaluation: %v", r)
		}
	}()

	if spec.Price != nil && !passesPrice(record.Price, *spec.Price) {
		return false, nil
	}

	if spec.DMI != nil && !passesDMI(record.DMI, *spec.DMI) {
		return false, nil
	}

	if spec.PPOSlope != nil && !passesPPOSlope(record.PPOSlope, *spec.PPOSlope) {
		return false, nil
	}

	if spec.Hook != "" && !passesHook(record.Hook, spec.Hook) {
		return false, nil
	}

	return true, nil
}

func passesPrice(price float64, f model.PriceFilter) bool {
	if math.IsNaN(price) {
		return false
	}

	switch f.Type {
	case model.PriceUnder:
		return price <= *f.Under
	case model.PriceRange:
		return *f.Min <= price && price <= *f.Max
	default:
		return false
	}
}

func passesDMI(dmi float64, f model.DMIFilter) bool {
	lo, hi := f.Bounds()
	return lo <= dmi && dmi <= hi
}

func passesPPOSlope(slope float64, f model.PPOSlopeFilter) bool {
	return slope >= f.Threshold
}

func passesHook(label model.HookLabel, mode model.HookMode) bool {
	switch mode {
	case model.HookAll:
		return true
	case model.HookPosOnly:
		return label == model.HookPositive
	case model.HookNegOnly:
		return label == model.HookNegative
	case model.HookPosOrNeg:
		return label == model.HookPositive || label == model.HookNegative
	default:
		return false
	}
}
