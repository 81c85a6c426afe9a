package scanner

import (
	"context"

	"github.com/rs/zerolog/log"
)

// interleaveByIndex looks up each index's members and reorders symbols round
// robin across them. A failed lookup counts as an empty index.
func (e *Engine) interleaveByIndex(ctx context.Context, symbols, indices []string) []string {
	members := make([]map[string]struct{}, 0, len(indices))
	for _, index := range indices {
		set, err := e.universe.MembersOf(ctx, index)
		if err != nil {
			log.Warn().Err(err).Str("index", index).Msg("Index lookup failed, not interleaving it")
			set = nil
		}
		members = append(members, set)
	}
	return interleave(symbols, members)
}

// interleave groups symbols by the first index containing them, then takes one
// from each group in turn: a1, b1, a2, b2, ... Symbols in no index go last, in
// their original order.
func interleave(symbols []string, members []map[string]struct{}) []string {
	groups := make([][]string, len(members))
	var rest []string

	for _, sym := range symbols {
		placed := false
		for gi, set := range members {
			if _, ok := set[sym]; ok {
				groups[gi] = append(groups[gi], sym)
				placed = true
				break
			}
		}
		if !placed {
			rest = append(rest, sym)
		}
	}

	out := make([]string, 0, len(symbols))
	for round := 0; len(out) < len(symbols)-len(rest); round++ {
		for _, group := range groups {
			if round < len(group) {
				out = append(out, group[round])
			}
		}
	}
	return append(out, rest...)
}
