// Package universe answers which symbols belong to a named stock index.
package universe

import (
	"context"
	"sort"
	"strings"
)

// Universe looks up index membership. Only symbol ordering depends on it.
type Universe interface {
	MembersOf(ctx context.Context, index string) (map[string]struct{}, error)
}

// Static serves index membership from configuration
type Static struct {
	indices map[string]map[string]struct{}
}

// NewStatic builds a universe from index name to symbols. Names and symbols are
// matched case-insensitively.
func NewStatic(indices map[string][]string) *Static {
	s := &Static{indices: make(map[string]map[string]struct{}, len(indices))}
	for name, symbols := range indices {
		members := make(map[string]struct{}, len(symbols))
		for _, sym := range symbols {
			if sym = NormalizeSymbol(sym); sym != "" {
				members[sym] = struct{}{}
			}
		}
		s.indices[strings.ToLower(name)] = members
	}
	return s
}

// MembersOf returns the members of index. An unknown index is an empty set.
func (s *Static) MembersOf(_ context.Context, index string) (map[string]struct{}, error) {
	members, ok := s.indices[strings.ToLower(index)]
	if !ok {
		return map[string]struct{}{}, nil
	}
	return members, nil
}

// Symbols returns the sorted members of index
func (s *Static) Symbols(index string) []string {
	members := s.indices[strings.ToLower(index)]
	out := make([]string, 0, len(members))
	for sym := range members {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Indices lists the configured index names
func (s *Static) Indices() []string {
	out := make([]string, 0, len(s.indices))
	for name := range s.indices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func NormalizeSymbol(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}
