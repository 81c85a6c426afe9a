package universe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	u := NewStatic(map[string][]string{
		"SP500":     {"aapl", " MSFT ", ""},
		"nasdaq100": {"NVDA"},
	})

	members, err := u.MembersOf(context.Background(), "sp500")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Contains(t, members, "AAPL")
	assert.Contains(t, members, "MSFT")

	unknown, err := u.MembersOf(context.Background(), "dow")
	require.NoError(t, err)
	assert.Empty(t, unknown)

	assert.Equal(t, []string{"nasdaq100", "sp500"}, u.Indices())
	assert.Equal(t, []string{"AAPL", "MSFT"}, u.Symbols("SP500"))
}
