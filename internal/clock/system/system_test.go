package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before) && got.Before(after))
}

func TestClockSinceNonNegative(t *testing.T) {
	t.Parallel()

	clk := New()
	start := clk.Now()
	require.GreaterOrEqual(t, clk.Since(start), time.Duration(0))
}
