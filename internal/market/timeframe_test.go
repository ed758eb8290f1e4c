package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1D ")
	require.NoError(t, err)
	assert.Equal(t, "1d", tf.Key)
	assert.Equal(t, 24*time.Hour, tf.Duration)
	assert.Equal(t, "1wk", supportedTimeframes["1w"].YahooInterval)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestAlignRangeSwapsAndTruncates(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 10, 42, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)

	s, e := tf.AlignRange(start, end)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), e)
	assert.EqualValues(t, 3, tf.ExpectedBars(s, e))
}

func TestSnapshotClose(t *testing.T) {
	snap := Snapshot{Bars: map[string]Bar{"AAA": {Symbol: "AAA", Close: 12.5}}}
	px, ok := snap.Close("AAA")
	assert.True(t, ok)
	assert.Equal(t, 12.5, px)
	_, ok = snap.Close("BBB")
	assert.False(t, ok)
	assert.Equal(t, []string{"AAA"}, snap.Symbols())
}
