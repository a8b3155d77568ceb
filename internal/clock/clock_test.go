package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, time.January, 8, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	require.Equal(t, start, c.Now())
	require.Equal(t, start.Add(90*time.Minute), c.Advance(90*time.Minute))
	require.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Set(start)
	require.Equal(t, start, c.Now())
}

func TestSystemIsUTC(t *testing.T) {
	require.Equal(t, time.UTC, System.Now().Location())
}

func TestFuncAdapter(t *testing.T) {
	fixed := time.Date(2030, time.May, 1, 0, 0, 0, 0, time.UTC)
	var c Clock = Func(func() time.Time { return fixed })
	require.Equal(t, fixed, c.Now())
}
