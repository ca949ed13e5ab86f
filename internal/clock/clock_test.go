package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	require.Equal(t, time.Unix(0, 0), f.Now())

	got := f.Advance(5 * time.Second)
	require.Equal(t, time.Unix(5, 0), got)
	require.Equal(t, time.Unix(5, 0), f.Now())

	f.Set(time.Unix(100, 0))
	require.Equal(t, time.Unix(100, 0), f.Now())
}

func TestRealAdvancesOverTime(t *testing.T) {
	var c Clock = Real{}
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	require.True(t, b.After(a))
}
