package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kst = time.FixedZone("KST", 9*60*60)

func TestNewTradingWindow(t *testing.T) {
	t.Run("valid window", func(t *testing.T) {
		_, err := NewTradingWindow("09:00", "15:30", kst)
		require.NoError(t, err)
	})

	t.Run("close before open", func(t *testing.T) {
		_, err := NewTradingWindow("15:30", "09:00", kst)
		require.Error(t, err)
	})

	t.Run("bad clock strings", func(t *testing.T) {
		for _, s := range []string{"9", "25:00", "09:61", "ab:cd", ""} {
			_, err := NewTradingWindow(s, "15:30", kst)
			assert.Error(t, err, "clock %q", s)
		}
	})
}

func TestTradingWindow_Contains(t *testing.T) {
	w, err := NewTradingWindow("09:00", "15:30", kst)
	require.NoError(t, err)

	// 2024-06-03 is a Monday.
	monday := func(hour, min int) time.Time {
		return time.Date(2024, 6, 3, hour, min, 0, 0, kst)
	}

	assert.False(t, w.Contains(monday(8, 59)))
	assert.True(t, w.Contains(monday(9, 0)))
	assert.True(t, w.Contains(monday(12, 0)))
	assert.True(t, w.Contains(monday(15, 30)))
	assert.False(t, w.Contains(monday(15, 31)))

	saturday := time.Date(2024, 6, 1, 10, 0, 0, 0, kst)
	assert.False(t, w.Contains(saturday))

	// Instants convert into the window's zone before checking.
	utcNoon := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC) // 10:00 KST
	assert.True(t, w.Contains(utcNoon))
}

func TestTradingWindow_NextOpen(t *testing.T) {
	w, err := NewTradingWindow("09:00", "15:30", kst)
	require.NoError(t, err)

	t.Run("before the bell opens same day", func(t *testing.T) {
		at := time.Date(2024, 6, 3, 7, 0, 0, 0, kst)
		assert.Equal(t, time.Date(2024, 6, 3, 9, 0, 0, 0, kst), w.NextOpen(at))
	})

	t.Run("after the bell rolls to the next day", func(t *testing.T) {
		at := time.Date(2024, 6, 3, 16, 0, 0, 0, kst)
		assert.Equal(t, time.Date(2024, 6, 4, 9, 0, 0, 0, kst), w.NextOpen(at))
	})

	t.Run("friday evening rolls across the weekend", func(t *testing.T) {
		at := time.Date(2024, 6, 7, 16, 0, 0, 0, kst)
		assert.Equal(t, time.Date(2024, 6, 10, 9, 0, 0, 0, kst), w.NextOpen(at))
	})
}

func TestKRXWindow(t *testing.T) {
	w := KRXWindow()
	assert.True(t, w.Contains(time.Date(2024, 6, 3, 10, 0, 0, 0, kst)))
	assert.False(t, w.Contains(time.Date(2024, 6, 3, 8, 0, 0, 0, kst)))
}
