package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"23:59": 1439,
	}
	for in, want := range cases {
		got, err := parseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"24:00", "9:30", "09:60", "0930", "", "aa:bb"} {
		_, err := parseClock(in)
		assert.Error(t, err, in)
	}
}

func TestSplitTimeSlot(t *testing.T) {
	start, end, err := splitTimeSlot("10:00-11:30")
	require.NoError(t, err)
	assert.Equal(t, "10:00", start)
	assert.Equal(t, "11:30", end)

	for _, in := range []string{"11:00-10:00", "10:00-10:00", "10:00", "10:00_11:00", "10:00-11:0"} {
		_, _, err := splitTimeSlot(in)
		assert.Error(t, err, in)
	}
}
