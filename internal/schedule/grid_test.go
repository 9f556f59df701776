package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-03-03 is a Monday, 2025-03-01 a Saturday.
var (
	monday   = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"16:30", 16*60 + 30, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"garbage", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestTimeOfDayRoundTrip(t *testing.T) {
	for _, label := range []string{"00:05", "09:00", "16:30", "20:30"} {
		parsed, err := ParseTimeOfDay(label)
		require.NoError(t, err)
		assert.Equal(t, label, parsed.String())
	}
}

func TestTimeOfDayAt(t *testing.T) {
	tod, err := ParseTimeOfDay("18:30")
	require.NoError(t, err)

	at := tod.At(monday)
	assert.Equal(t, time.Date(2025, time.March, 3, 18, 30, 0, 0, time.UTC), at)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("16:30-21:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(16*60+30), w.Open)
	assert.Equal(t, TimeOfDay(21*60), w.Close)

	_, err = ParseWindow("21:00-16:30")
	assert.Error(t, err, "window closing before opening must be rejected")

	_, err = ParseWindow("16:30")
	assert.Error(t, err)
}

func TestGridWeekday(t *testing.T) {
	g := GridConfig{Hours: DefaultHours(), SlotMinutes: 30}

	slots := g.Grid(monday)
	require.Len(t, slots, 9)
	assert.Equal(t, "16:30", slots[0].String())
	assert.Equal(t, "20:30", slots[len(slots)-1].String())

	// Close bound is exclusive.
	for _, s := range slots {
		assert.Less(t, int(s), 21*60)
	}
}

func TestGridWeekend(t *testing.T) {
	g := GridConfig{Hours: DefaultHours(), SlotMinutes: 30}

	slots := g.Grid(saturday)
	require.Len(t, slots, 24)
	assert.Equal(t, "09:00", slots[0].String())
	assert.Equal(t, "20:30", slots[len(slots)-1].String())
}

func TestGridDeterministic(t *testing.T) {
	g := GridConfig{Hours: DefaultHours(), SlotMinutes: 30}

	first := g.Grid(monday)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, g.Grid(monday))
	}
}

func TestGridClosedOverride(t *testing.T) {
	hours := DefaultHours()
	hours.Close(monday)
	g := GridConfig{Hours: hours, SlotMinutes: 30}

	assert.Empty(t, g.Grid(monday))

	// Other dates keep the weekly pattern.
	tuesday := monday.AddDate(0, 0, 1)
	assert.NotEmpty(t, g.Grid(tuesday))
}

func TestGridDateOverride(t *testing.T) {
	hours := DefaultHours()
	w, err := ParseWindow("10:00-12:00")
	require.NoError(t, err)
	hours.Override(monday, w)

	g := GridConfig{Hours: hours, SlotMinutes: 30}
	slots := g.Grid(monday)
	require.Len(t, slots, 4)
	assert.Equal(t, "10:00", slots[0].String())
	assert.Equal(t, "11:30", slots[3].String())
}

func TestGridContains(t *testing.T) {
	g := GridConfig{Hours: DefaultHours(), SlotMinutes: 30}

	inGrid, _ := ParseTimeOfDay("18:30")
	offGrid, _ := ParseTimeOfDay("18:45")
	beforeOpen, _ := ParseTimeOfDay("09:00")

	assert.True(t, g.Contains(monday, inGrid))
	assert.False(t, g.Contains(monday, offGrid))
	assert.False(t, g.Contains(monday, beforeOpen), "weekend-only slot must not appear on a weekday")
}

func TestDateKeyRoundTrip(t *testing.T) {
	key := DateKey(monday)
	assert.Equal(t, "2025-03-03", key)

	parsed, err := ParseDate(key)
	require.NoError(t, err)
	assert.Equal(t, monday.Year(), parsed.Year())
	assert.Equal(t, monday.Month(), parsed.Month())
	assert.Equal(t, monday.Day(), parsed.Day())

	_, err = ParseDate("03/03/2025")
	assert.Error(t, err)
}

func TestMidnight(t *testing.T) {
	noon := time.Date(2025, time.March, 3, 12, 34, 56, 789, time.UTC)
	assert.Equal(t, monday, Midnight(noon))
}
