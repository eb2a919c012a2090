package reldate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		now  time.Time
		want string
	}{
		{name: "zero days", text: "0d ago", now: time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC), want: "2024-03-15"},
		{name: "days", text: "8d ago", now: day(2024, 3, 5), want: "2024-02-26"},
		{name: "hours same day", text: "2h ago", now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), want: "2024-03-15"},
		{name: "hours previous day", text: "2h ago", now: time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC), want: "2024-03-14"},
		{name: "many hours", text: "49h ago", now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), want: "2024-03-13"},
		{name: "one year", text: "1y ago", now: day(2024, 3, 15), want: "2023-03-15"},
		{name: "leap day year", text: "1y ago", now: day(2024, 2, 29), want: "2023-03-01"},
		{name: "month clamps to leap february", text: "1m ago", now: day(2024, 3, 31), want: "2024-02-29"},
		{name: "month clamps to february", text: "1m ago", now: day(2023, 3, 31), want: "2023-02-28"},
		{name: "multi year borrow", text: "13m ago", now: day(2024, 1, 15), want: "2022-12-15"},
		{name: "exact year of months", text: "12m ago", now: day(2024, 1, 15), want: "2023-01-15"},
		{name: "upper case", text: "3D AGO", now: day(2024, 3, 15), want: "2024-03-12"},
		{name: "inner whitespace", text: "3 d  ago", now: day(2024, 3, 15), want: "2024-03-12"},
		{name: "outer whitespace", text: "  5d ago\n", now: day(2024, 3, 15), want: "2024-03-10"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Resolve(tt.text, tt.now)
			require.True(t, ok)
			require.Equal(t, tt.want, Format(got))
			require.Equal(t, got, Normalize(tt.text, tt.now))
		})
	}
}

func TestNormalizeFallsBackToNow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 15, 18, 30, 0, 0, time.UTC)
	for _, text := range []string{
		"",
		"yesterday",
		"ago",
		"5w ago",
		"d ago",
		"-3d ago",
		"99999999999999999999d ago",
		"Posted 3d ago",
	} {
		got, ok := Resolve(text, now)
		require.False(t, ok, "text %q", text)
		require.Equal(t, "2024-03-15", Format(got), "text %q", text)
		require.Equal(t, got, Normalize(text, now))
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	now := day(2024, 5, 31)
	first := Normalize("3m ago", now)
	second := Normalize("3m ago", now)
	require.Equal(t, first, second)
	require.Equal(t, "2024-02-29", Format(first))
	require.True(t, first.Hour() == 0 && first.Minute() == 0)
	require.Equal(t, time.UTC, first.Location())
}
