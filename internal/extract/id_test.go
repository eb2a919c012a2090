package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{url: "https://x/actuarial-jobs/33794-metlife", want: "33794", wantOK: true},
		{url: "https://www.actuarylist.com/actuarial-jobs/1-a-b-c?ref=list", want: "1", wantOK: true},
		{url: "/actuarial-jobs/42-relative", want: "42", wantOK: true},
		{url: "https://x/about"},
		{url: "https://x/actuarial-jobs/metlife-33794"},
		{url: "https://x/actuarial-jobs/33794"},
		{url: ""},
	}

	for _, tt := range tests {
		got, ok := ExtractID(tt.url)
		require.Equal(t, tt.wantOK, ok, tt.url)
		require.Equal(t, tt.want, got, tt.url)
	}
}

func TestIDExtractorCustomMarker(t *testing.T) {
	t.Parallel()

	ids := NewIDExtractor("jobs/")
	got, ok := ids.Extract("https://example.com/jobs/77-analyst")
	require.True(t, ok)
	require.Equal(t, "77", got)

	_, ok = ids.Extract("https://example.com/actuarial-jobs/77-analyst")
	require.False(t, ok)

	var zero IDExtractor
	got, ok = zero.Extract("https://x/actuarial-jobs/5-a")
	require.True(t, ok)
	require.Equal(t, "5", got)
}
