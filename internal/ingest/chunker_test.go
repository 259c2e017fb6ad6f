package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestSplitRange(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		chunkDays int
		want      []Chunk
	}{
		{
			name:  "exact division",
			start: "2019-01-01", end: "2019-01-28", chunkDays: 14,
			want: []Chunk{
				{day("2019-01-01"), day("2019-01-14")},
				{day("2019-01-15"), day("2019-01-28")},
			},
		},
		{
			name:  "remainder clipped",
			start: "2019-01-01", end: "2019-01-20", chunkDays: 14,
			want: []Chunk{
				{day("2019-01-01"), day("2019-01-14")},
				{day("2019-01-15"), day("2019-01-20")},
			},
		},
		{
			name:  "single day range",
			start: "2019-01-01", end: "2019-01-01", chunkDays: 14,
			want:  []Chunk{{day("2019-01-01"), day("2019-01-01")}},
		},
		{
			name:  "chunk larger than range",
			start: "2019-01-01", end: "2019-01-03", chunkDays: 30,
			want:  []Chunk{{day("2019-01-01"), day("2019-01-03")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitRange(day(tt.start), day(tt.end), tt.chunkDays)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitRange_TruncatesTimeOfDay(t *testing.T) {
	start := time.Date(2019, 1, 1, 13, 45, 0, 0, time.UTC)
	end := time.Date(2019, 1, 2, 2, 0, 0, 0, time.UTC)

	chunks, err := SplitRange(start, end, 7)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, day("2019-01-01"), chunks[0].Start)
	assert.Equal(t, day("2019-01-02"), chunks[0].End)
}

func TestSplitRange_EndBeforeStart(t *testing.T) {
	_, err := SplitRange(day("2019-02-01"), day("2019-01-01"), 14)
	require.Error(t, err)
}

func TestSplitRange_InvalidChunkSize(t *testing.T) {
	_, err := SplitRange(day("2019-01-01"), day("2019-02-01"), 0)
	require.Error(t, err)
}
