// Package ingest drives the backfill: date-range chunking, conversion of
// provider payloads into typed records, selective enrichment, and the
// checkpointed orchestration loop that ties them together.
package ingest

import (
	"time"

	"github.com/rotisserie/eris"
)

// Chunk is one inclusive date range processed as a unit of work.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// SplitRange divides [start, end] into ordered, non-overlapping chunks of
// at most chunkDays days each. Dates are truncated to UTC midnight; the
// final chunk is clipped to end.
func SplitRange(start, end time.Time, chunkDays int) ([]Chunk, error) {
	if chunkDays < 1 {
		return nil, eris.Errorf("ingest: chunk size must be at least 1 day, got %d", chunkDays)
	}

	start = midnight(start)
	end = midnight(end)
	if end.Before(start) {
		return nil, eris.Errorf("ingest: range end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var chunks []Chunk
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, chunkDays) {
		chunkEnd := cur.AddDate(0, 0, chunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, Chunk{Start: cur, End: chunkEnd})
	}
	return chunks, nil
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
