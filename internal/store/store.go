// Package store persists races, runners, and canonical entities with
// idempotent upserts, and owns the backfill checkpoint and chunk run log.
// Two backends implement the same interface: Postgres (production) and
// SQLite (local runs, tests).
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/resolve"
)

// ErrMissingReference is returned by UpsertRunner when the race or horse a
// runner belongs to does not exist in the store. The write is refused (the
// pair forms the runner's primary key), but callers treat it as a
// data-quality warning, never as fatal.
var ErrMissingReference = eris.New("store: runner references missing race or horse")

// Store is the persistence interface for the ingestion engine.
//
// All upserts are idempotent on their natural keys: repeating a write has
// identical effect. Scalar fields merge non-destructively — a stored
// non-null value is never overwritten by null — except the refreshable
// runner outcome fields, which always take the latest value.
type Store interface {
	// Entity writes. Entities must be committed before the runners that
	// reference them; UpsertRunner validates every reference it carries
	// and nulls out optional ones that do not resolve.
	UpsertRace(ctx context.Context, race *model.Race) error
	UpsertHorse(ctx context.Context, horse *model.Horse) error
	UpsertAncestor(ctx context.Context, a *model.Ancestor) error
	UpsertRole(ctx context.Context, r *model.RoleEntity) error
	UpsertRunner(ctx context.Context, r *model.Runner) error

	// HorseExists reports whether a canonical horse row exists.
	HorseExists(ctx context.Context, id string) (bool, error)

	// UnenrichedHorses filters ids down to those whose enrichment fields
	// have never been populated. This check backs the at-most-once
	// enrichment guarantee across process restarts.
	UnenrichedHorses(ctx context.Context, ids []string) ([]string, error)

	// MarkHorseEnriched records that the detail call for a horse has been
	// attempted and merged (or returned not-found).
	MarkHorseEnriched(ctx context.Context, id string) error

	// FindHorsesByName returns match candidates by normalized name.
	FindHorsesByName(ctx context.Context, nameNorm string) ([]resolve.Candidate, error)

	// Checkpoint returns the stored backfill checkpoint, or nil when no
	// backfill has committed yet. An unreadable checkpoint is an error —
	// the orchestrator aborts startup rather than guess a resume point.
	Checkpoint(ctx context.Context) (*model.Checkpoint, error)

	// SaveCheckpoint atomically replaces the checkpoint record.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error

	// Chunk run log.
	StartChunkRun(ctx context.Context, chunkStart, chunkEnd time.Time, region string, attempt int) (string, error)
	CompleteChunkRun(ctx context.Context, runID string, rowsSynced int64) error
	FailChunkRun(ctx context.Context, runID string, errMsg string) error
	ListChunkRuns(ctx context.Context, limit int) ([]model.ChunkRun, error)

	// Counts returns row counts per table, keyed by table name.
	Counts(ctx context.Context) (map[string]int64, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// dateOnly formats a time as the canonical YYYY-MM-DD both backends store.
func dateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// parseDate parses a stored YYYY-MM-DD value back into a UTC time.
func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "store: parse date %q", s)
	}
	return t, nil
}
