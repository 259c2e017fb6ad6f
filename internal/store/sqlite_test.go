package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turfline/racesync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func seedRaceAndHorse(t *testing.T, st *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertRace(ctx, &model.Race{
		ID:     "rac_1",
		Date:   time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
		Course: "Ascot",
		Region: model.RegionGB,
	}))
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "Enable (GB)"}))
}

// --- Races ---

func TestSQLite_UpsertRace_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	race := &model.Race{
		ID:     "rac_1",
		Date:   time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
		Course: "Ascot",
		Going:  strPtr("Good"),
		Region: model.RegionGB,
	}
	require.NoError(t, st.UpsertRace(ctx, race))
	require.NoError(t, st.UpsertRace(ctx, race))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["races"])
}

func TestSQLite_UpsertRace_NonDestructiveMerge(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRace(ctx, &model.Race{
		ID:     "rac_1",
		Date:   time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
		Course: "Ascot",
		Going:  strPtr("Good"),
		Region: model.RegionGB,
	}))

	// A later sighting with going absent must not erase the stored value.
	require.NoError(t, st.UpsertRace(ctx, &model.Race{
		ID:     "rac_1",
		Date:   time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
		Course: "Ascot",
		Region: model.RegionGB,
	}))

	var going *string
	err := st.db.QueryRowContext(ctx, `SELECT going FROM races WHERE id = 'rac_1'`).Scan(&going)
	require.NoError(t, err)
	require.NotNil(t, going)
	assert.Equal(t, "Good", *going)
}

// --- Horses ---

func TestSQLite_UpsertHorse_MergeFillsNulls(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "Enable (GB)"}))

	foaled := time.Date(2014, 2, 12, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{
		ID:     "hrs_1",
		Name:   "Enable (GB)",
		Sex:    strPtr("F"),
		Foaled: &foaled,
		SireID: strPtr("anc_nathaniel"),
	}))

	var sex, sireID *string
	var foaledStr *string
	err := st.db.QueryRowContext(ctx,
		`SELECT sex, foaled, sire_id FROM horses WHERE id = 'hrs_1'`).Scan(&sex, &foaledStr, &sireID)
	require.NoError(t, err)
	require.NotNil(t, sex)
	assert.Equal(t, "F", *sex)
	require.NotNil(t, foaledStr)
	assert.Equal(t, "2014-02-12", *foaledStr)
	require.NotNil(t, sireID)
	assert.Equal(t, "anc_nathaniel", *sireID)
}

func TestSQLite_UpsertHorse_StoredValueWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "Enable (GB)", Sex: strPtr("F")}))
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "Enable (GB)", Sex: strPtr("M")}))

	var sex *string
	err := st.db.QueryRowContext(ctx, `SELECT sex FROM horses WHERE id = 'hrs_1'`).Scan(&sex)
	require.NoError(t, err)
	require.NotNil(t, sex)
	assert.Equal(t, "F", *sex)
}

func TestSQLite_FindHorsesByName(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	region := "gb"
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_gb", Name: "Example (GB)", Region: &region}))
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_other", Name: "Different"}))

	cands, err := st.FindHorsesByName(ctx, "EXAMPLE")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "hrs_gb", cands[0].ID)
	assert.Equal(t, "gb", cands[0].Region)
}

// --- Enrichment tracking ---

func TestSQLite_UnenrichedHorses(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "One"}))
	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_2", Name: "Two"}))

	require.NoError(t, st.MarkHorseEnriched(ctx, "hrs_1"))

	out, err := st.UnenrichedHorses(ctx, []string{"hrs_1", "hrs_2", "hrs_unknown"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hrs_2"}, out)
}

func TestSQLite_UnenrichedHorses_EmptyInput(t *testing.T) {
	st := newTestSQLiteStore(t)
	out, err := st.UnenrichedHorses(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Runners and the FK guard ---

func TestSQLite_UpsertRunner_MissingRaceRefused(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertHorse(ctx, &model.Horse{ID: "hrs_1", Name: "Enable (GB)"}))

	err := st.UpsertRunner(ctx, &model.Runner{RaceID: "rac_missing", HorseID: "hrs_1"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingReference))
}

func TestSQLite_UpsertRunner_MissingHorseRefused(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRace(ctx, &model.Race{
		ID: "rac_1", Date: time.Now().UTC(), Course: "Ascot", Region: model.RegionGB,
	}))

	err := st.UpsertRunner(ctx, &model.Runner{RaceID: "rac_1", HorseID: "hrs_missing"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMissingReference))
}

func TestSQLite_UpsertRunner_DanglingOptionalRefsNulled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRaceAndHorse(t, st)

	require.NoError(t, st.UpsertRole(ctx, &model.RoleEntity{
		ID: "trn_1", Kind: model.RoleTrainer, Name: "J Gosden",
	}))

	r := &model.Runner{
		RaceID:    "rac_1",
		HorseID:   "hrs_1",
		TrainerID: strPtr("trn_1"),
		JockeyID:  strPtr("jky_missing"),
		SireID:    strPtr("anc_missing"),
	}
	require.NoError(t, st.UpsertRunner(ctx, r))

	// Valid reference kept, dangling ones nulled in place and in the row.
	require.NotNil(t, r.TrainerID)
	assert.Nil(t, r.JockeyID)
	assert.Nil(t, r.SireID)

	var trainerID, jockeyID, sireID *string
	err := st.db.QueryRowContext(ctx,
		`SELECT trainer_id, jockey_id, sire_id FROM runners WHERE race_id = 'rac_1' AND horse_id = 'hrs_1'`,
	).Scan(&trainerID, &jockeyID, &sireID)
	require.NoError(t, err)
	require.NotNil(t, trainerID)
	assert.Equal(t, "trn_1", *trainerID)
	assert.Nil(t, jockeyID)
	assert.Nil(t, sireID)
}

func TestSQLite_UpsertRunner_RoleKindIsChecked(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRaceAndHorse(t, st)

	// A trainer id offered as a jockey reference must not resolve.
	require.NoError(t, st.UpsertRole(ctx, &model.RoleEntity{
		ID: "per_1", Kind: model.RoleTrainer, Name: "A Person",
	}))

	r := &model.Runner{RaceID: "rac_1", HorseID: "hrs_1", JockeyID: strPtr("per_1")}
	require.NoError(t, st.UpsertRunner(ctx, r))
	assert.Nil(t, r.JockeyID)
}

func TestSQLite_UpsertRunner_RefreshableFieldsAlwaysUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRaceAndHorse(t, st)

	require.NoError(t, st.UpsertRunner(ctx, &model.Runner{
		RaceID:   "rac_1",
		HorseID:  "hrs_1",
		Number:   intPtr(4),
		Position: strPtr("1"),
		Comment:  strPtr("led final furlong"),
	}))

	// Corrected result: position amended, pre-race number absent.
	require.NoError(t, st.UpsertRunner(ctx, &model.Runner{
		RaceID:   "rac_1",
		HorseID:  "hrs_1",
		Position: strPtr("2"),
	}))

	var number *int
	var position, comment *string
	err := st.db.QueryRowContext(ctx,
		`SELECT number, position, comment FROM runners WHERE race_id = 'rac_1' AND horse_id = 'hrs_1'`,
	).Scan(&number, &position, &comment)
	require.NoError(t, err)
	require.NotNil(t, number)
	assert.Equal(t, 4, *number) // pre-race field merged, not erased
	require.NotNil(t, position)
	assert.Equal(t, "2", *position) // outcome field refreshed
	assert.Nil(t, comment)          // outcome field takes latest, even when absent
}

func TestSQLite_UpsertRunner_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRaceAndHorse(t, st)

	r := &model.Runner{RaceID: "rac_1", HorseID: "hrs_1", Number: intPtr(4)}
	require.NoError(t, st.UpsertRunner(ctx, r))
	require.NoError(t, st.UpsertRunner(ctx, r))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["runners"])
}

// --- Ancestors ---

func TestSQLite_UpsertAncestor_BackLinkFilledOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertAncestor(ctx, &model.Ancestor{
		ID: "anc_1", Kind: model.KindSire, Name: "Galileo (IRE)",
	}))
	require.NoError(t, st.UpsertAncestor(ctx, &model.Ancestor{
		ID: "anc_1", Kind: model.KindSire, Name: "Galileo (IRE)", HorseID: strPtr("hrs_galileo"),
	}))
	// A later sighting without the link must not clear it.
	require.NoError(t, st.UpsertAncestor(ctx, &model.Ancestor{
		ID: "anc_1", Kind: model.KindSire, Name: "Galileo (IRE)",
	}))

	var horseID *string
	err := st.db.QueryRowContext(ctx,
		`SELECT horse_id FROM ancestors WHERE id = 'anc_1' AND kind = 'sire'`).Scan(&horseID)
	require.NoError(t, err)
	require.NotNil(t, horseID)
	assert.Equal(t, "hrs_galileo", *horseID)
}

func TestSQLite_UpsertAncestor_SameIDDifferentKinds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// The same individual can appear as sire of one horse and damsire of
	// another; the rows are distinct.
	require.NoError(t, st.UpsertAncestor(ctx, &model.Ancestor{
		ID: "anc_1", Kind: model.KindSire, Name: "Galileo (IRE)",
	}))
	require.NoError(t, st.UpsertAncestor(ctx, &model.Ancestor{
		ID: "anc_1", Kind: model.KindDamsire, Name: "Galileo (IRE)",
	}))

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["ancestors"])
}

// --- Checkpoint ---

func TestSQLite_Checkpoint_AbsentIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)
	cp, err := st.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSQLite_Checkpoint_SaveAndAdvance(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{ResumeDate: first, AttemptCount: 0}))

	cp, err := st.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, first, cp.ResumeDate)

	second := time.Date(2019, 1, 29, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveCheckpoint(ctx, &model.Checkpoint{ResumeDate: second, AttemptCount: 2}))

	cp, err = st.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, second, cp.ResumeDate)
	assert.Equal(t, 2, cp.AttemptCount)
}

func TestSQLite_Checkpoint_CorruptDateIsError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx,
		`INSERT INTO checkpoint (id, resume_date, attempt_count, updated_at) VALUES (1, 'garbage', 0, datetime('now'))`)
	require.NoError(t, err)

	_, err = st.Checkpoint(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

// --- Chunk run log ---

func TestSQLite_ChunkRunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2019, 1, 14, 0, 0, 0, 0, time.UTC)

	id1, err := st.StartChunkRun(ctx, start, end, "gb", 1)
	require.NoError(t, err)
	require.NoError(t, st.CompleteChunkRun(ctx, id1, 420))

	id2, err := st.StartChunkRun(ctx, end, end.AddDate(0, 0, 14), "gb", 1)
	require.NoError(t, err)
	require.NoError(t, st.FailChunkRun(ctx, id2, "results page 3: status 503"))

	runs, err := st.ListChunkRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]model.ChunkRun{runs[0].ID: runs[0], runs[1].ID: runs[1]}

	done := byID[id1]
	assert.Equal(t, model.RunStatusComplete, done.Status)
	assert.Equal(t, int64(420), done.RowsSynced)
	assert.Equal(t, start, done.ChunkStart)
	require.NotNil(t, done.CompletedAt)

	failed := byID[id2]
	assert.Equal(t, model.RunStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "status 503")
}
