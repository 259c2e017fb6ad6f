package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/resolve"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS races (
	id         TEXT PRIMARY KEY,
	date       TEXT NOT NULL,
	course     TEXT NOT NULL,
	course_id  TEXT,
	off_time   TEXT,
	class      TEXT,
	race_type  TEXT,
	distance   TEXT,
	going      TEXT,
	region     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS horses (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	name_norm   TEXT NOT NULL,
	region      TEXT,
	foaled      TEXT,
	sex         TEXT,
	colour      TEXT,
	breeder     TEXT,
	sire_id     TEXT,
	dam_id      TEXT,
	damsire_id  TEXT,
	enriched_at DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ancestors (
	id         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	name_norm  TEXT NOT NULL,
	region     TEXT,
	horse_id   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (id, kind)
);

CREATE TABLE IF NOT EXISTS role_entities (
	id         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (id, kind)
);

CREATE TABLE IF NOT EXISTS runners (
	race_id         TEXT NOT NULL,
	horse_id        TEXT NOT NULL,
	number          INTEGER,
	draw            INTEGER,
	age             INTEGER,
	weight          TEXT,
	headgear        TEXT,
	position        TEXT,
	beaten_distance TEXT,
	starting_price  TEXT,
	comment         TEXT,
	trainer_id      TEXT,
	jockey_id       TEXT,
	owner_id        TEXT,
	sire_id         TEXT,
	dam_id          TEXT,
	damsire_id      TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (race_id, horse_id)
);

CREATE TABLE IF NOT EXISTS checkpoint (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	resume_date   TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	chunk_start  TEXT NOT NULL,
	chunk_end    TEXT NOT NULL,
	region       TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	rows_synced  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_horses_name_norm ON horses(name_norm);
CREATE INDEX IF NOT EXISTS idx_ancestors_name_norm ON ancestors(name_norm);
CREATE INDEX IF NOT EXISTS idx_races_date ON races(date);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRace(ctx context.Context, race *model.Race) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO races (id, date, course, course_id, off_time, class, race_type, distance, going, region, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (id) DO UPDATE SET
			course_id  = COALESCE(course_id, excluded.course_id),
			off_time   = COALESCE(off_time, excluded.off_time),
			class      = COALESCE(class, excluded.class),
			race_type  = COALESCE(race_type, excluded.race_type),
			distance   = COALESCE(distance, excluded.distance),
			going      = COALESCE(going, excluded.going),
			updated_at = excluded.updated_at`,
		race.ID, dateOnly(race.Date), race.Course, race.CourseID, race.OffTime,
		race.Class, race.RaceType, race.Distance, race.Going, string(race.Region),
	)
	return eris.Wrapf(err, "sqlite: upsert race %s", race.ID)
}

func (s *SQLiteStore) UpsertHorse(ctx context.Context, h *model.Horse) error {
	var foaled *string
	if h.Foaled != nil {
		v := dateOnly(*h.Foaled)
		foaled = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO horses (id, name, name_norm, region, foaled, sex, colour, breeder, sire_id, dam_id, damsire_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (id) DO UPDATE SET
			region     = COALESCE(region, excluded.region),
			foaled     = COALESCE(foaled, excluded.foaled),
			sex        = COALESCE(sex, excluded.sex),
			colour     = COALESCE(colour, excluded.colour),
			breeder    = COALESCE(breeder, excluded.breeder),
			sire_id    = COALESCE(sire_id, excluded.sire_id),
			dam_id     = COALESCE(dam_id, excluded.dam_id),
			damsire_id = COALESCE(damsire_id, excluded.damsire_id),
			updated_at = excluded.updated_at`,
		h.ID, h.Name, resolve.NormalizeName(h.Name), h.Region, foaled,
		h.Sex, h.Colour, h.Breeder, h.SireID, h.DamID, h.DamsireID,
	)
	return eris.Wrapf(err, "sqlite: upsert horse %s", h.ID)
}

func (s *SQLiteStore) UpsertAncestor(ctx context.Context, a *model.Ancestor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ancestors (id, kind, name, name_norm, region, horse_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (id, kind) DO UPDATE SET
			region     = COALESCE(region, excluded.region),
			horse_id   = COALESCE(horse_id, excluded.horse_id),
			updated_at = excluded.updated_at`,
		a.ID, string(a.Kind), a.Name, resolve.NormalizeName(a.Name), a.Region, a.HorseID,
	)
	return eris.Wrapf(err, "sqlite: upsert ancestor %s/%s", a.Kind, a.ID)
}

func (s *SQLiteStore) UpsertRole(ctx context.Context, r *model.RoleEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_entities (id, kind, name, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT (id, kind) DO UPDATE SET
			name       = CASE WHEN name = '' THEN excluded.name ELSE role_entities.name END,
			updated_at = excluded.updated_at`,
		r.ID, string(r.Kind), r.Name,
	)
	return eris.Wrapf(err, "sqlite: upsert role %s/%s", r.Kind, r.ID)
}

func (s *SQLiteStore) UpsertRunner(ctx context.Context, r *model.Runner) error {
	if err := guardRunner(ctx, s, r); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runners (race_id, horse_id, number, draw, age, weight, headgear,
			position, beaten_distance, starting_price, comment,
			trainer_id, jockey_id, owner_id, sire_id, dam_id, damsire_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (race_id, horse_id) DO UPDATE SET
			number          = COALESCE(number, excluded.number),
			draw            = COALESCE(draw, excluded.draw),
			age             = COALESCE(age, excluded.age),
			weight          = COALESCE(weight, excluded.weight),
			headgear        = COALESCE(headgear, excluded.headgear),
			position        = excluded.position,
			beaten_distance = excluded.beaten_distance,
			starting_price  = excluded.starting_price,
			comment         = excluded.comment,
			trainer_id      = COALESCE(trainer_id, excluded.trainer_id),
			jockey_id       = COALESCE(jockey_id, excluded.jockey_id),
			owner_id        = COALESCE(owner_id, excluded.owner_id),
			sire_id         = COALESCE(sire_id, excluded.sire_id),
			dam_id          = COALESCE(dam_id, excluded.dam_id),
			damsire_id      = COALESCE(damsire_id, excluded.damsire_id),
			updated_at      = excluded.updated_at`,
		r.RaceID, r.HorseID, r.Number, r.Draw, r.Age, r.Weight, r.Headgear,
		r.Position, r.BeatenDistance, r.StartingPrice, r.Comment,
		r.TrainerID, r.JockeyID, r.OwnerID, r.SireID, r.DamID, r.DamsireID,
	)
	return eris.Wrapf(err, "sqlite: upsert runner %s/%s", r.RaceID, r.HorseID)
}

func (s *SQLiteStore) HorseExists(ctx context.Context, id string) (bool, error) {
	return s.horseRowExists(ctx, id)
}

func (s *SQLiteStore) UnenrichedHorses(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM horses WHERE enriched_at IS NULL AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: unenriched horses")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unenriched horse")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkHorseEnriched(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE horses SET enriched_at = datetime('now') WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: mark horse enriched %s", id)
}

func (s *SQLiteStore) FindHorsesByName(ctx context.Context, nameNorm string) ([]resolve.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(region, '') FROM horses WHERE name_norm = ?`, nameNorm)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find horses by name %q", nameNorm)
	}
	defer rows.Close()

	var out []resolve.Candidate
	for rows.Next() {
		var c resolve.Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Region); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) (*model.Checkpoint, error) {
	var resumeDate string
	var cp model.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT resume_date, attempt_count, updated_at FROM checkpoint WHERE id = 1`,
	).Scan(&resumeDate, &cp.AttemptCount, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read checkpoint")
	}

	cp.ResumeDate, err = parseDate(resumeDate)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: checkpoint corrupt")
	}
	return &cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, resume_date, attempt_count, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			resume_date   = excluded.resume_date,
			attempt_count = excluded.attempt_count,
			updated_at    = excluded.updated_at`,
		dateOnly(cp.ResumeDate), cp.AttemptCount, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) StartChunkRun(ctx context.Context, chunkStart, chunkEnd time.Time, region string, attempt int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, chunk_start, chunk_end, region, status, attempt, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, dateOnly(chunkStart), dateOnly(chunkEnd), region,
		string(model.RunStatusRunning), attempt, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start chunk run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteChunkRun(ctx context.Context, runID string, rowsSynced int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, rows_synced = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), rowsSynced, time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "sqlite: complete chunk run %s", runID)
}

func (s *SQLiteStore) FailChunkRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "sqlite: fail chunk run %s", runID)
}

func (s *SQLiteStore) ListChunkRuns(ctx context.Context, limit int) ([]model.ChunkRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_start, chunk_end, region, status, attempt, rows_synced, error, started_at, completed_at
		FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunk runs")
	}
	defer rows.Close()

	var runs []model.ChunkRun
	for rows.Next() {
		var r model.ChunkRun
		var start, end string
		var errStr *string
		if err := rows.Scan(&r.ID, &start, &end, &r.Region, &r.Status, &r.Attempt,
			&r.RowsSynced, &errStr, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk run")
		}
		if r.ChunkStart, err = parseDate(start); err != nil {
			return nil, err
		}
		if r.ChunkEnd, err = parseDate(end); err != nil {
			return nil, err
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"races", "runners", "horses", "ancestors", "role_entities"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

// refChecker implementation.

func (s *SQLiteStore) raceExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM races WHERE id = ?`, id)
}

func (s *SQLiteStore) horseRowExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM horses WHERE id = ?`, id)
}

func (s *SQLiteStore) roleExists(ctx context.Context, kind model.RoleKind, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM role_entities WHERE id = ? AND kind = ?`, id, string(kind))
}

func (s *SQLiteStore) ancestorExists(ctx context.Context, kind model.AncestorKind, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM ancestors WHERE id = ? AND kind = ?`, id, string(kind))
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: existence check")
	}
	return true, nil
}
