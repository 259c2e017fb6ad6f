package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/turfline/racesync/internal/db"
	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/resolve"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS races (
	id         TEXT PRIMARY KEY,
	date       DATE NOT NULL,
	course     TEXT NOT NULL,
	course_id  TEXT,
	off_time   TEXT,
	class      TEXT,
	race_type  TEXT,
	distance   TEXT,
	going      TEXT,
	region     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS horses (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	name_norm   TEXT NOT NULL,
	region      TEXT,
	foaled      DATE,
	sex         TEXT,
	colour      TEXT,
	breeder     TEXT,
	sire_id     TEXT,
	dam_id      TEXT,
	damsire_id  TEXT,
	enriched_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ancestors (
	id         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	name_norm  TEXT NOT NULL,
	region     TEXT,
	horse_id   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, kind)
);

CREATE TABLE IF NOT EXISTS role_entities (
	id         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (race_id, horse_id)
);

CREATE TABLE IF NOT EXISTS checkpoint (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	resume_date   DATE NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	chunk_start  DATE NOT NULL,
	chunk_end    DATE NOT NULL,
	region       TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempt      INTEGER NOT NULL,
	rows_synced  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_horses_name_norm ON horses(name_norm);
CREATE INDEX IF NOT EXISTS idx_ancestors_name_norm ON ancestors(name_norm);
CREATE INDEX IF NOT EXISTS idx_races_date ON races(date);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRace(ctx context.Context, race *model.Race) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO races (id, date, course, course_id, off_time, class, race_type, distance, going, region, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			course_id  = COALESCE(races.course_id, EXCLUDED.course_id),
			off_time   = COALESCE(races.off_time, EXCLUDED.off_time),
			class      = COALESCE(races.class, EXCLUDED.class),
			race_type  = COALESCE(races.race_type, EXCLUDED.race_type),
			distance   = COALESCE(races.distance, EXCLUDED.distance),
			going      = COALESCE(races.going, EXCLUDED.going),
			updated_at = now()`,
		race.ID, race.Date.UTC(), race.Course, race.CourseID, race.OffTime,
		race.Class, race.RaceType, race.Distance, race.Going, string(race.Region),
	)
	return eris.Wrapf(err, "postgres: upsert race %s", race.ID)
}

func (s *PostgresStore) UpsertHorse(ctx context.Context, h *model.Horse) error {
	var foaled *time.Time
	if h.Foaled != nil {
		v := h.Foaled.UTC()
		foaled = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO horses (id, name, name_norm, region, foaled, sex, colour, breeder, sire_id, dam_id, damsire_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET
			region     = COALESCE(horses.region, EXCLUDED.region),
			foaled     = COALESCE(horses.foaled, EXCLUDED.foaled),
			sex        = COALESCE(horses.sex, EXCLUDED.sex),
			colour     = COALESCE(horses.colour, EXCLUDED.colour),
			breeder    = COALESCE(horses.breeder, EXCLUDED.breeder),
			sire_id    = COALESCE(horses.sire_id, EXCLUDED.sire_id),
			dam_id     = COALESCE(horses.dam_id, EXCLUDED.dam_id),
			damsire_id = COALESCE(horses.damsire_id, EXCLUDED.damsire_id),
			updated_at = now()`,
		h.ID, h.Name, resolve.NormalizeName(h.Name), h.Region, foaled,
		h.Sex, h.Colour, h.Breeder, h.SireID, h.DamID, h.DamsireID,
	)
	return eris.Wrapf(err, "postgres: upsert horse %s", h.ID)
}

func (s *PostgresStore) UpsertAncestor(ctx context.Context, a *model.Ancestor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ancestors (id, kind, name, name_norm, region, horse_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id, kind) DO UPDATE SET
			region     = COALESCE(ancestors.region, EXCLUDED.region),
			horse_id   = COALESCE(ancestors.horse_id, EXCLUDED.horse_id),
			updated_at = now()`,
		a.ID, string(a.Kind), a.Name, resolve.NormalizeName(a.Name), a.Region, a.HorseID,
	)
	return eris.Wrapf(err, "postgres: upsert ancestor %s/%s", a.Kind, a.ID)
}

func (s *PostgresStore) UpsertRole(ctx context.Context, r *model.RoleEntity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO role_entities (id, kind, name, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id, kind) DO UPDATE SET
			name       = CASE WHEN role_entities.name = '' THEN EXCLUDED.name ELSE role_entities.name END,
			updated_at = now()`,
		r.ID, string(r.Kind), r.Name,
	)
	return eris.Wrapf(err, "postgres: upsert role %s/%s", r.Kind, r.ID)
}

func (s *PostgresStore) UpsertRunner(ctx context.Context, r *model.Runner) error {
	if err := guardRunner(ctx, s, r); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO runners (race_id, horse_id, number, draw, age, weight, headgear,
			position, beaten_distance, starting_price, comment,
			trainer_id, jockey_id, owner_id, sire_id, dam_id, damsire_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
		ON CONFLICT (race_id, horse_id) DO UPDATE SET
			number          = COALESCE(runners.number, EXCLUDED.number),
			draw            = COALESCE(runners.draw, EXCLUDED.draw),
			age             = COALESCE(runners.age, EXCLUDED.age),
			weight          = COALESCE(runners.weight, EXCLUDED.weight),
			headgear        = COALESCE(runners.headgear, EXCLUDED.headgear),
			position        = EXCLUDED.position,
			beaten_distance = EXCLUDED.beaten_distance,
			starting_price  = EXCLUDED.starting_price,
			comment         = EXCLUDED.comment,
			trainer_id      = COALESCE(runners.trainer_id, EXCLUDED.trainer_id),
			jockey_id       = COALESCE(runners.jockey_id, EXCLUDED.jockey_id),
			owner_id        = COALESCE(runners.owner_id, EXCLUDED.owner_id),
			sire_id         = COALESCE(runners.sire_id, EXCLUDED.sire_id),
			dam_id          = COALESCE(runners.dam_id, EXCLUDED.dam_id),
			damsire_id      = COALESCE(runners.damsire_id, EXCLUDED.damsire_id),
			updated_at      = now()`,
		r.RaceID, r.HorseID, r.Number, r.Draw, r.Age, r.Weight, r.Headgear,
		r.Position, r.BeatenDistance, r.StartingPrice, r.Comment,
		r.TrainerID, r.JockeyID, r.OwnerID, r.SireID, r.DamID, r.DamsireID,
	)
	return eris.Wrapf(err, "postgres: upsert runner %s/%s", r.RaceID, r.HorseID)
}

func (s *PostgresStore) HorseExists(ctx context.Context, id string) (bool, error) {
	return s.horseRowExists(ctx, id)
}

func (s *PostgresStore) UnenrichedHorses(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM horses WHERE enriched_at IS NULL AND id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: unenriched horses")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unenriched horse")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: unenriched horses iterate")
}

func (s *PostgresStore) MarkHorseEnriched(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE horses SET enriched_at = now() WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: mark horse enriched %s", id)
}

func (s *PostgresStore) FindHorsesByName(ctx context.Context, nameNorm string) ([]resolve.Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(region, '') FROM horses WHERE name_norm = $1`, nameNorm)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find horses by name %q", nameNorm)
	}
	defer rows.Close()

	var out []resolve.Candidate
	for rows.Next() {
		var c resolve.Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Region); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find horses iterate")
}

func (s *PostgresStore) Checkpoint(ctx context.Context) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT resume_date, attempt_count, updated_at FROM checkpoint WHERE id = 1`,
	).Scan(&cp.ResumeDate, &cp.AttemptCount, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: read checkpoint")
	}
	cp.ResumeDate = cp.ResumeDate.UTC()
	return &cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoint (id, resume_date, attempt_count, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			resume_date   = EXCLUDED.resume_date,
			attempt_count = EXCLUDED.attempt_count,
			updated_at    = EXCLUDED.updated_at`,
		cp.ResumeDate.UTC(), cp.AttemptCount, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) StartChunkRun(ctx context.Context, chunkStart, chunkEnd time.Time, region string, attempt int) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_runs (id, chunk_start, chunk_end, region, status, attempt, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, chunkStart.UTC(), chunkEnd.UTC(), region,
		string(model.RunStatusRunning), attempt, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start chunk run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteChunkRun(ctx context.Context, runID string, rowsSynced int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs SET status = $1, rows_synced = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), rowsSynced, time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "postgres: complete chunk run %s", runID)
}

func (s *PostgresStore) FailChunkRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingest_runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	return eris.Wrapf(err, "postgres: fail chunk run %s", runID)
}

func (s *PostgresStore) ListChunkRuns(ctx context.Context, limit int) ([]model.ChunkRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, chunk_start, chunk_end, region, status, attempt, rows_synced, error, started_at, completed_at
		FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunk runs")
	}
	defer rows.Close()

	var runs []model.ChunkRun
	for rows.Next() {
		var r model.ChunkRun
		var errStr *string
		if err := rows.Scan(&r.ID, &r.ChunkStart, &r.ChunkEnd, &r.Region, &r.Status, &r.Attempt,
			&r.RowsSynced, &errStr, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk run")
		}
		if errStr != nil {
			r.Error = *errStr
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list chunk runs iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, table := range []string{"races", "runners", "horses", "ancestors", "role_entities"} {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", table)
		}
		counts[table] = n
	}
	return counts, nil
}

// refChecker implementation.

func (s *PostgresStore) raceExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM races WHERE id = $1`, id)
}

func (s *PostgresStore) horseRowExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM horses WHERE id = $1`, id)
}

func (s *PostgresStore) roleExists(ctx context.Context, kind model.RoleKind, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM role_entities WHERE id = $1 AND kind = $2`, id, string(kind))
}

func (s *PostgresStore) ancestorExists(ctx context.Context, kind model.AncestorKind, id string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM ancestors WHERE id = $1 AND kind = $2`, id, string(kind))
}

func (s *PostgresStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: existence check")
	}
	return true, nil
}
