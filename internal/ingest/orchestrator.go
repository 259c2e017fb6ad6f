package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/provider"
	"github.com/turfline/racesync/internal/resilience"
	"github.com/turfline/racesync/internal/resolve"
	"github.com/turfline/racesync/internal/store"
)

// Options configures one backfill run.
type Options struct {
	Start  time.Time
	End    time.Time
	Region model.Region

	// ChunkDays is the chunk size in days. Default: 90.
	ChunkDays int

	// Workers caps concurrent enrichment calls. Default: 4.
	Workers int

	// ChunkRetry governs retry of a whole chunk on transient failure.
	ChunkRetry resilience.Policy

	// EnrichRetry governs retry of individual detail calls.
	EnrichRetry resilience.Policy

	// Resume starts from the stored checkpoint when it lies inside the
	// requested range. Disabled, the run re-ingests from Start; idempotent
	// upserts make that safe.
	Resume bool

	// SkipFailed advances past a chunk whose retries are exhausted instead
	// of aborting the run. The failure stays visible in the run log.
	SkipFailed bool

	// Overrides supplies operator-pinned ancestor matches.
	Overrides *resolve.Overrides
}

func (o Options) withDefaults() Options {
	if o.ChunkDays < 1 {
		o.ChunkDays = 90
	}
	if o.Workers < 1 {
		o.Workers = 4
	}
	return o
}

// Summary reports what one backfill run accomplished.
type Summary struct {
	ChunksPlanned int
	ChunksSynced  int
	ChunksSkipped int
	RacesSynced   int64
	RunnersSynced int64
	Enrichment    EnrichStats
}

// Orchestrator runs a chunked, checkpointed backfill. Chunks are processed
// strictly in order; the checkpoint advances only after a chunk has fully
// committed, so a crash or abort resumes at the first incomplete chunk.
type Orchestrator struct {
	gw      provider.Gateway
	st      store.Store
	matcher *resolve.Matcher
	enrich  *Enricher
	opts    Options
	log     *zap.Logger
}

// NewOrchestrator wires a backfill run over the given gateway and store.
func NewOrchestrator(gw provider.Gateway, st store.Store, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	matcher := resolve.NewMatcher(st).WithOverrides(opts.Overrides)
	return &Orchestrator{
		gw:      gw,
		st:      st,
		matcher: matcher,
		enrich:  NewEnricher(gw, st, matcher, opts.Workers, opts.EnrichRetry),
		opts:    opts,
		log:     zap.L().With(zap.String("component", "ingest.orchestrator")),
	}
}

// Run executes the backfill. Cancellation is honored between chunks: the
// in-flight chunk finishes or fails, the checkpoint stays consistent, and
// the next invocation resumes.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := midnight(o.opts.Start)
	end := midnight(o.opts.End)

	if o.opts.Resume {
		resumed, err := o.resumePoint(ctx, start, end)
		if err != nil {
			return nil, err
		}
		start = resumed
	}

	sum := &Summary{}
	if start.After(end) {
		o.log.Info("nothing to do, range already covered",
			zap.String("end", end.Format("2006-01-02")))
		return sum, nil
	}

	chunks, err := SplitRange(start, end, o.opts.ChunkDays)
	if err != nil {
		return nil, err
	}
	sum.ChunksPlanned = len(chunks)

	o.log.Info("backfill starting",
		zap.String("start", start.Format("2006-01-02")),
		zap.String("end", end.Format("2006-01-02")),
		zap.String("region", string(o.opts.Region)),
		zap.Int("chunks", len(chunks)),
	)

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			o.log.Info("stopping between chunks", zap.Error(ctx.Err()))
			return sum, ctx.Err()
		default:
		}

		if err := o.runChunk(ctx, chunk, sum); err != nil {
			if o.opts.SkipFailed && ctx.Err() == nil {
				o.log.Error("chunk failed, skipping per configuration",
					zap.String("chunk_start", chunk.Start.Format("2006-01-02")),
					zap.Error(err))
				sum.ChunksSkipped++
				if err := o.advanceCheckpoint(ctx, chunk); err != nil {
					return sum, err
				}
				continue
			}
			if cpErr := o.recordAbort(ctx, chunk); cpErr != nil {
				o.log.Error("failed to record abort in checkpoint", zap.Error(cpErr))
			}
			return sum, err
		}

		sum.ChunksSynced++
		if err := o.advanceCheckpoint(ctx, chunk); err != nil {
			return sum, err
		}
	}

	o.log.Info("backfill complete",
		zap.Int("chunks_synced", sum.ChunksSynced),
		zap.Int("chunks_skipped", sum.ChunksSkipped),
		zap.Int64("races", sum.RacesSynced),
		zap.Int64("runners", sum.RunnersSynced),
	)
	return sum, nil
}

// resumePoint reconciles the requested start with the stored checkpoint.
func (o *Orchestrator) resumePoint(ctx context.Context, start, end time.Time) (time.Time, error) {
	cp, err := o.st.Checkpoint(ctx)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "orchestrator: unusable checkpoint, refusing to guess a resume point")
	}
	if cp == nil {
		return start, nil
	}

	resume := midnight(cp.ResumeDate)
	if resume.After(start) {
		o.log.Info("resuming from checkpoint",
			zap.String("resume_date", resume.Format("2006-01-02")),
			zap.Int("prior_attempts", cp.AttemptCount),
		)
		return resume, nil
	}
	return start, nil
}

// runChunk syncs one chunk under the chunk-level retry policy, logging each
// attempt in the run log.
func (o *Orchestrator) runChunk(ctx context.Context, chunk Chunk, sum *Summary) error {
	log := o.log.With(
		zap.String("chunk_start", chunk.Start.Format("2006-01-02")),
		zap.String("chunk_end", chunk.End.Format("2006-01-02")),
	)

	policy := o.opts.ChunkRetry
	policy.OnRetry = resilience.RetryLogger("ingest.orchestrator",
		"chunk "+chunk.Start.Format("2006-01-02"))

	attempt := 0
	return resilience.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		runID, err := o.st.StartChunkRun(ctx, chunk.Start, chunk.End, string(o.opts.Region), attempt)
		if err != nil {
			return err
		}

		started := time.Now()
		rows, err := o.syncChunk(ctx, chunk, sum)
		elapsed := time.Since(started)

		if err != nil {
			log.Error("chunk attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			if logErr := o.st.FailChunkRun(ctx, runID, err.Error()); logErr != nil {
				log.Error("failed to record chunk failure", zap.Error(logErr))
			}
			return err
		}

		if err := o.st.CompleteChunkRun(ctx, runID, rows); err != nil {
			return err
		}
		log.Info("chunk complete",
			zap.Int64("rows", rows),
			zap.Int("attempt", attempt),
			zap.Duration("elapsed", elapsed))
		return nil
	})
}

// syncChunk performs one discover-then-enrich pass over a chunk. Write order
// honors references: races and horses first, then roles and linked
// ancestors, enrichment, and finally runners, whose references the store
// guard validates row by row.
func (o *Orchestrator) syncChunk(ctx context.Context, chunk Chunk, sum *Summary) (int64, error) {
	events, err := o.gw.ListEvents(ctx, chunk.Start, chunk.End, o.opts.Region)
	if err != nil {
		return 0, err
	}

	batch := BuildBatch(events)

	for _, race := range batch.Races {
		if err := o.st.UpsertRace(ctx, race); err != nil {
			return 0, err
		}
	}
	for _, h := range batch.Horses {
		if err := o.st.UpsertHorse(ctx, h); err != nil {
			return 0, err
		}
	}
	for _, r := range batch.Roles {
		if err := o.st.UpsertRole(ctx, r); err != nil {
			return 0, err
		}
	}

	if err := LinkAncestors(ctx, o.matcher, batch.Ancestors); err != nil {
		return 0, err
	}
	for _, a := range batch.Ancestors {
		if err := o.st.UpsertAncestor(ctx, a); err != nil {
			return 0, err
		}
	}

	stats, err := o.enrich.EnrichNew(ctx, batch.HorseIDs)
	if err != nil {
		return 0, err
	}
	sum.Enrichment.Enriched += stats.Enriched
	sum.Enrichment.NotFound += stats.NotFound
	sum.Enrichment.Failed += stats.Failed

	var rows int64
	for _, r := range batch.Runners {
		err := o.st.UpsertRunner(ctx, r)
		if eris.Is(err, store.ErrMissingReference) {
			o.log.Warn("skipping runner with missing reference",
				zap.String("race_id", r.RaceID),
				zap.String("horse_id", r.HorseID),
				zap.Error(err))
			continue
		}
		if err != nil {
			return 0, err
		}
		rows++
	}

	if stats.Failed > 0 {
		// The chunk still commits: each horse keeps its discovery-time
		// record, and the null enriched_at means the next sighting retries
		// the detail call.
		o.log.Warn("chunk committed with outstanding enrichment failures",
			zap.String("chunk_start", chunk.Start.Format("2006-01-02")),
			zap.Int64("failed", stats.Failed))
	}

	sum.RacesSynced += int64(len(batch.Races))
	sum.RunnersSynced += rows
	return int64(len(batch.Races)) + rows, nil
}

// advanceCheckpoint moves the resume point to the day after the chunk.
func (o *Orchestrator) advanceCheckpoint(ctx context.Context, chunk Chunk) error {
	cp := &model.Checkpoint{
		ResumeDate:   chunk.End.AddDate(0, 0, 1),
		AttemptCount: 0,
	}
	if err := o.st.SaveCheckpoint(ctx, cp); err != nil {
		return eris.Wrap(err, "orchestrator: advance checkpoint")
	}
	return nil
}

// recordAbort keeps the resume point on the failed chunk and bumps the
// attempt counter so repeated failures are visible across restarts.
func (o *Orchestrator) recordAbort(ctx context.Context, chunk Chunk) error {
	// The abort may itself be a cancellation; the bookkeeping write still
	// has to land.
	ctx = context.WithoutCancel(ctx)

	prior := 0
	if cp, err := o.st.Checkpoint(ctx); err == nil && cp != nil {
		if midnight(cp.ResumeDate).After(chunk.Start) {
			// A later boundary is already committed; a no-resume re-run
			// over older dates must not drag it backward.
			return nil
		}
		prior = cp.AttemptCount
	}
	return o.st.SaveCheckpoint(ctx, &model.Checkpoint{
		ResumeDate:   chunk.Start,
		AttemptCount: prior + 1,
	})
}
