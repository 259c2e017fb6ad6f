package ingest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/provider"
	"github.com/turfline/racesync/internal/resilience"
	"github.com/turfline/racesync/internal/resolve"
	"github.com/turfline/racesync/internal/store"
)

// Enricher runs the selective second phase: per-horse detail calls for
// horses that have never been enriched. Workers share the provider's rate
// limiter, so concurrency raises utilization of the request budget without
// ever exceeding it.
type Enricher struct {
	gw      provider.Gateway
	st      store.Store
	matcher *resolve.Matcher
	workers int
	retry   resilience.Policy
}

// EnrichStats summarizes one enrichment pass.
type EnrichStats struct {
	Enriched int64
	NotFound int64
	Failed   int64
}

// NewEnricher creates an Enricher. workers caps concurrent detail calls.
func NewEnricher(gw provider.Gateway, st store.Store, matcher *resolve.Matcher, workers int, retry resilience.Policy) *Enricher {
	if workers < 1 {
		workers = 1
	}
	return &Enricher{gw: gw, st: st, matcher: matcher, workers: workers, retry: retry}
}

// EnrichNew filters ids down to never-enriched horses and fetches detail
// for each. Not-found marks the horse enriched (it keeps its discovery-time
// fields); a call that stays transient after retries is counted failed and
// left unmarked so a later pass picks it up again.
func (e *Enricher) EnrichNew(ctx context.Context, ids []string) (EnrichStats, error) {
	log := zap.L().With(zap.String("component", "ingest.enricher"))

	var stats EnrichStats

	pending, err := e.st.UnenrichedHorses(ctx, ids)
	if err != nil {
		return stats, err
	}
	if len(pending) == 0 {
		return stats, nil
	}

	log.Info("enriching new horses",
		zap.Int("candidates", len(ids)),
		zap.Int("pending", len(pending)),
		zap.Int("workers", e.workers),
	)

	var enriched, notFound, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, id := range pending {
		id := id
		g.Go(func() error {
			policy := e.retry
			policy.OnRetry = resilience.RetryLogger("ingest.enricher", "entity detail "+id)

			detail, err := resilience.DoVal(gctx, policy, func(ctx context.Context) (*provider.HorseDetail, error) {
				return e.gw.EntityDetail(ctx, id)
			})

			switch {
			case err == nil:
				if err := e.mergeDetail(gctx, id, detail); err != nil {
					return err
				}
				enriched.Add(1)
				return nil

			case eris.Is(err, provider.ErrNotFound):
				// The horse keeps its discovery-time fields; marking it
				// enriched stops the pipeline from asking again.
				log.Warn("no detail record upstream", zap.String("horse_id", id))
				if err := e.st.MarkHorseEnriched(gctx, id); err != nil {
					return err
				}
				notFound.Add(1)
				return nil

			case gctx.Err() != nil:
				return err

			default:
				log.Error("enrichment failed, will retry on a later pass",
					zap.String("horse_id", id), zap.Error(err))
				failed.Add(1)
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return stats, eris.Wrap(err, "enricher: pass aborted")
	}

	stats = EnrichStats{
		Enriched: enriched.Load(),
		NotFound: notFound.Load(),
		Failed:   failed.Load(),
	}
	log.Info("enrichment pass complete",
		zap.Int64("enriched", stats.Enriched),
		zap.Int64("not_found", stats.NotFound),
		zap.Int64("failed", stats.Failed),
	)
	return stats, nil
}

// mergeDetail writes the detail payload: ancestor rows first so the horse's
// ancestry references resolve, then the horse merge, then the enriched mark.
// Detail-sourced ancestors get the same matching pass as listing-sourced
// ones; a sighting here may be the only one an ancestor ever gets.
func (e *Enricher) mergeDetail(ctx context.Context, id string, d *provider.HorseDetail) error {
	ancestors := detailAncestors(d)
	if err := LinkAncestors(ctx, e.matcher, ancestors); err != nil {
		return err
	}
	for _, a := range ancestors {
		if err := e.st.UpsertAncestor(ctx, a); err != nil {
			return err
		}
	}
	if err := e.st.UpsertHorse(ctx, detailToHorse(id, d)); err != nil {
		return err
	}
	return e.st.MarkHorseEnriched(ctx, id)
}

func detailToHorse(id string, d *provider.HorseDetail) *model.Horse {
	h := &model.Horse{
		ID:        id,
		Name:      strings.TrimSpace(d.Name),
		Sex:       optStr(d.Sex),
		Colour:    optStr(d.Colour),
		Breeder:   optStr(d.Breeder),
		SireID:    optStr(d.SireID),
		DamID:     optStr(d.DamID),
		DamsireID: optStr(d.DamsireID),
	}
	_, region := resolve.SplitRegion(d.Name)
	h.Region = optStr(region)

	if dob, err := time.Parse("2006-01-02", strings.TrimSpace(d.DOB)); err == nil {
		dob = dob.UTC()
		h.Foaled = &dob
	}
	return h
}

func detailAncestors(d *provider.HorseDetail) []*model.Ancestor {
	var out []*model.Ancestor
	add := func(kind model.AncestorKind, id, name string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		_, region := resolve.SplitRegion(name)
		out = append(out, &model.Ancestor{
			ID:     id,
			Kind:   kind,
			Name:   strings.TrimSpace(name),
			Region: optStr(region),
		})
	}
	add(model.KindSire, d.SireID, d.Sire)
	add(model.KindDam, d.DamID, d.Dam)
	add(model.KindDamsire, d.DamsireID, d.Damsire)
	return out
}
