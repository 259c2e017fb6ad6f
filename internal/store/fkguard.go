package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/turfline/racesync/internal/model"
)

// refChecker is the per-backend existence probe the FK guard runs on.
type refChecker interface {
	raceExists(ctx context.Context, id string) (bool, error)
	horseRowExists(ctx context.Context, id string) (bool, error)
	roleExists(ctx context.Context, kind model.RoleKind, id string) (bool, error)
	ancestorExists(ctx context.Context, kind model.AncestorKind, id string) (bool, error)
}

// guardRunner validates every reference a runner carries before it is
// written. The race and horse ids form the primary key, so their absence
// refuses the row with ErrMissingReference. Each optional reference that
// fails validation is nulled individually — not the whole record rejected —
// and logged as a data-quality warning, so one bad upstream reference never
// blocks a chunk.
func guardRunner(ctx context.Context, c refChecker, r *model.Runner) error {
	ok, err := c.raceExists(ctx, r.RaceID)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(ErrMissingReference, "race %s", r.RaceID)
	}

	ok, err = c.horseRowExists(ctx, r.HorseID)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Wrapf(ErrMissingReference, "horse %s", r.HorseID)
	}

	log := zap.L().With(
		zap.String("component", "store.fkguard"),
		zap.String("race_id", r.RaceID),
		zap.String("horse_id", r.HorseID),
	)

	nullRef := func(field string, ref **string, exists bool) {
		if !exists {
			log.Warn("nulled dangling reference",
				zap.String("field", field),
				zap.String("ref", **ref),
			)
			*ref = nil
		}
	}

	roleRefs := []struct {
		field string
		kind  model.RoleKind
		ref   **string
	}{
		{"trainer_id", model.RoleTrainer, &r.TrainerID},
		{"jockey_id", model.RoleJockey, &r.JockeyID},
		{"owner_id", model.RoleOwner, &r.OwnerID},
	}
	for _, rr := range roleRefs {
		if *rr.ref == nil {
			continue
		}
		ok, err := c.roleExists(ctx, rr.kind, **rr.ref)
		if err != nil {
			return err
		}
		nullRef(rr.field, rr.ref, ok)
	}

	ancestryRefs := []struct {
		field string
		kind  model.AncestorKind
		ref   **string
	}{
		{"sire_id", model.KindSire, &r.SireID},
		{"dam_id", model.KindDam, &r.DamID},
		{"damsire_id", model.KindDamsire, &r.DamsireID},
	}
	for _, ar := range ancestryRefs {
		if *ar.ref == nil {
			continue
		}
		ok, err := c.ancestorExists(ctx, ar.kind, **ar.ref)
		if err != nil {
			return err
		}
		nullRef(ar.field, ar.ref, ok)
	}

	return nil
}
