package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/resolve"
)

// LinkAncestors attempts to back-link each ancestor sighting to a canonical
// horse row. The attempt is repeated on every sighting because the horse
// store grows over time; an ancestor that stays unlinked is expected (the
// horse may never have competed in a covered region), never an error.
func LinkAncestors(ctx context.Context, m *resolve.Matcher, ancestors []*model.Ancestor) error {
	log := zap.L().With(zap.String("component", "ingest.resolver"))

	var linked int
	for _, a := range ancestors {
		region := ""
		if a.Region != nil {
			region = *a.Region
		}

		match, err := m.Resolve(ctx, a.Name, region)
		if err != nil {
			return err
		}
		if match == nil {
			continue
		}

		a.HorseID = &match.HorseID
		linked++
		log.Debug("linked ancestor to canonical horse",
			zap.String("ancestor_id", a.ID),
			zap.String("kind", string(a.Kind)),
			zap.String("horse_id", match.HorseID),
			zap.String("confidence", string(match.Confidence)),
		)
	}

	if linked > 0 {
		log.Info("ancestor linking pass",
			zap.Int("sightings", len(ancestors)),
			zap.Int("linked", linked),
		)
	}
	return nil
}
