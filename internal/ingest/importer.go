package ingest

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turfline/racesync/internal/model"
	"github.com/turfline/racesync/internal/provider"
	"github.com/turfline/racesync/internal/resolve"
)

// Batch is the deduplicated set of records produced from one chunk's worth
// of event listings, ready to be written in dependency order.
type Batch struct {
	Races     []*model.Race
	Horses    []*model.Horse
	Ancestors []*model.Ancestor
	Roles     []*model.RoleEntity
	Runners   []*model.Runner

	// HorseIDs preserves first-sighting order for the enrichment pass.
	HorseIDs []string
}

// BuildBatch converts raw event listings into typed records, deduplicating
// entities that appear across multiple races in the chunk. Malformed events
// are logged and skipped; one bad upstream row never fails a chunk.
func BuildBatch(events []provider.EventRecord) *Batch {
	log := zap.L().With(zap.String("component", "ingest.importer"))

	b := &Batch{}
	races := make(map[string]bool)
	horses := make(map[string]*model.Horse)
	ancestors := make(map[string]bool)
	roles := make(map[string]bool)
	runners := make(map[string]bool)

	addAncestor := func(kind model.AncestorKind, id, name string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		key := id + "/" + string(kind)
		if ancestors[key] {
			return
		}
		ancestors[key] = true
		_, region := resolve.SplitRegion(name)
		b.Ancestors = append(b.Ancestors, &model.Ancestor{
			ID:     id,
			Kind:   kind,
			Name:   strings.TrimSpace(name),
			Region: optStr(region),
		})
	}

	addRole := func(kind model.RoleKind, id, name string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		key := id + "/" + string(kind)
		if roles[key] {
			return
		}
		roles[key] = true
		b.Roles = append(b.Roles, &model.RoleEntity{
			ID:   id,
			Kind: kind,
			Name: strings.TrimSpace(name),
		})
	}

	for _, ev := range events {
		race, ok := importRace(ev)
		if !ok {
			log.Warn("skipping malformed event",
				zap.String("race_id", ev.RaceID),
				zap.String("date", ev.Date),
				zap.String("region", ev.Region),
			)
			continue
		}
		if !races[race.ID] {
			races[race.ID] = true
			b.Races = append(b.Races, race)
		}

		for _, rr := range ev.Runners {
			if strings.TrimSpace(rr.HorseID) == "" {
				log.Warn("skipping runner without horse id", zap.String("race_id", race.ID))
				continue
			}

			h := importHorse(rr)
			if prev, seen := horses[h.ID]; seen {
				mergeHorse(prev, h)
			} else {
				horses[h.ID] = h
				b.Horses = append(b.Horses, h)
				b.HorseIDs = append(b.HorseIDs, h.ID)
			}

			addRole(model.RoleTrainer, rr.TrainerID, rr.Trainer)
			addRole(model.RoleJockey, rr.JockeyID, rr.Jockey)
			addRole(model.RoleOwner, rr.OwnerID, rr.Owner)
			addAncestor(model.KindSire, rr.SireID, rr.Sire)
			addAncestor(model.KindDam, rr.DamID, rr.Dam)
			addAncestor(model.KindDamsire, rr.DamsireID, rr.Damsire)

			runnerKey := race.ID + "/" + rr.HorseID
			if runners[runnerKey] {
				continue
			}
			runners[runnerKey] = true
			b.Runners = append(b.Runners, importRunner(race.ID, rr))
		}
	}
	return b
}

func importRace(ev provider.EventRecord) (*model.Race, bool) {
	date, err := time.Parse("2006-01-02", ev.Date)
	if err != nil {
		return nil, false
	}
	region, ok := model.ParseRegion(strings.ToLower(strings.TrimSpace(ev.Region)))
	if !ok {
		return nil, false
	}
	if strings.TrimSpace(ev.RaceID) == "" {
		return nil, false
	}

	return &model.Race{
		ID:       strings.TrimSpace(ev.RaceID),
		Date:     date.UTC(),
		Course:   strings.TrimSpace(ev.Course),
		CourseID: optStr(ev.CourseID),
		OffTime:  optStr(ev.Off),
		Class:    optStr(ev.Class),
		RaceType: optStr(ev.RaceType),
		Distance: optStr(ev.Distance),
		Going:    optStr(ev.Going),
		Region:   region,
	}, true
}

func importHorse(rr provider.RunnerRecord) *model.Horse {
	_, region := resolve.SplitRegion(rr.Horse)
	return &model.Horse{
		ID:        strings.TrimSpace(rr.HorseID),
		Name:      strings.TrimSpace(rr.Horse),
		Region:    optStr(region),
		SireID:    optStr(rr.SireID),
		DamID:     optStr(rr.DamID),
		DamsireID: optStr(rr.DamsireID),
	}
}

func importRunner(raceID string, rr provider.RunnerRecord) *model.Runner {
	return &model.Runner{
		RaceID:  raceID,
		HorseID: strings.TrimSpace(rr.HorseID),

		Number:   optInt(rr.Number),
		Draw:     optInt(rr.Draw),
		Age:      optInt(rr.Age),
		Weight:   optStr(rr.Weight),
		Headgear: optStr(rr.Headgear),

		Position:       optStr(rr.Position),
		BeatenDistance: optStr(rr.BeatenDistance),
		StartingPrice:  optStr(rr.StartingPrice),
		Comment:        optStr(rr.Comment),

		TrainerID: optStr(rr.TrainerID),
		JockeyID:  optStr(rr.JockeyID),
		OwnerID:   optStr(rr.OwnerID),
		SireID:    optStr(rr.SireID),
		DamID:     optStr(rr.DamID),
		DamsireID: optStr(rr.DamsireID),
	}
}

// mergeHorse fills nil fields on dst from src; a field seen earlier in the
// chunk is never overwritten.
func mergeHorse(dst, src *model.Horse) {
	if dst.Region == nil {
		dst.Region = src.Region
	}
	if dst.SireID == nil {
		dst.SireID = src.SireID
	}
	if dst.DamID == nil {
		dst.DamID = src.DamID
	}
	if dst.DamsireID == nil {
		dst.DamsireID = src.DamsireID
	}
}

func optStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
