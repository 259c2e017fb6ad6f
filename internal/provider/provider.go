// Package provider is the client for the upstream racing results API: a
// rate-limited, read-only gateway exposing bulk date-range listing and an
// expensive per-horse detail call. Both paths draw from one shared limiter
// so concurrent enrichment cannot exceed the aggregate request budget.
package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/turfline/racesync/internal/model"
)

// ErrNotFound is returned when the provider has no record for an entity id.
// Not-found on enrichment is not an error condition for the pipeline; the
// entity keeps its discovery-time fields.
var ErrNotFound = eris.New("provider: entity not found")

// Gateway is the upstream surface the engine consumes. Both operations are
// subject to the shared rate limit; transient upstream failures (429, 5xx,
// timeouts) are wrapped as resilience.TransientError for the retry layer.
type Gateway interface {
	// ListEvents fetches all races with runners in [start, end] for one
	// region. The range is inclusive on both ends.
	ListEvents(ctx context.Context, start, end time.Time, region model.Region) ([]EventRecord, error)

	// EntityDetail fetches the per-horse detail record, or ErrNotFound.
	EntityDetail(ctx context.Context, horseID string) (*HorseDetail, error)
}

// EventRecord is one race as supplied by the bulk listing, runners included.
// Fields arrive as loosely formatted strings; the importer converts the few
// numeric ones and passes the rest through untouched.
type EventRecord struct {
	RaceID   string         `json:"race_id"`
	Date     string         `json:"date"`
	Region   string         `json:"region"`
	Course   string         `json:"course"`
	CourseID string         `json:"course_id"`
	Off      string         `json:"off"`
	Class    string         `json:"class"`
	RaceType string         `json:"type"`
	Distance string         `json:"dist"`
	Going    string         `json:"going"`
	Runners  []RunnerRecord `json:"runners"`
}

// RunnerRecord is one entry within an EventRecord.
type RunnerRecord struct {
	HorseID string `json:"horse_id"`
	Horse   string `json:"horse"`
	Number  string `json:"number"`
	Draw    string `json:"draw"`
	Age     string `json:"age"`
	Weight  string `json:"weight"`
	Headgear string `json:"headgear"`

	Position       string `json:"position"`
	BeatenDistance string `json:"btn"`
	StartingPrice  string `json:"sp"`
	Comment        string `json:"comment"`

	TrainerID string `json:"trainer_id"`
	Trainer   string `json:"trainer"`
	JockeyID  string `json:"jockey_id"`
	Jockey    string `json:"jockey"`
	OwnerID   string `json:"owner_id"`
	Owner     string `json:"owner"`

	SireID    string `json:"sire_id"`
	Sire      string `json:"sire"`
	DamID     string `json:"dam_id"`
	Dam       string `json:"dam"`
	DamsireID string `json:"damsire_id"`
	Damsire   string `json:"damsire"`
}

// HorseDetail is the enrichment payload for one horse.
type HorseDetail struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	DOB     string `json:"dob"`
	Sex     string `json:"sex"`
	Colour  string `json:"colour"`
	Breeder string `json:"breeder"`

	SireID    string `json:"sire_id"`
	Sire      string `json:"sire"`
	DamID     string `json:"dam_id"`
	Dam       string `json:"dam"`
	DamsireID string `json:"damsire_id"`
	Damsire   string `json:"damsire"`
}
