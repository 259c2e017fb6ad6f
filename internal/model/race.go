// Package model defines the typed records the ingestion engine persists.
// Fields the upstream provider may omit are pointer-typed; merge logic in
// the store operates only on these typed optionals.
package model

import "time"

// Region is one of the two geographic filters the engine supports.
type Region string

const (
	RegionGB  Region = "gb"
	RegionIRE Region = "ire"
)

// ParseRegion validates a region string from flags or upstream payloads.
func ParseRegion(s string) (Region, bool) {
	switch Region(s) {
	case RegionGB, RegionIRE:
		return Region(s), true
	}
	return "", false
}

// Race is one competitive event. The provider's race id is the immutable
// natural key; rows are upserted whenever the race is seen and never deleted.
type Race struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Course   string    `json:"course"`
	CourseID *string   `json:"course_id,omitempty"`
	OffTime  *string   `json:"off_time,omitempty"`
	Class    *string   `json:"class,omitempty"`
	RaceType *string   `json:"race_type,omitempty"`
	Distance *string   `json:"distance,omitempty"`
	Going    *string   `json:"going,omitempty"`
	Region   Region    `json:"region"`
}

// Runner is one horse's entry in one race, keyed by (race id, horse id).
// Outcome fields stay nil until the race concludes and are refreshable:
// the latest upstream value always wins.
type Runner struct {
	RaceID  string `json:"race_id"`
	HorseID string `json:"horse_id"`

	// Pre-race descriptive fields.
	Number   *int    `json:"number,omitempty"`
	Draw     *int    `json:"draw,omitempty"`
	Weight   *string `json:"weight,omitempty"`
	Headgear *string `json:"headgear,omitempty"`
	Age      *int    `json:"age,omitempty"`

	// Post-race outcome fields (refreshable).
	Position       *string `json:"position,omitempty"`
	BeatenDistance *string `json:"beaten_distance,omitempty"`
	StartingPrice  *string `json:"starting_price,omitempty"`
	Comment        *string `json:"comment,omitempty"`

	// Resolved references. Optional ones are nulled by the FK guard when
	// the target row does not exist.
	TrainerID *string `json:"trainer_id,omitempty"`
	JockeyID  *string `json:"jockey_id,omitempty"`
	OwnerID   *string `json:"owner_id,omitempty"`
	SireID    *string `json:"sire_id,omitempty"`
	DamID     *string `json:"dam_id,omitempty"`
	DamsireID *string `json:"damsire_id,omitempty"`
}
