package model

import "time"

// Horse is a canonical competitor entity. A row is created with minimal
// fields on first sighting and enriched at most once; subsequent sightings
// merge non-destructively (a populated field is never overwritten by nil).
type Horse struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Region *string `json:"region,omitempty"`

	// Demographic fields populated by enrichment.
	Foaled  *time.Time `json:"foaled,omitempty"`
	Sex     *string    `json:"sex,omitempty"`
	Colour  *string    `json:"colour,omitempty"`
	Breeder *string    `json:"breeder,omitempty"`

	// Ancestry references, each pointing at an ancestors row when set.
	SireID    *string `json:"sire_id,omitempty"`
	DamID     *string `json:"dam_id,omitempty"`
	DamsireID *string `json:"damsire_id,omitempty"`

	// EnrichedAt records that the per-horse detail call has been attempted
	// and merged (or returned not-found). Checked against the store, not
	// in-memory state, so the at-most-once guarantee survives restarts.
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// AncestorKind distinguishes the three structurally identical pedigree roles.
type AncestorKind string

const (
	KindSire    AncestorKind = "sire"
	KindDam     AncestorKind = "dam"
	KindDamsire AncestorKind = "damsire"
)

// Ancestor is a pedigree entity referenced from runners and enriched horses.
// HorseID is the back-link to the canonical horse record and stays nil when
// the ancestor never competed within the covered regions; that is expected,
// not an error. Matching is re-attempted on every sighting because the
// canonical horse store grows over time.
type Ancestor struct {
	ID      string       `json:"id"`
	Kind    AncestorKind `json:"kind"`
	Name    string       `json:"name"`
	Region  *string      `json:"region,omitempty"`
	HorseID *string      `json:"horse_id,omitempty"`
}

// RoleKind identifies a supporting-role entity type.
type RoleKind string

const (
	RoleTrainer RoleKind = "trainer"
	RoleJockey  RoleKind = "jockey"
	RoleOwner   RoleKind = "owner"
)

// RoleEntity is a name-only canonical entity (trainer, jockey, owner),
// created on first sighting and updated non-destructively.
type RoleEntity struct {
	ID   string   `json:"id"`
	Kind RoleKind `json:"kind"`
	Name string   `json:"name"`
}
