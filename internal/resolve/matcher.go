package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Candidate is a canonical horse row considered for an ancestor back-link.
type Candidate struct {
	ID     string
	Name   string
	Region string // "" when unknown
}

// CandidateSource looks up canonical horses by normalized name. The store
// implements this; the matcher stays storage-agnostic.
type CandidateSource interface {
	FindHorsesByName(ctx context.Context, nameNorm string) ([]Candidate, error)
}

// Confidence grades an accepted match.
type Confidence string

const (
	// ConfidenceHigh: unique name match with agreeing region.
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow: unique name-only match, no region confirmation.
	ConfidenceLow Confidence = "low"
)

// Match is an accepted ancestor→horse link.
type Match struct {
	HorseID    string
	Confidence Confidence
}

// Matcher resolves an ancestor reference (name plus optional region) to a
// canonical horse. It is re-run on every sighting of the same ancestor:
// the canonical store grows over time, so a lookup that abstains today may
// succeed later. No "unresolved" verdict is ever cached.
type Matcher struct {
	src       CandidateSource
	overrides *Overrides
	log       *zap.Logger
}

// NewMatcher creates a Matcher over the given candidate source.
func NewMatcher(src CandidateSource) *Matcher {
	return &Matcher{
		src: src,
		log: zap.L().With(zap.String("component", "resolve.matcher")),
	}
}

// WithOverrides attaches operator-pinned matches. Pinned names short-circuit
// the candidate search entirely.
func (m *Matcher) WithOverrides(o *Overrides) *Matcher {
	m.overrides = o
	return m
}

// Resolve returns the matched horse, or nil when no candidate can be
// accepted. Zero or multiple same-named candidates mean abstain — never
// pick arbitrarily.
func (m *Matcher) Resolve(ctx context.Context, name, region string) (*Match, error) {
	nameNorm := NormalizeName(name)
	if nameNorm == "" {
		return nil, nil
	}

	if id, ok := m.overrides.Lookup(nameNorm); ok {
		return &Match{HorseID: id, Confidence: ConfidenceHigh}, nil
	}

	candidates, err := m.src.FindHorsesByName(ctx, nameNorm)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: candidates for %q", name)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Pass 1: exact name plus agreeing region. A unique hit is high
	// confidence.
	if region != "" {
		var hits []Candidate
		for _, c := range candidates {
			if c.Region == region {
				hits = append(hits, c)
			}
		}
		if len(hits) == 1 {
			return &Match{HorseID: hits[0].ID, Confidence: ConfidenceHigh}, nil
		}
	}

	// Pass 2: name-only fallback. Only a unique candidate is acceptable.
	if len(candidates) == 1 {
		return &Match{HorseID: candidates[0].ID, Confidence: ConfidenceLow}, nil
	}

	m.log.Info("ambiguous ancestor reference, abstaining",
		zap.String("name", name),
		zap.String("region", region),
		zap.Int("candidates", len(candidates)),
	)
	return nil, nil
}
