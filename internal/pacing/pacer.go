package pacing

import (
	"math/rand"
	"time"
)

// Category names one kind of pause the scheduler takes.
type Category string

const (
	CategoryReadingPause   Category = "reading_pause"
	CategoryBetweenActions Category = "between_actions"
	CategoryBetweenPhases  Category = "between_phases"
	CategoryScrollPause    Category = "scroll_pause"
)

// DefaultEscalationFactor spaces later actions further apart. The value is
// an empirical default; deployments tune it through configuration.
const DefaultEscalationFactor = 0.03

// Range is an inclusive duration range to draw from.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pacer computes randomized delays between actions. DelayFor is a pure
// draw with no side effects; the caller owns the actual suspension.
type Pacer struct {
	ranges     map[Category]Range
	escalation float64
	rng        *rand.Rand
}

// NewPacer creates a pacer seeded from the current time.
func NewPacer(ranges map[Category]Range, escalation float64) *Pacer {
	return NewPacerWithSource(ranges, escalation, rand.NewSource(time.Now().UnixNano()))
}

// NewPacerWithSource creates a pacer with an explicit random source, which
// makes draws reproducible in tests.
func NewPacerWithSource(ranges map[Category]Range, escalation float64, source rand.Source) *Pacer {
	if escalation < 0 {
		escalation = DefaultEscalationFactor
	}
	return &Pacer{
		ranges:     ranges,
		escalation: escalation,
		rng:        rand.New(source),
	}
}

// DelayFor draws a uniform duration from the category's range, then scales
// it by 1 + actionsSoFar*escalation so long sessions slow down over time.
func (p *Pacer) DelayFor(category Category, actionsSoFar int) time.Duration {
	r, ok := p.ranges[category]
	if !ok || r.Max <= 0 {
		return 0
	}

	base := r.Min
	if span := r.Max - r.Min; span > 0 {
		base += time.Duration(p.rng.Int63n(int64(span) + 1))
	}

	if actionsSoFar < 0 {
		actionsSoFar = 0
	}
	multiplier := 1 + float64(actionsSoFar)*p.escalation

	return time.Duration(float64(base) * multiplier)
}
