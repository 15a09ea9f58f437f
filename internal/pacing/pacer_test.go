package pacing

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayStaysWithinRange(t *testing.T) {
	ranges := map[Category]Range{
		CategoryBetweenActions: {Min: 4 * time.Second, Max: 15 * time.Second},
	}
	p := NewPacerWithSource(ranges, 0, rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		d := p.DelayFor(CategoryBetweenActions, 0)
		if d < 4*time.Second || d > 15*time.Second {
			t.Fatalf("Draw %d out of range: %s", i, d)
		}
	}
}

func TestEscalationScalesDelay(t *testing.T) {
	// A degenerate range makes the base draw deterministic.
	ranges := map[Category]Range{
		CategoryReadingPause: {Min: 10 * time.Second, Max: 10 * time.Second},
	}
	p := NewPacerWithSource(ranges, 0.1, rand.NewSource(1))

	if d := p.DelayFor(CategoryReadingPause, 0); d != 10*time.Second {
		t.Errorf("Expected unscaled 10s at zero actions, got %s", d)
	}
	if d := p.DelayFor(CategoryReadingPause, 10); d != 20*time.Second {
		t.Errorf("Expected 2x scaling after 10 actions, got %s", d)
	}
}

func TestMissingCategoryYieldsZero(t *testing.T) {
	p := NewPacerWithSource(nil, 0, rand.NewSource(1))
	if d := p.DelayFor(CategoryScrollPause, 5); d != 0 {
		t.Errorf("Expected zero delay for unconfigured category, got %s", d)
	}
}

func TestNegativeActionCountTreatedAsZero(t *testing.T) {
	ranges := map[Category]Range{
		CategoryScrollPause: {Min: time.Second, Max: time.Second},
	}
	p := NewPacerWithSource(ranges, 0.5, rand.NewSource(1))
	if d := p.DelayFor(CategoryScrollPause, -3); d != time.Second {
		t.Errorf("Expected unscaled delay for negative count, got %s", d)
	}
}
