package sched

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conorfennell/knoldeck/internal/domain"
)

func TestFuzzIsReproducible(t *testing.T) {
	p := DefaultParams().Fuzz
	for ivl := 3; ivl < 200; ivl++ {
		assert.Equal(t, fuzzInterval(42, ivl, 1, p), fuzzInterval(42, ivl, 1, p))
	}
}

func TestFuzzStaysInBounds(t *testing.T) {
	p := DefaultParams().Fuzz
	for ivl := 3; ivl < 500; ivl += 3 {
		delta := max(1, int(math.Round(float64(ivl)*p.Percent)))
		for id := domain.CardID(1); id < 50; id++ {
			got := fuzzInterval(id, ivl, 1, p)
			assert.GreaterOrEqual(t, got, ivl-delta)
			assert.LessOrEqual(t, got, ivl+delta)
		}
	}
}

func TestFuzzSpreadsCards(t *testing.T) {
	p := DefaultParams().Fuzz
	seen := make(map[int]bool)
	for id := domain.CardID(1); id <= 100; id++ {
		seen[fuzzInterval(id, 100, 1, p)] = true
	}
	assert.Greater(t, len(seen), 3, "cards with the same interval should spread out")

	other := p
	other.Seed = 7
	differs := false
	for id := domain.CardID(1); id <= 100 && !differs; id++ {
		differs = fuzzInterval(id, 100, 1, p) != fuzzInterval(id, 100, 1, other)
	}
	assert.True(t, differs, "the seed changes the jitter")
}

func TestFuzzLimits(t *testing.T) {
	p := DefaultParams().Fuzz

	assert.Equal(t, 2, fuzzInterval(1, 2, 1, p), "short intervals are not fuzzed")

	for id := domain.CardID(1); id < 100; id++ {
		assert.GreaterOrEqual(t, fuzzInterval(id, 10, 10, p), 10, "never below the floor")
	}

	p.Enabled = false
	assert.Equal(t, 50, fuzzInterval(1, 50, 1, p))
	assert.Equal(t, 51, fuzzInterval(1, 50, 51, p))
}
