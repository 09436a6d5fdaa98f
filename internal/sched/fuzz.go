package sched

import (
	"math"
	"math/rand"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// fuzzInterval jitters ivl by up to Percent, at least one day either way, so
// cards answered together drift apart. The result depends only on the card
// id, the interval and the seed. It never goes below floor.
func fuzzInterval(id domain.CardID, ivl, floor int, p FuzzParams) int {
	if !p.Enabled || ivl < p.MinInterval {
		return max(ivl, floor)
	}
	delta := max(1, int(math.Round(float64(ivl)*p.Percent)))
	lo := max(ivl-delta, floor, 1)
	hi := max(ivl+delta, lo)

	rng := rand.New(rand.NewSource(fuzzSeed(id, ivl, p.Seed)))
	return lo + rng.Intn(hi-lo+1)
}

// fuzzSeed mixes its inputs with the splitmix64 finalizer.
func fuzzSeed(id domain.CardID, ivl int, seed int64) int64 {
	return int64(mix64(uint64(id) ^ mix64(uint64(ivl)^mix64(uint64(seed)))))
}

func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
