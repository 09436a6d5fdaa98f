// Package sched implements the spaced repetition scheduler: the pure answer
// processor, the daily queue builder and the facade that persists both.
package sched

import (
	"math"
	"time"

	"github.com/conorfennell/knoldeck/internal/config"
)

// Params holds the scheduling policy in the units the algorithm works in.
// Ease values are permille (2500 = 250%).
type Params struct {
	LearnSteps         []time.Duration
	RelearnSteps       []time.Duration
	GraduatingInterval int
	EasyInterval       int

	InitialEase    int
	MinEase        int
	MaxEase        int
	AgainPenalty   int
	HardPenalty    int
	EasyBonusDelta int

	HardMultiplier  float64
	EasyBonus       float64
	LapseMultiplier float64

	MinLapseInterval int
	RelearnThreshold int
	MaxInterval      int

	LeechThreshold int
	LeechSuspend   bool

	Fuzz FuzzParams
}

// FuzzParams bounds the interval jitter.
type FuzzParams struct {
	Enabled     bool
	Percent     float64
	MinInterval int
	Seed        int64
}

// NewParams converts validated configuration into scheduler parameters.
func NewParams(c config.SchedulerConfig) Params {
	return Params{
		LearnSteps:         c.LearnSteps,
		RelearnSteps:       c.RelearnSteps,
		GraduatingInterval: c.GraduatingInterval,
		EasyInterval:       c.EasyInterval,
		InitialEase:        permille(c.InitialEase),
		MinEase:            permille(c.MinEase),
		MaxEase:            permille(c.MaxEase),
		AgainPenalty:       permille(c.AgainPenalty),
		HardPenalty:        permille(c.HardPenalty),
		EasyBonusDelta:     permille(c.EasyBonusDelta),
		HardMultiplier:     c.HardMultiplier,
		EasyBonus:          c.EasyBonus,
		LapseMultiplier:    c.LapseMultiplier,
		MinLapseInterval:   c.MinLapseInterval,
		RelearnThreshold:   c.RelearnThreshold,
		MaxInterval:        c.MaxInterval,
		LeechThreshold:     c.LeechThreshold,
		LeechSuspend:       c.LeechAction == config.LeechSuspend,
		Fuzz: FuzzParams{
			Enabled:     c.Fuzz.Enabled,
			Percent:     c.Fuzz.Percent,
			MinInterval: c.Fuzz.MinInterval,
			Seed:        c.Fuzz.Seed,
		},
	}
}

// DefaultParams returns the parameters of the default configuration.
func DefaultParams() Params {
	return NewParams(config.Default().Scheduler)
}

func permille(ratio float64) int {
	return int(math.Round(ratio * 1000))
}
