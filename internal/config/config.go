// Package config loads and validates knoldeck's settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// KNOLDECK_* environment variables, then command-line flags.
package config

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Config is the complete runtime configuration.
type Config struct {
	Collection CollectionConfig `koanf:"collection" yaml:"collection"`
	Scheduler  SchedulerConfig  `koanf:"scheduler" yaml:"scheduler"`
	Decks      []DeckConfig     `koanf:"decks" yaml:"decks" validate:"dive"`
	Sync       SyncConfig       `koanf:"sync" yaml:"sync"`
	Serve      ServeConfig      `koanf:"serve" yaml:"serve"`
	Ingest     IngestConfig     `koanf:"ingest" yaml:"ingest"`
	Log        LogConfig        `koanf:"log" yaml:"log"`
}

// CollectionConfig locates the local collection.
type CollectionConfig struct {
	Path         string `koanf:"path" yaml:"path" validate:"required"`
	RolloverHour int    `koanf:"rollover_hour" yaml:"rollover_hour" validate:"min=-23,max=23"`
}

// SchedulerConfig holds the scheduling policy. Ease values are ratios
// (2.5 = 250%); intervals are days.
type SchedulerConfig struct {
	LearnSteps         []time.Duration `koanf:"learn_steps" yaml:"learn_steps" validate:"dive,gt=0"`
	RelearnSteps       []time.Duration `koanf:"relearn_steps" yaml:"relearn_steps" validate:"dive,gt=0"`
	GraduatingInterval int             `koanf:"graduating_interval" yaml:"graduating_interval" validate:"min=1"`
	EasyInterval       int             `koanf:"easy_interval" yaml:"easy_interval" validate:"gtefield=GraduatingInterval"`
	InitialEase        float64         `koanf:"initial_ease" yaml:"initial_ease" validate:"gtefield=MinEase,ltefield=MaxEase"`
	MinEase            float64         `koanf:"min_ease" yaml:"min_ease" validate:"gte=1"`
	MaxEase            float64         `koanf:"max_ease" yaml:"max_ease" validate:"gtefield=MinEase"`
	AgainPenalty       float64         `koanf:"again_penalty" yaml:"again_penalty" validate:"gte=0,lte=1"`
	HardPenalty        float64         `koanf:"hard_penalty" yaml:"hard_penalty" validate:"gte=0,lte=1"`
	EasyBonusDelta     float64         `koanf:"easy_bonus_delta" yaml:"easy_bonus_delta" validate:"gte=0,lte=1"`
	HardMultiplier     float64         `koanf:"hard_multiplier" yaml:"hard_multiplier" validate:"gt=0,lte=1"`
	EasyBonus          float64         `koanf:"easy_bonus" yaml:"easy_bonus" validate:"gte=1"`
	LapseMultiplier    float64         `koanf:"lapse_multiplier" yaml:"lapse_multiplier" validate:"gte=0,lte=1"`
	MinLapseInterval   int             `koanf:"min_lapse_interval" yaml:"min_lapse_interval" validate:"min=1"`
	RelearnThreshold   int             `koanf:"relearn_threshold" yaml:"relearn_threshold" validate:"min=0"`
	MaxInterval        int             `koanf:"max_interval" yaml:"max_interval" validate:"gtefield=EasyInterval"`
	NewPerDay          int             `koanf:"new_per_day" yaml:"new_per_day" validate:"min=0"`
	ReviewsPerDay      int             `koanf:"reviews_per_day" yaml:"reviews_per_day" validate:"min=0"`
	LeechThreshold     int             `koanf:"leech_threshold" yaml:"leech_threshold" validate:"min=0"`
	LeechAction        string          `koanf:"leech_action" yaml:"leech_action" validate:"oneof=suspend none"`
	BurySiblings       bool            `koanf:"bury_siblings" yaml:"bury_siblings"`
	Order              OrderConfig     `koanf:"order" yaml:"order"`
	Fuzz               FuzzConfig      `koanf:"fuzz" yaml:"fuzz"`
}

// Queue ordering strategies.
const (
	StrategyInterleave = "interleave"
	StrategyStrict     = "strict"

	NewOrderSequential = "sequential"
	NewOrderRandom     = "random"

	LeechSuspend = "suspend"
	LeechNone    = "none"
)

// OrderConfig controls how the daily queue is interleaved.
type OrderConfig struct {
	Strategy string `koanf:"strategy" yaml:"strategy" validate:"oneof=interleave strict"`
	// ReviewsPerNew shows one new card after this many reviews; 0 spreads new
	// cards evenly across the review queue.
	ReviewsPerNew int    `koanf:"reviews_per_new" yaml:"reviews_per_new" validate:"min=0"`
	NewOrder      string `koanf:"new_order" yaml:"new_order" validate:"oneof=sequential random"`
	Seed          int64  `koanf:"seed" yaml:"seed"`
}

// FuzzConfig bounds the interval jitter.
type FuzzConfig struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`
	// Percent is the maximum relative jitter; at least one day either way.
	Percent float64 `koanf:"percent" yaml:"percent" validate:"gte=0,lte=0.5"`
	// MinInterval is the smallest interval, in days, that gets fuzzed.
	MinInterval int   `koanf:"min_interval" yaml:"min_interval" validate:"min=1"`
	Seed        int64 `koanf:"seed" yaml:"seed"`
}

// DeckConfig overrides the daily limits for one deck.
type DeckConfig struct {
	ID            int64  `koanf:"id" yaml:"id" validate:"min=1"`
	Name          string `koanf:"name" yaml:"name"`
	NewPerDay     *int   `koanf:"new_per_day" yaml:"new_per_day,omitempty" validate:"omitempty,min=0"`
	ReviewsPerDay *int   `koanf:"reviews_per_day" yaml:"reviews_per_day,omitempty" validate:"omitempty,min=0"`
}

// SyncConfig describes the remote collection.
type SyncConfig struct {
	Endpoint  string        `koanf:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	BatchSize int           `koanf:"batch_size" yaml:"batch_size" validate:"min=1,max=10000"`
	// Schedule is a cron spec for repeated syncs, e.g. "@every 30m".
	Schedule string `koanf:"schedule" yaml:"schedule"`
}

// ServeConfig configures the sync server.
type ServeConfig struct {
	Addr       string `koanf:"addr" yaml:"addr" validate:"required"`
	Collection string `koanf:"collection" yaml:"collection" validate:"required"`
}

// IngestConfig controls how markdown sources become notes.
type IngestConfig struct {
	ReposDir     string `koanf:"repos_dir" yaml:"repos_dir" validate:"required"`
	Deck         int64  `koanf:"deck" yaml:"deck" validate:"min=1"`
	ReverseCards bool   `koanf:"reverse_cards" yaml:"reverse_cards"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" yaml:"format" validate:"oneof=text json"`
}

// Limits are the effective daily caps of a deck.
type Limits struct {
	NewPerDay     int
	ReviewsPerDay int
}

// DeckLimits returns the caps for deck, falling back to the scheduler's.
func (c *Config) DeckLimits(deck domain.DeckID) Limits {
	l := Limits{NewPerDay: c.Scheduler.NewPerDay, ReviewsPerDay: c.Scheduler.ReviewsPerDay}
	for _, d := range c.Decks {
		if domain.DeckID(d.ID) != deck {
			continue
		}
		if d.NewPerDay != nil {
			l.NewPerDay = *d.NewPerDay
		}
		if d.ReviewsPerDay != nil {
			l.ReviewsPerDay = *d.ReviewsPerDay
		}
	}
	return l
}

// Handler builds the slog handler described by the log settings.
func (c LogConfig) Handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.level()}
	if c.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (c LogConfig) level() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
