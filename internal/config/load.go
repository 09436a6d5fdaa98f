package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. Nesting uses a double
// underscore: KNOLDECK_SCHEDULER__NEW_PER_DAY=30.
const EnvPrefix = "KNOLDECK_"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"db":         "collection.path",
	"rollover":   "collection.rollover_hour",
	"endpoint":   "sync.endpoint",
	"batch-size": "sync.batch_size",
	"schedule":   "sync.schedule",
	"addr":       "serve.addr",
	"serve-db":   "serve.collection",
	"repos-dir":  "ingest.repos_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Collection: CollectionConfig{
			Path:         "knoldeck.db",
			RolloverHour: 4,
		},
		Scheduler: SchedulerConfig{
			LearnSteps:         []time.Duration{time.Minute, 10 * time.Minute},
			RelearnSteps:       []time.Duration{10 * time.Minute},
			GraduatingInterval: 1,
			EasyInterval:       4,
			InitialEase:        2.5,
			MinEase:            1.3,
			MaxEase:            5.0,
			AgainPenalty:       0.2,
			HardPenalty:        0.15,
			EasyBonusDelta:     0.15,
			HardMultiplier:     0.9,
			EasyBonus:          1.3,
			LapseMultiplier:    0,
			MinLapseInterval:   1,
			RelearnThreshold:   0,
			MaxInterval:        36500,
			NewPerDay:          20,
			ReviewsPerDay:      200,
			LeechThreshold:     8,
			LeechAction:        LeechSuspend,
			BurySiblings:       false,
			Order: OrderConfig{
				Strategy:      StrategyInterleave,
				ReviewsPerNew: 0,
				NewOrder:      NewOrderSequential,
			},
			Fuzz: FuzzConfig{
				Enabled:     true,
				Percent:     0.05,
				MinInterval: 3,
			},
		},
		Decks: []DeckConfig{},
		Sync: SyncConfig{
			Timeout:   30 * time.Second,
			BatchSize: 250,
		},
		Serve: ServeConfig{
			Addr:       ":8085",
			Collection: "knoldeck-server.db",
		},
		Ingest: IngestConfig{
			ReposDir: "repos",
			Deck:     int64(1),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// defaults feeds Default() to koanf through the YAML parser, so the
// defaults and the file format share one shape.
type defaults struct{}

func (defaults) ReadBytes() ([]byte, error) {
	return yamlv3.Marshal(Default())
}

func (defaults) Read() (map[string]interface{}, error) {
	return nil, errors.New("config defaults provider does not support Read")
}

// Load layers defaults, the YAML file at path (skipped when empty or
// missing), environment variables and flags, then validates the result.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaults{}, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every constraint declared on the configuration structs.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envKey turns KNOLDECK_SCHEDULER__NEW_PER_DAY into scheduler.new_per_day.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Dump renders the configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	return yamlv3.Marshal(cfg)
}
