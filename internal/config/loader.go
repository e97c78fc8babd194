package config

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/flowguard/flowguard/internal/flowerr"
)

// Loader reads the spec §6 document (YAML/TOML/JSON, all three accepted
// transparently) and produces a validated *Config. Grounded on the
// teacher's cmd/web/main.go initConfig(), generalized from its
// server/log/redis defaults into the rule-engine schema above.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
}

// NewLoader builds a Loader with the given base name (without extension)
// and search paths. Viper infers the format (yaml/toml/json) from whichever
// file it finds, matching spec §6's "accepted transparently" requirement.
func NewLoader(configName string, searchPaths ...string) *Loader {
	v := viper.New()
	v.SetConfigName(configName)
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()
	return &Loader{v: v, validate: validator.New()}
}

// Load reads the configured file, unmarshals it, and validates it. A
// missing or malformed file, or one that fails struct validation, returns
// flowerr.ConfigInvalid wrapping the underlying cause.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, flowerr.New(flowerr.ConfigInvalid, "failed to read configuration file").
			WithComponent(flowerr.ComponentConfig).WithCause(err)
	}
	return l.decode()
}

// LoadFromReaderType parses configuration already held in memory (e.g.
// fetched from a remote config store) given its format ("yaml", "toml",
// or "json"), bypassing the filesystem search path.
func (l *Loader) LoadFromReaderType(format string, data []byte) (*Config, error) {
	l.v.SetConfigType(format)
	if err := l.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, flowerr.New(flowerr.ConfigInvalid, "failed to parse configuration").
			WithComponent(flowerr.ComponentConfig).WithCause(err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, flowerr.New(flowerr.ConfigInvalid, "failed to decode configuration").
			WithComponent(flowerr.ComponentConfig).WithCause(err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, flowerr.New(flowerr.ConfigInvalid, "configuration failed validation").
			WithComponent(flowerr.ComponentConfig).WithCause(err)
	}
	for _, r := range cfg.RuleSpecs {
		if err := validateMatchers(r.Matchers); err != nil {
			return nil, flowerr.New(flowerr.ConfigInvalid, fmt.Sprintf("rule %q has an invalid matcher", r.ID)).
				WithComponent(flowerr.ComponentConfig).WithCause(err)
		}
	}
	return &cfg, nil
}

func validateMatchers(matchers []MatcherSpec) error {
	for _, m := range matchers {
		switch m.Kind {
		case "and", "or":
			if len(m.Sub) == 0 {
				return fmt.Errorf("matcher kind %q requires at least one sub-matcher", m.Kind)
			}
		case "not":
			if len(m.Sub) != 1 {
				return fmt.Errorf("matcher kind %q requires exactly one sub-matcher", m.Kind)
			}
		case "ip_range":
			if len(m.CIDRs) == 0 {
				return fmt.Errorf("matcher kind %q requires at least one CIDR", m.Kind)
			}
		}
		if err := validateMatchers(m.Sub); err != nil {
			return err
		}
	}
	return nil
}

// Watch polls for configuration changes is the seam spec §1 leaves to an
// external hot-reload watcher; flowguard itself only defines the callback
// contract the watcher invokes. ctx cancellation stops the watch loop.
// The watcher implementation (e.g. fsnotify on the config file, or a
// control-plane push) lives outside this package.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) error {
	l.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	<-ctx.Done()
	return ctx.Err()
}
