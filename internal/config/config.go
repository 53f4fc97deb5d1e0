package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lushonline/moodle-mod-externalcontent/internal/xapi"
)

const (
	SinkStore    = "store"
	SinkTemporal = "temporal"

	defaultMaxBodyBytes = 1 << 20
)

type Config struct {
	Listen       string         `yaml:"listen"`
	OpsListen    string         `yaml:"ops_listen"`
	Database     string         `yaml:"database"`
	MaxBodyBytes int64          `yaml:"max_body_bytes"`
	Log          LogConfig      `yaml:"log"`
	XAPI         XAPIConfig     `yaml:"xapi"`
	Events       EventsConfig   `yaml:"events"`
	Temporal     TemporalConfig `yaml:"temporal"`
	Redis        RedisConfig    `yaml:"redis"`
	Tracing      TracingConfig  `yaml:"tracing"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type XAPIConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	CompletionVerbs string `yaml:"completion_verbs"`
	UseBestScore    bool   `yaml:"use_best_score"`
}

type EventsConfig struct {
	Sink string `yaml:"sink"`
}

type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
}

// RedisConfig enables the cross-process track lock when Addr is set.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file or env is given.
func Default() Config {
	return Config{
		Listen:       ":8080",
		OpsListen:    ":9090",
		Database:     "lrs.db",
		MaxBodyBytes: defaultMaxBodyBytes,
		Log:          LogConfig{Format: "json", Level: "info"},
		XAPI: XAPIConfig{
			Enabled:         true,
			CompletionVerbs: xapi.DefaultCompletionVerbs,
		},
		Events:   EventsConfig{Sink: SinkStore},
		Temporal: TemporalConfig{HostPort: "localhost:7233", Namespace: "default"},
		Tracing:  TracingConfig{Exporter: "none", SampleRatio: 0.1},
	}
}

// Load reads path (optional) over the defaults, then applies LRS_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LRS_LISTEN":                &cfg.Listen,
		"LRS_OPS_LISTEN":            &cfg.OpsListen,
		"LRS_DATABASE":              &cfg.Database,
		"LRS_LOG_FORMAT":            &cfg.Log.Format,
		"LRS_LOG_LEVEL":             &cfg.Log.Level,
		"LRS_XAPI_USERNAME":         &cfg.XAPI.Username,
		"LRS_XAPI_PASSWORD":         &cfg.XAPI.Password,
		"LRS_XAPI_COMPLETION_VERBS": &cfg.XAPI.CompletionVerbs,
		"LRS_EVENTS_SINK":           &cfg.Events.Sink,
		"LRS_TEMPORAL_HOST_PORT":    &cfg.Temporal.HostPort,
		"LRS_TEMPORAL_NAMESPACE":    &cfg.Temporal.Namespace,
		"LRS_REDIS_ADDR":            &cfg.Redis.Addr,
		"LRS_TRACING_EXPORTER":      &cfg.Tracing.Exporter,
		"LRS_TRACING_ENDPOINT":      &cfg.Tracing.Endpoint,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"LRS_XAPI_ENABLED":        &cfg.XAPI.Enabled,
		"LRS_XAPI_USE_BEST_SCORE": &cfg.XAPI.UseBestScore,
		"LRS_TRACING_INSECURE":    &cfg.Tracing.Insecure,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("LRS_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("LRS_MAX_BODY_BYTES: %w", err)
		}
		cfg.MaxBodyBytes = n
	}
	if v, ok := lookup("LRS_TRACING_SAMPLE_RATIO"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("LRS_TRACING_SAMPLE_RATIO: %w", err)
		}
		cfg.Tracing.SampleRatio = f
	}
	return nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen required"))
	}
	if strings.TrimSpace(c.Database) == "" {
		errs = append(errs, errors.New("database required"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	switch c.Events.Sink {
	case SinkStore, SinkTemporal:
	default:
		errs = append(errs, fmt.Errorf("events.sink must be %q or %q, got %q", SinkStore, SinkTemporal, c.Events.Sink))
	}
	if c.Events.Sink == SinkTemporal && strings.TrimSpace(c.Temporal.HostPort) == "" {
		errs = append(errs, errors.New("temporal.host_port required for the temporal sink"))
	}
	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q not supported", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	if len(xapi.ParseVerbSet(c.XAPI.CompletionVerbs)) == 0 {
		errs = append(errs, errors.New("xapi.completion_verbs must name at least one verb"))
	}
	return errors.Join(errs...)
}

// Verbs returns the parsed completion verb set.
func (c Config) Verbs() xapi.VerbSet {
	return xapi.ParseVerbSet(c.XAPI.CompletionVerbs)
}
