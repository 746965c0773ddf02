package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Steake/GodelOS-sub005/domain/layout"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by the loader
const EnvPrefix = "COGVIZ_"

// Loader layers configuration sources. From lowest to highest priority:
//  1. defaults
//  2. base.{yaml,json,toml} in the config directory
//  3. <environment>.{yaml,json,toml} in the config directory
//  4. an explicit file
//  5. COGVIZ_* environment variables
type Loader struct {
	basePath    string
	environment Environment
	file        string
	sources     []string
	fileLoaders []FileLoader
	lookupEnv   func(string) (string, bool)
}

// FileLoader decodes one configuration file format
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader reading from basePath
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	l := &Loader{
		basePath:    basePath,
		environment: env,
		lookupEnv:   os.LookupEnv,
	}
	l.RegisterLoader(&YAMLLoader{})
	l.RegisterLoader(&JSONLoader{})
	l.RegisterLoader(&TOMLLoader{})
	return l
}

// RegisterLoader adds a file format. Earlier registrations win when several files share a name.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders = append(l.fileLoaders, loader)
}

// WithFile adds an explicit file applied after the directory files
func (l *Loader) WithFile(path string) *Loader {
	l.file = path
	return l
}

// WithLookupEnv replaces the environment lookup
func (l *Loader) WithLookupEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// Files returns the files the loader reads, whether or not they exist
func (l *Loader) Files() []string {
	var out []string
	for _, name := range []string{"base", strings.ToLower(string(l.environment))} {
		for _, fl := range l.fileLoaders {
			out = append(out, filepath.Join(l.basePath, name+"."+fl.Extension()))
		}
	}
	if l.file != "" {
		out = append(out, l.file)
	}
	return out
}

// Load builds and validates the configuration
func (l *Loader) Load() (*Config, error) {
	l.sources = []string{"defaults"}
	cfg := Default(l.environment)

	if err := l.loadNamed("base", cfg); err != nil {
		return nil, pkgerrors.NewConfigError("failed to load base config", err)
	}
	envName := strings.ToLower(string(l.environment))
	if err := l.loadNamed(envName, cfg); err != nil {
		return nil, pkgerrors.NewConfigError(fmt.Sprintf("failed to load %s config", envName), err)
	}
	if l.file != "" {
		if err := l.loadPath(l.file, cfg); err != nil {
			return nil, pkgerrors.NewConfigError("failed to load "+l.file, err)
		}
	}

	if err := l.loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = append([]string(nil), l.sources...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadNamed applies the first existing file called name with a registered extension
func (l *Loader) loadNamed(name string, cfg *Config) error {
	for _, fl := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+fl.Extension())
		err := l.decode(path, fl, cfg)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return err
	}
	return nil
}

func (l *Loader) loadPath(path string, cfg *Config) error {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "yml" {
		ext = "yaml"
	}
	for _, fl := range l.fileLoaders {
		if fl.Extension() == ext {
			return l.decode(path, fl, cfg)
		}
	}
	return fmt.Errorf("unsupported config format %q", ext)
}

func (l *Loader) decode(path string, fl FileLoader, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := fl.Load(file, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	l.sources = append(l.sources, path)
	return nil
}

// loadEnvironmentVariables overlays COGVIZ_* variables on the configuration
func (l *Loader) loadEnvironmentVariables(cfg *Config) error {
	applied := false
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
			applied = true
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
			applied = true
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
			applied = true
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
			applied = true
		}
	}

	// Stream
	str("STREAM_ENDPOINT", &cfg.Stream.Endpoint)
	if v, ok := l.lookupEnv(EnvPrefix + "STREAM_TOPICS"); ok && v != "" {
		cfg.Stream.Topics = splitList(v)
		applied = true
	}
	str("STREAM_TOKEN", &cfg.Stream.Token)
	str("STREAM_TOKEN_FILE", &cfg.Stream.TokenFile)
	integer("INITIAL_DELAY_MS", &cfg.Stream.InitialDelayMs)
	integer("MAX_DELAY_MS", &cfg.Stream.MaxDelayMs)
	integer("HEARTBEAT_INTERVAL_MS", &cfg.Stream.HeartbeatIntervalMs)

	// Layout
	mode, colorMode := string(cfg.Layout.Mode), string(cfg.Layout.ColorMode)
	str("LAYOUT_MODE", &mode)
	str("COLOR_MODE", &colorMode)
	cfg.Layout.Mode, cfg.Layout.ColorMode = layout.Mode(mode), layout.ColorMode(colorMode)
	float("LINK_STRENGTH", &cfg.Layout.LinkStrength)
	float("CHARGE_STRENGTH", &cfg.Layout.ChargeStrength)
	integer("FRAME_BUDGET_MS", &cfg.Layout.FrameBudgetMs)

	// Import
	str("IMPORT_BASE_URL", &cfg.Import.BaseURL)
	integer("IMPORT_POLL_INTERVAL_MS", &cfg.Import.PollIntervalMs)

	// Surfaces and observability
	str("HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := l.lookupEnv(EnvPrefix + "ALLOWED_ORIGINS"); ok && v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
		applied = true
	}
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_FILE", &cfg.Logging.File)
	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)

	if len(errs) > 0 {
		return pkgerrors.NewConfigError("invalid environment variable", errors.Join(errs...))
	}
	if applied {
		l.sources = append(l.sources, "environment")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// YAMLLoader loads configuration from YAML files
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extension() string {
	return "yaml"
}

// JSONLoader loads configuration from JSON files
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

// TOMLLoader loads configuration from TOML files
type TOMLLoader struct{}

func (t *TOMLLoader) Load(reader io.Reader, target interface{}) error {
	_, err := toml.NewDecoder(reader).Decode(target)
	return err
}

func (t *TOMLLoader) Extension() string {
	return "toml"
}

// EnvironmentFromEnv reads COGVIZ_ENV, defaulting to development
func EnvironmentFromEnv() Environment {
	if v := os.Getenv(EnvPrefix + "ENV"); v != "" {
		return Environment(strings.ToLower(v))
	}
	return Development
}

// Load reads configuration from dir for the environment named by COGVIZ_ENV
func Load(dir, file string) (*Config, error) {
	return NewLoader(dir, EnvironmentFromEnv()).WithFile(file).Load()
}
