// Package config loads engine settings from defaults, files and environment variables.
package config

import (
	"time"

	"github.com/Steake/GodelOS-sub005/domain/layout"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Config is the complete engine configuration
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" toml:"environment" validate:"required,oneof=development staging production test"`

	Stream     Stream     `yaml:"stream" json:"stream" toml:"stream"`
	Reconciler Reconciler `yaml:"reconciler" json:"reconciler" toml:"reconciler"`
	Layout     Layout     `yaml:"layout" json:"layout" toml:"layout"`
	Render     Render     `yaml:"render" json:"render" toml:"render"`
	Import     Import     `yaml:"import" json:"import" toml:"import"`
	HTTP       HTTP       `yaml:"http" json:"http" toml:"http"`
	Logging    Logging    `yaml:"logging" json:"logging" toml:"logging"`
	Metrics    Metrics    `yaml:"metrics" json:"metrics" toml:"metrics"`
	Tracing    Tracing    `yaml:"tracing" json:"tracing" toml:"tracing"`

	// LoadedFrom lists the sources applied, lowest priority first
	LoadedFrom []string `yaml:"-" json:"-" toml:"-"`
}

// Stream configures the stream connection manager
type Stream struct {
	Endpoint              string   `yaml:"endpoint" json:"endpoint" toml:"endpoint" validate:"required,url"`
	Topics                []string `yaml:"topics" json:"topics" toml:"topics" validate:"min=1,dive,required"`
	InitialDelayMs        int      `yaml:"initialDelayMs" json:"initialDelayMs" toml:"initialDelayMs" validate:"gt=0"`
	MaxDelayMs            int      `yaml:"maxDelayMs" json:"maxDelayMs" toml:"maxDelayMs" validate:"gtefield=InitialDelayMs"`
	JitterFraction        float64  `yaml:"jitterFraction" json:"jitterFraction" toml:"jitterFraction" validate:"gte=0,lt=1"`
	StableAfterMs         int      `yaml:"stableAfterMs" json:"stableAfterMs" toml:"stableAfterMs" validate:"gte=0"`
	HeartbeatIntervalMs   int      `yaml:"heartbeatIntervalMs" json:"heartbeatIntervalMs" toml:"heartbeatIntervalMs" validate:"gt=0"`
	DecodeFailureLimit    int      `yaml:"decodeFailureLimit" json:"decodeFailureLimit" toml:"decodeFailureLimit" validate:"gt=0"`
	DecodeFailureWindowMs int      `yaml:"decodeFailureWindowMs" json:"decodeFailureWindowMs" toml:"decodeFailureWindowMs" validate:"gt=0"`
	HandshakeTimeoutMs    int      `yaml:"handshakeTimeoutMs" json:"handshakeTimeoutMs" toml:"handshakeTimeoutMs" validate:"gt=0"`
	WriteTimeoutMs        int      `yaml:"writeTimeoutMs" json:"writeTimeoutMs" toml:"writeTimeoutMs" validate:"gt=0"`
	Token                 string   `yaml:"token" json:"token" toml:"token"`
	TokenFile             string   `yaml:"tokenFile" json:"tokenFile" toml:"tokenFile"`
}

// InitialDelay is the first reconnect delay
func (s Stream) InitialDelay() time.Duration { return ms(s.InitialDelayMs) }

// MaxDelay caps the reconnect delay
func (s Stream) MaxDelay() time.Duration { return ms(s.MaxDelayMs) }

// StableAfter is the uptime after which the backoff attempt counter resets
func (s Stream) StableAfter() time.Duration { return ms(s.StableAfterMs) }

// HeartbeatInterval is the expected heartbeat period
func (s Stream) HeartbeatInterval() time.Duration { return ms(s.HeartbeatIntervalMs) }

// DecodeFailureWindow is the sliding window for decode failures
func (s Stream) DecodeFailureWindow() time.Duration { return ms(s.DecodeFailureWindowMs) }

// HandshakeTimeout bounds the websocket dial
func (s Stream) HandshakeTimeout() time.Duration { return ms(s.HandshakeTimeoutMs) }

// WriteTimeout bounds a single frame write
func (s Stream) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMs) }

// Reconciler configures ordering and resync
type Reconciler struct {
	WindowSize       int     `yaml:"windowSize" json:"windowSize" toml:"windowSize" validate:"gt=0"`
	WindowMs         int     `yaml:"windowMs" json:"windowMs" toml:"windowMs" validate:"gt=0"`
	ResyncTimeoutMs  int     `yaml:"resyncTimeoutMs" json:"resyncTimeoutMs" toml:"resyncTimeoutMs" validate:"gt=0"`
	ResyncRatePerSec float64 `yaml:"resyncRatePerSec" json:"resyncRatePerSec" toml:"resyncRatePerSec" validate:"gt=0"`
	ResyncBurst      int     `yaml:"resyncBurst" json:"resyncBurst" toml:"resyncBurst" validate:"gt=0"`
}

// Window is the maximum time a gap may stay open
func (r Reconciler) Window() time.Duration { return ms(r.WindowMs) }

// ResyncTimeout is how long a resync may stay unanswered before it can be re-requested
func (r Reconciler) ResyncTimeout() time.Duration { return ms(r.ResyncTimeoutMs) }

// Layout configures the simulation
type Layout struct {
	layout.Options `yaml:",inline"`

	FrameBudgetMs      int    `yaml:"frameBudgetMs" json:"frameBudgetMs" toml:"frameBudgetMs" validate:"gt=0"`
	TickRateHz         int    `yaml:"tickRateHz" json:"tickRateHz" toml:"tickRateHz" validate:"gt=0,lte=240"`
	BarnesHutThreshold int    `yaml:"barnesHutThreshold" json:"barnesHutThreshold" toml:"barnesHutThreshold" validate:"gte=0"`
	Seed               uint64 `yaml:"seed" json:"seed" toml:"seed"`
}

// FrameBudget is the time a frame may spend in the simulation
func (l Layout) FrameBudget() time.Duration { return ms(l.FrameBudgetMs) }

// TickInterval is the frame period
func (l Layout) TickInterval() time.Duration { return time.Second / time.Duration(l.TickRateHz) }

// Params derives simulation constants from the configuration
func (l Layout) Params() layout.Params {
	p := layout.DefaultParams()
	p.BarnesHutThreshold = l.BarnesHutThreshold
	p.TickRate = l.TickInterval()
	return p
}

// Render configures the scene projection
type Render struct {
	Width             int     `yaml:"width" json:"width" toml:"width" validate:"gt=0"`
	Height            int     `yaml:"height" json:"height" toml:"height" validate:"gt=0"`
	NodeRadius        float64 `yaml:"nodeRadius" json:"nodeRadius" toml:"nodeRadius" validate:"gt=0"`
	Perspective       float64 `yaml:"perspective" json:"perspective" toml:"perspective" validate:"gt=0"`
	RecencyHalfLifeMs int     `yaml:"recencyHalfLifeMs" json:"recencyHalfLifeMs" toml:"recencyHalfLifeMs" validate:"gt=0"`
}

// RecencyHalfLife is the age at which the recency color is half faded
func (r Render) RecencyHalfLife() time.Duration { return ms(r.RecencyHalfLifeMs) }

// Import configures the import job tracker and REST client
type Import struct {
	BaseURL        string `yaml:"baseUrl" json:"baseUrl" toml:"baseUrl" validate:"omitempty,url"`
	PollIntervalMs int    `yaml:"pollIntervalMs" json:"pollIntervalMs" toml:"pollIntervalMs" validate:"gt=0"`
	// MaxPollFailures consecutive failed polls are retried; the next one marks the job lost
	MaxPollFailures      int     `yaml:"maxPollFailures" json:"maxPollFailures" toml:"maxPollFailures" validate:"gt=0"`
	CancelTimeoutMs      int     `yaml:"cancelTimeoutMs" json:"cancelTimeoutMs" toml:"cancelTimeoutMs" validate:"gt=0"`
	RetentionMs          int     `yaml:"retentionMs" json:"retentionMs" toml:"retentionMs" validate:"gte=0"`
	RequestTimeoutMs     int     `yaml:"requestTimeoutMs" json:"requestTimeoutMs" toml:"requestTimeoutMs" validate:"gt=0"`
	BreakerFailureRatio  float64 `yaml:"breakerFailureRatio" json:"breakerFailureRatio" toml:"breakerFailureRatio" validate:"gt=0,lte=1"`
	BreakerMinRequests   uint32  `yaml:"breakerMinRequests" json:"breakerMinRequests" toml:"breakerMinRequests" validate:"gt=0"`
	BreakerOpenTimeoutMs int     `yaml:"breakerOpenTimeoutMs" json:"breakerOpenTimeoutMs" toml:"breakerOpenTimeoutMs" validate:"gt=0"`
}

// PollInterval is the time between progress polls
func (i Import) PollInterval() time.Duration { return ms(i.PollIntervalMs) }

// CancelTimeout forces a cancelling job to cancelled
func (i Import) CancelTimeout() time.Duration { return ms(i.CancelTimeoutMs) }

// Retention keeps terminal jobs visible for a while
func (i Import) Retention() time.Duration { return ms(i.RetentionMs) }

// RequestTimeout bounds a single REST call
func (i Import) RequestTimeout() time.Duration { return ms(i.RequestTimeoutMs) }

// BreakerOpenTimeout is how long the breaker stays open
func (i Import) BreakerOpenTimeout() time.Duration { return ms(i.BreakerOpenTimeoutMs) }

// HTTP configures the view API server
type HTTP struct {
	Addr              string   `yaml:"addr" json:"addr" toml:"addr" validate:"required"`
	AllowedOrigins    []string `yaml:"allowedOrigins" json:"allowedOrigins" toml:"allowedOrigins"`
	ReadTimeoutMs     int      `yaml:"readTimeoutMs" json:"readTimeoutMs" toml:"readTimeoutMs" validate:"gt=0"`
	WriteTimeoutMs    int      `yaml:"writeTimeoutMs" json:"writeTimeoutMs" toml:"writeTimeoutMs" validate:"gt=0"`
	ShutdownTimeoutMs int      `yaml:"shutdownTimeoutMs" json:"shutdownTimeoutMs" toml:"shutdownTimeoutMs" validate:"gt=0"`
}

// ReadTimeout bounds reading a request
func (h HTTP) ReadTimeout() time.Duration { return ms(h.ReadTimeoutMs) }

// WriteTimeout bounds writing a response
func (h HTTP) WriteTimeout() time.Duration { return ms(h.WriteTimeoutMs) }

// ShutdownTimeout bounds graceful shutdown
func (h HTTP) ShutdownTimeout() time.Duration { return ms(h.ShutdownTimeoutMs) }

// Logging configures zap
type Logging struct {
	Level  string `yaml:"level" json:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" toml:"format" validate:"oneof=json console"`
	// File redirects log output away from stderr, which the terminal view owns
	File string `yaml:"file" json:"file" toml:"file"`
}

// Metrics configures the prometheus collector
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" toml:"namespace" validate:"required"`
}

// Tracing configures OpenTelemetry export
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" toml:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" toml:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `yaml:"serviceName" json:"serviceName" toml:"serviceName" validate:"required"`
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" toml:"sampleRatio" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure" json:"insecure" toml:"insecure"`
}

// Default returns a configuration that runs against a local replay server
func Default(env Environment) *Config {
	return &Config{
		Environment: env,
		Stream: Stream{
			Endpoint:              "ws://localhost:8090/ws",
			Topics:                []string{"graph", "cognitive", "jobs"},
			InitialDelayMs:        500,
			MaxDelayMs:            30000,
			JitterFraction:        0.2,
			StableAfterMs:         5000,
			HeartbeatIntervalMs:   5000,
			DecodeFailureLimit:    5,
			DecodeFailureWindowMs: 10000,
			HandshakeTimeoutMs:    10000,
			WriteTimeoutMs:        5000,
		},
		Reconciler: Reconciler{
			WindowSize:       50,
			WindowMs:         2000,
			ResyncTimeoutMs:  10000,
			ResyncRatePerSec: 1,
			ResyncBurst:      3,
		},
		Layout: Layout{
			Options:            layout.DefaultOptions(),
			FrameBudgetMs:      12,
			TickRateHz:         60,
			BarnesHutThreshold: 500,
		},
		Render: Render{
			Width:             1280,
			Height:            800,
			NodeRadius:        6,
			Perspective:       600,
			RecencyHalfLifeMs: 60000,
		},
		Import: Import{
			BaseURL:              "http://localhost:8000",
			PollIntervalMs:       2000,
			MaxPollFailures:      5,
			CancelTimeoutMs:      10000,
			RetentionMs:          30000,
			RequestTimeoutMs:     10000,
			BreakerFailureRatio:  0.6,
			BreakerMinRequests:   3,
			BreakerOpenTimeoutMs: 30000,
		},
		HTTP: HTTP{
			Addr:              ":8080",
			AllowedOrigins:    []string{"*"},
			ReadTimeoutMs:     15000,
			WriteTimeoutMs:    15000,
			ShutdownTimeoutMs: 10000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "cogviz",
		},
		Tracing: Tracing{
			ServiceName: "cogviz",
			SampleRatio: 1,
			Insecure:    true,
		},
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return pkgerrors.NewConfigError("invalid configuration: "+err.Error(), nil)
	}
	if err := c.Layout.Options.Validate(); err != nil {
		return pkgerrors.NewConfigError("invalid layout configuration", err)
	}
	return nil
}

// IsDevelopment reports whether the engine runs in development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
