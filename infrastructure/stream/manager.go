package stream

import (
	"context"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/observability"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

const (
	// Maximum frame size accepted from the backend
	maxMessageSize = 4 << 20

	// Outbound frames buffered per session
	sendBufferSize = 256
)

// Manager opens supervised websocket sessions to the backend
type Manager struct {
	cfg     config.Stream
	tokens  TokenSource
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Manager
type Option func(*Manager)

// WithTokenSource sets the bearer token presented on dial
func WithTokenSource(ts TokenSource) Option {
	return func(m *Manager) { m.tokens = ts }
}

// WithMetrics records connection metrics
func WithMetrics(c *observability.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithClock replaces the wall clock used for token expiry and decode windows
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithTracer starts session spans from tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithRand makes reconnect jitter deterministic
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) { m.rng = rng }
}

// NewManager creates a manager from the stream configuration
func NewManager(cfg config.Stream, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout(),
		},
		logger: logger.Named("stream"),
		tracer: otel.Tracer("cogviz/stream"),
		now:    time.Now,
	}
	switch {
	case cfg.TokenFile != "":
		m.tokens = FileToken(cfg.TokenFile)
	case cfg.Token != "":
		m.tokens = StaticToken(cfg.Token)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionOption configures a session before its first dial
type SessionOption func(*Session)

// WithMessageHandler registers a message handler before the first dial
func WithMessageHandler(topic string, fn MessageHandler) SessionOption {
	return func(s *Session) { s.OnMessage(topic, fn) }
}

// WithStateHandler registers a state handler before the first dial, so it
// observes every transition
func WithStateHandler(fn StateHandler) SessionOption {
	return func(s *Session) { s.OnStateChange(fn) }
}

// Connect starts a supervised session and returns its handle immediately.
// The session dials in the background and keeps reconnecting until Close
// or until ctx is cancelled.
func (m *Manager) Connect(ctx context.Context, endpoint string, topics []string, opts ...SessionOption) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, pkgerrors.NewValidationError("stream endpoint must be a ws:// or wss:// URL").
			WithDetail("endpoint", endpoint)
	}
	if len(topics) == 0 {
		return nil, pkgerrors.NewValidationError("at least one topic is required")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:       uuid.New().String(),
		endpoint: endpoint,
		topics:   append([]string(nil), topics...),
		m:        m,
		ctx:      sessionCtx,
		cancel:   cancel,
		outbound: make(chan []byte, sendBufferSize),
		state:    Disconnected,
		handlers: make(map[string][]*messageHandler),
	}
	s.logger = m.logger.With(zap.String("sessionID", s.id), zap.String("endpoint", endpoint))
	s.backoff = NewBackoff(m.cfg.InitialDelay(), m.cfg.MaxDelay(), m.cfg.JitterFraction, m.sessionRand())
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.supervise()

	s.logger.Info("Stream session started", zap.Strings("topics", s.topics))
	return s, nil
}

// sessionRand derives a jitter source for one session. Sessions never share
// a *rand.Rand since it is not safe for concurrent use.
func (m *Manager) sessionRand() *rand.Rand {
	if m.rng == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return rand.New(rand.NewPCG(m.rng.Uint64(), m.rng.Uint64()))
}
