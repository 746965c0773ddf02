package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/messages"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("stream session closed")

// MessageHandler receives decoded envelopes on the session's read goroutine
type MessageHandler func(messages.Envelope)

// StateHandler receives connection state transitions
type StateHandler func(StateChange)

type messageHandler struct{ fn MessageHandler }

type stateHandler struct{ fn StateHandler }

// Session is one supervised logical connection. It survives reconnects:
// handlers stay registered and the subscribe frame is re-sent on every dial.
type Session struct {
	id       string
	endpoint string
	topics   []string
	m        *Manager
	logger   *zap.Logger
	backoff  *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	outbound chan []byte

	mu            sync.RWMutex
	state         State
	handlers      map[string][]*messageHandler
	stateHandlers []*stateHandler
}

// ID is the client session id sent in every subscribe frame
func (s *Session) ID() string {
	return s.id
}

// Topics returns the subscribed topics
func (s *Session) Topics() []string {
	return append([]string(nil), s.topics...)
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnMessage registers a handler for topic; TopicAll matches every topic.
// The returned function unregisters it.
func (s *Session) OnMessage(topic string, fn MessageHandler) func() {
	h := &messageHandler{fn: fn}
	s.mu.Lock()
	s.handlers[topic] = append(s.handlers[topic], h)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.handlers[topic]
		for i, existing := range list {
			if existing == h {
				s.handlers[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a handler for state transitions
func (s *Session) OnStateChange(fn StateHandler) func() {
	h := &stateHandler{fn: fn}
	s.mu.Lock()
	s.stateHandlers = append(s.stateHandlers, h)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.stateHandlers {
			if existing == h {
				s.stateHandlers = append(s.stateHandlers[:i:i], s.stateHandlers[i+1:]...)
				return
			}
		}
	}
}

// Send publishes payload on topic. It fails fast while not connected.
func (s *Session) Send(topic string, payload interface{}) error {
	return s.send(messages.TypePublish, topic, payload)
}

// RequestResync asks the backend for a snapshot-full of topic
func (s *Session) RequestResync(topic string, lastSeq int64) error {
	_, span := s.m.tracer.Start(s.ctx, "stream.RequestResync",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int64("lastSeq", lastSeq),
		),
	)
	defer span.End()

	err := s.send(messages.TypeResyncRequest, topic, messages.ResyncRequestPayload{Topic: topic, LastSeq: lastSeq})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.Info("Resync requested", zap.String("topic", topic), zap.Int64("lastSeq", lastSeq))
	return nil
}

func (s *Session) send(t messages.Type, topic string, payload interface{}) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if st := s.State(); st != Connected {
		return pkgerrors.NewConnectionError("stream not connected", nil).WithDetail("state", string(st))
	}
	env, err := messages.New(t, topic, payload, s.m.now())
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return pkgerrors.Wrap(err, "encode frame")
	}

	select {
	case s.outbound <- frame:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	default:
		return pkgerrors.NewConnectionError("send buffer full", nil)
	}
}

// Close stops the supervisor and waits for every session goroutine.
// No handler runs after Close returns. It must not be called from a handler.
func (s *Session) Close() error {
	s.once.Do(func() {
		s.cancel()
	})
	s.wg.Wait()
	return nil
}

// Done is closed once the session has been closed or its context cancelled
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) setState(next State, attempt int, delay time.Duration, cause error) {
	s.mu.Lock()
	prev := s.state
	if !CanTransition(prev, next) {
		s.mu.Unlock()
		return
	}
	s.state = next
	handlers := append([]*stateHandler(nil), s.stateHandlers...)
	s.mu.Unlock()

	s.m.metrics.SetConnectionState(string(next))
	change := StateChange{From: prev, To: next, Attempt: attempt, Delay: delay, Err: cause}
	s.logger.Debug("Connection state changed", zap.Stringer("change", change))
	for _, h := range handlers {
		h.fn(change)
	}
}

func (s *Session) supervise() {
	defer s.wg.Done()
	defer s.setState(Closed, 0, 0, nil)

	for {
		s.setState(Connecting, s.backoff.Attempt(), 0, nil)

		conn, err := s.dial()
		if err == nil {
			connectedAt := time.Now()
			s.setState(Connected, s.backoff.Attempt(), 0, nil)
			s.logger.Info("Stream connected", zap.Int("attempt", s.backoff.Attempt()))

			err = s.serve(conn)
			if time.Since(connectedAt) >= s.m.cfg.StableAfter() {
				s.backoff.Reset()
			}
		}

		if s.ctx.Err() != nil {
			return
		}

		delay := s.backoff.Next()
		s.m.metrics.IncReconnect()
		s.logger.Warn("Stream disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", s.backoff.Attempt()),
			zap.Duration("delay", delay),
		)
		s.setState(Reconnecting, s.backoff.Attempt(), delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Session) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if s.m.tokens != nil {
		token, err := s.m.tokens.Token(s.ctx)
		if err != nil {
			return nil, err
		}
		if err := checkExpiry(token, s.m.now()); err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := s.m.dialer.DialContext(s.ctx, s.endpoint, header)
	if err != nil {
		appErr := pkgerrors.NewConnectionError("dial failed", err)
		if resp != nil {
			appErr = appErr.WithDetail("status", resp.StatusCode)
		}
		return nil, appErr
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// serve runs one connection until either pump fails or the session closes
func (s *Session) serve(conn *websocket.Conn) error {
	if err := s.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	connCtx, cancel := context.WithCancel(s.ctx)
	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- s.readPump(conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- s.writePump(connCtx, conn)
	}()

	err := <-errCh
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (s *Session) subscribe(conn *websocket.Conn) error {
	env, err := messages.New(messages.TypeSubscribe, "", messages.SubscribePayload{
		SessionID: s.id,
		Topics:    s.topics,
	}, s.m.now())
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return pkgerrors.Wrap(err, "encode subscribe")
	}
	conn.SetWriteDeadline(time.Now().Add(s.m.cfg.WriteTimeout()))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return pkgerrors.NewConnectionError("failed to send subscribe", err)
	}
	return nil
}

// readPump decodes frames and dispatches them. The read deadline is only
// extended by heartbeats, so a silent backend trips it after two intervals.
func (s *Session) readPump(conn *websocket.Conn) error {
	liveness := 2 * s.m.cfg.HeartbeatInterval()
	conn.SetReadDeadline(time.Now().Add(liveness))
	faults := decodeWindow{limit: s.m.cfg.DecodeFailureLimit, window: s.m.cfg.DecodeFailureWindow()}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return pkgerrors.NewConnectionError("heartbeat timeout", err).WithDetail("liveness", liveness.String())
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return pkgerrors.NewConnectionError("read failed", err)
		}

		env, err := messages.Decode(data)
		if err != nil {
			s.m.metrics.IncDecodeFailure()
			s.logger.Warn("Dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
			if faults.add(s.m.now()) {
				return pkgerrors.NewProtocolError("too many undecodable frames").
					WithDetail("limit", faults.limit).
					WithDetail("window", faults.window.String())
			}
			continue
		}

		if env.Type == messages.TypeHeartbeat {
			conn.SetReadDeadline(time.Now().Add(liveness))
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) writePump(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(s.m.cfg.WriteTimeout()))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case frame := <-s.outbound:
			conn.SetWriteDeadline(time.Now().Add(s.m.cfg.WriteTimeout()))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return pkgerrors.NewConnectionError("write failed", err)
			}
		}
	}
}

func (s *Session) dispatch(env messages.Envelope) {
	s.mu.RLock()
	targets := make([]*messageHandler, 0, len(s.handlers[env.Topic])+len(s.handlers[messages.TopicAll]))
	targets = append(targets, s.handlers[env.Topic]...)
	if env.Topic != messages.TopicAll {
		targets = append(targets, s.handlers[messages.TopicAll]...)
	}
	s.mu.RUnlock()

	if len(targets) == 0 {
		s.logger.Debug("No handler for message", zap.String("topic", env.Topic), zap.String("type", string(env.Type)))
		return
	}
	for _, h := range targets {
		h.fn(env)
	}
}

// decodeWindow counts decode failures inside a sliding window
type decodeWindow struct {
	limit  int
	window time.Duration
	times  []time.Time
}

// add records a failure at now and reports whether the limit is exceeded
func (w *decodeWindow) add(now time.Time) bool {
	cutoff := now.Add(-w.window)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = append(kept, now)
	return len(w.times) > w.limit
}
