package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/messages"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Options controls playback
type Options struct {
	// Interval is the pause before each frame
	Interval time.Duration
	// Heartbeat is the period of server heartbeats; zero disables them
	Heartbeat time.Duration
	// Loop restarts the recording when it ends
	Loop bool
	// AwaitSubscriber holds playback until the first client subscribes
	AwaitSubscriber bool
	// Secret, when set, requires an HS256 bearer token signed with it
	Secret []byte
}

// DefaultOptions returns the options used by the replay command
func DefaultOptions() Options {
	return Options{
		Interval:  250 * time.Millisecond,
		Heartbeat: 2 * time.Second,
	}
}

// Server replays a recording to every connected client
type Server struct {
	frames   []messages.Envelope
	opts     Options
	hub      *hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
	once     sync.Once
}

// NewServer creates a replay server for frames
func NewServer(frames []messages.Envelope, opts Options, logger *zap.Logger) *Server {
	logger = logger.Named("replay")
	return &Server{
		frames: frames,
		opts:   opts,
		hub:    newHub(opts.Heartbeat, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Development server: any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Routes mounts the websocket endpoint and a health check
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Get("/ws", s.ServeHTTP)
	r.Get("/health", s.handleHealth)
	return r
}

// Run plays the recording until ctx is done and returns once every client
// connection has been torn down. It must be called once.
func (s *Server) Run(ctx context.Context) error {
	started := false
	s.once.Do(func() { started = true })
	if !started {
		return pkgerrors.NewInternalError("replay server already running")
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		s.hub.run(ctx)
	}()

	s.logger.Info("Replay started",
		zap.Int("frames", len(s.frames)),
		zap.Duration("interval", s.opts.Interval),
		zap.Bool("loop", s.opts.Loop),
	)
	s.play(ctx)
	<-ctx.Done()
	<-hubDone
	s.hub.wait()
	s.logger.Info("Replay stopped")
	return nil
}

func (s *Server) play(ctx context.Context) {
	if s.opts.AwaitSubscriber {
		select {
		case <-s.hub.subscribed:
		case <-ctx.Done():
			return
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for round := 1; ; round++ {
		for _, env := range s.frames {
			if s.opts.Interval > 0 {
				timer.Reset(s.opts.Interval)
				select {
				case <-timer.C:
				case <-ctx.Done():
					return
				}
			}
			if err := s.hub.publish(ctx, env); err != nil {
				return
			}
		}
		if !s.opts.Loop || len(s.frames) == 0 {
			s.logger.Info("Recording finished", zap.Int("rounds", round))
			return
		}
		s.logger.Debug("Looping recording", zap.Int("round", round))
	}
}

// Stats reports replay progress
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.hub.call(ctx, func() { st = s.hub.stats() })
	return st, err
}

// ServeHTTP upgrades the request and attaches the connection to the hub
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		s.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	c := newClient(s.hub, conn, s.logger)
	if !s.hub.join(r.Context(), c) {
		conn.Close()
	}
}

// authorize checks the bearer token when a secret is configured. The token
// may come from the Authorization header or the token query parameter.
func (s *Server) authorize(r *http.Request) error {
	if len(s.opts.Secret) == 0 {
		return nil
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return pkgerrors.NewValidationError("no authentication token provided")
	}
	_, err := jwt.Parse(token,
		func(*jwt.Token) (interface{}, error) { return s.opts.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return pkgerrors.NewValidationError("invalid token").WithCause(err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	st, err := s.Stats(ctx)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"frames": len(s.frames),
		"stats":  st,
	})
}
