package replay

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/pkg/eventloop"
)

type request struct {
	c   *client
	env messages.Envelope
}

// Stats describes the replay progress and the connected clients
type Stats struct {
	Clients int              `json:"clients"`
	Played  int              `json:"played"`
	Resyncs int              `json:"resyncs"`
	Nodes   int              `json:"nodes"`
	Edges   int              `json:"edges"`
	Seq     map[string]int64 `json:"seq"`
}

// hub owns the replayed state and every client. All of it is touched only
// by the run goroutine. pumps counts the goroutines of registered clients.
type hub struct {
	state   *state
	clients map[*client]struct{}
	pumps   sync.WaitGroup

	register   chan *client
	unregister chan *client
	frames     chan messages.Envelope
	requests   chan request
	calls      chan func()

	heartbeat  time.Duration
	now        func() time.Time
	subscribed chan struct{}
	done       chan struct{}
	logger     *zap.Logger

	played  int
	resyncs int
}

func newHub(heartbeat time.Duration, logger *zap.Logger) *hub {
	return &hub{
		state:      newState(),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client, 16),
		frames:     make(chan messages.Envelope),
		requests:   make(chan request, 64),
		calls:      make(chan func()),
		heartbeat:  heartbeat,
		now:        time.Now,
		subscribed: make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)

	var beats <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		beats = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down", zap.Int("clients", len(h.clients)))
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			c.start(&h.pumps)
			h.logger.Info("Client connected", zap.String("connectionID", c.id), zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("Client disconnected", zap.String("connectionID", c.id), zap.Int("clients", len(h.clients)))
			}

		case env := <-h.frames:
			h.broadcast(env)

		case req := <-h.requests:
			h.handle(req)

		case fn := <-h.calls:
			fn()

		case <-beats:
			h.sendHeartbeat()
		}
	}
}

// join returns once the hub has registered c and started its pumps, so
// requests from c are never seen before c itself
func (h *hub) join(ctx context.Context, c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// wait blocks until the pumps of every client have returned. Call it after
// run has finished.
func (h *hub) wait() {
	h.pumps.Wait()
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) request(c *client, env messages.Envelope) bool {
	select {
	case h.requests <- request{c: c, env: env}:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) publish(ctx context.Context, env messages.Envelope) error {
	select {
	case h.frames <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return eventloop.ErrClosed
	}
}

func (h *hub) call(ctx context.Context, fn func()) error {
	wait := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(wait) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return eventloop.ErrClosed
	}
	<-wait
	return nil
}

func (h *hub) stats() Stats {
	return Stats{
		Clients: len(h.clients),
		Played:  h.played,
		Resyncs: h.resyncs,
		Nodes:   h.state.model.NodeCount(),
		Edges:   h.state.model.EdgeCount(),
		Seq:     maps.Clone(h.state.seq),
	}
}

// broadcast re-sequences and restamps a recorded frame so loops and late
// joiners see a consistent stream, applies it and fans it out
func (h *hub) broadcast(env messages.Envelope) {
	stamp := h.now()
	if env.Sequenced() {
		env.Seq = h.state.next(env.Topic)
	}
	env.Timestamp = messages.Millis(stamp)
	if err := h.state.apply(env, stamp); err != nil {
		h.logger.Warn("Replayed frame does not apply cleanly",
			zap.String("type", string(env.Type)),
			zap.Int64("seq", env.Seq),
			zap.Error(err),
		)
	}
	h.played++

	data, err := env.Encode()
	if err != nil {
		h.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	for c := range h.clients {
		if c.wants(env.Topic) {
			h.deliver(c, data)
		}
	}
}

func (h *hub) handle(req request) {
	c, env := req.c, req.env
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch env.Type {
	case messages.TypeSubscribe:
		p, err := messages.DecodePayload[messages.SubscribePayload](env)
		if err != nil {
			c.logger.Warn("Invalid subscribe", zap.Error(err))
			return
		}
		c.topics = make(map[string]bool, len(p.Topics))
		for _, t := range p.Topics {
			c.topics[t] = true
		}
		c.session = p.SessionID
		if !c.subscribed {
			c.subscribed = true
			select {
			case <-h.subscribed:
			default:
				close(h.subscribed)
			}
		}
		c.logger.Info("Client subscribed",
			zap.String("sessionID", p.SessionID),
			zap.Strings("topics", p.Topics),
		)

	case messages.TypeResyncRequest:
		p, err := messages.DecodePayload[messages.ResyncRequestPayload](env)
		if err != nil {
			c.logger.Warn("Invalid resync request", zap.Error(err))
			return
		}
		topic := p.Topic
		if topic == "" {
			topic = env.Topic
		}
		if topic == "" {
			return
		}
		snap, err := h.state.snapshot(topic, h.now())
		if err != nil {
			h.logger.Error("Failed to build snapshot", zap.Error(err))
			return
		}
		data, err := snap.Encode()
		if err != nil {
			h.logger.Error("Failed to encode snapshot", zap.Error(err))
			return
		}
		h.resyncs++
		c.logger.Info("Answered resync request",
			zap.String("topic", topic),
			zap.Int64("lastSeq", p.LastSeq),
			zap.Int64("seq", snap.Seq),
		)
		h.deliver(c, data)

	default:
		c.logger.Debug("Ignored client message", zap.String("type", string(env.Type)))
	}
}

func (h *hub) sendHeartbeat() {
	env, err := messages.New(messages.TypeHeartbeat, "", nil, h.now())
	if err != nil {
		return
	}
	data, err := env.Encode()
	if err != nil {
		return
	}
	for c := range h.clients {
		if c.subscribed {
			h.deliver(c, data)
		}
	}
}

// deliver queues data for c and drops the client when it cannot keep up
func (h *hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("Client send buffer full, disconnecting", zap.String("connectionID", c.id))
		h.drop(c)
	}
}

func (h *hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}
