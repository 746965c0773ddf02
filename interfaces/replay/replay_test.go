package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

const recording = `
# two nodes and an edge
{"type":"node-upsert","topic":"graph","seq":1,"payload":{"id":"A","category":"belief","label":"Alpha"},"timestamp":1000}
{"type":"heartbeat","timestamp":1001}

{"type":"node-upsert","topic":"graph","seq":2,"payload":{"id":"B","category":"goal"},"timestamp":1002}
{"type":"edge-upsert","topic":"graph","seq":3,"payload":{"source":"A","target":"B","weight":2},"timestamp":1003}
{"type":"snapshot-patch","topic":"cognition","seq":1,"payload":{"set":{"attention":0.8}},"timestamp":1004}
`

func loadTestRecording(t *testing.T) []messages.Envelope {
	t.Helper()
	frames, err := LoadRecording(strings.NewReader(recording))
	require.NoError(t, err)
	return frames
}

func TestLoadRecording(t *testing.T) {
	frames := loadTestRecording(t)
	require.Len(t, frames, 4, "comments, blank lines and heartbeats are skipped")
	assert.Equal(t, messages.TypeNodeUpsert, frames[0].Type)
	assert.Equal(t, messages.TypeSnapshotPatch, frames[3].Type)

	_, err := LoadRecording(strings.NewReader("{\"type\":\"node-upsert\",\"topic\":\"graph\",\"seq\":1}\n{nope\n"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, 2, pkgerrors.GetAppError(err).Details["line"])

	_, err = LoadRecordingFile("does-not-exist.jsonl")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestStateSnapshot(t *testing.T) {
	s := newState()
	now := time.UnixMilli(5000)
	for _, env := range loadTestRecording(t) {
		env.Seq = s.next(env.Topic)
		require.NoError(t, s.apply(env, now))
	}

	tests := []struct {
		name      string
		topic     string
		seq       int64
		nodes     int
		edges     int
		hasGraph  bool
		metricKey string
	}{
		{name: "graph topic", topic: "graph", seq: 4, nodes: 2, edges: 1, hasGraph: true},
		{name: "metrics topic", topic: "cognition", seq: 2, metricKey: "attention"},
		{name: "unknown topic starts at one", topic: "jobs", seq: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := s.snapshot(tt.topic, now)
			require.NoError(t, err)
			assert.Equal(t, messages.TypeSnapshotFull, env.Type)
			assert.Equal(t, tt.seq, env.Seq)

			p, err := messages.DecodePayload[messages.SnapshotPayload](env)
			require.NoError(t, err)
			assert.Equal(t, tt.hasGraph, p.HasGraph())
			assert.Len(t, p.Nodes, tt.nodes)
			assert.Len(t, p.Edges, tt.edges)
			if tt.metricKey != "" {
				assert.Contains(t, p.Metrics, tt.metricKey)
			} else {
				assert.Nil(t, p.Metrics)
			}
		})
	}

	env, err := s.snapshot("graph", now)
	require.NoError(t, err)
	p, err := messages.DecodePayload[messages.SnapshotPayload](env)
	require.NoError(t, err)
	require.NotNil(t, p.Nodes[0].Label)
	assert.Equal(t, "Alpha", *p.Nodes[0].Label)
	require.NotNil(t, p.Edges[0].Weight)
	assert.Equal(t, 2.0, *p.Edges[0].Weight)
}

func TestStateRemovals(t *testing.T) {
	s := newState()
	now := time.UnixMilli(5000)
	for _, env := range loadTestRecording(t) {
		require.NoError(t, s.apply(env, now))
	}

	remove, err := messages.New(messages.TypeEdgeRemove, "graph", messages.EdgeRemovePayload{Source: "A", Target: "B"}, now)
	require.NoError(t, err)
	require.NoError(t, s.apply(remove, now))
	assert.Equal(t, 0, s.model.EdgeCount())

	remove, err = messages.New(messages.TypeNodeRemove, "graph", messages.NodeRemovePayload{ID: "A"}, now)
	require.NoError(t, err)
	require.NoError(t, s.apply(remove, now))
	assert.Equal(t, 1, s.model.NodeCount())

	bad, err := messages.New(messages.TypeEdgeUpsert, "graph", messages.EdgePayload{Source: "A", Target: "B"}, now)
	require.NoError(t, err)
	assert.Error(t, s.apply(bad, now), "edge to a missing node")
}

func startServer(t *testing.T, frames []messages.Envelope, opts Options) (*Server, string) {
	t.Helper()
	srv := NewServer(frames, opts, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()
	httpSrv := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		cancel()
		<-done
		httpSrv.Close()
	})
	return srv, "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
}

func send(t *testing.T, conn *websocket.Conn, typ messages.Type, payload interface{}) {
	t.Helper()
	env, err := messages.New(typ, "", payload, time.Now())
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readUntil reads frames until match returns true and returns everything read
func readUntil(t *testing.T, conn *websocket.Conn, match func(messages.Envelope) bool) []messages.Envelope {
	t.Helper()
	var seen []messages.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := messages.Decode(data)
		require.NoError(t, err)
		seen = append(seen, env)
		if match(env) {
			return seen
		}
	}
}

func TestRunTearsDownClientConnections(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := NewServer(loadTestRecording(t), Options{Heartbeat: 10 * time.Millisecond}, zap.New(core))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	httpSrv := httptest.NewServer(srv.Routes())
	defer httpSrv.Close()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"

	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		send(t, conn, messages.TypeSubscribe, messages.SubscribePayload{Topics: []string{"graph"}})
		conns = append(conns, conn)
	}
	require.Eventually(t, func() bool {
		st, err := srv.Stats(ctx)
		return err == nil && st.Clients == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, 2, logs.FilterMessage("Read pump stopped").Len())
	assert.Equal(t, 2, logs.FilterMessage("Write pump stopped").Len())

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var err error
		for err == nil {
			_, _, err = conn.ReadMessage()
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
	}
}

func TestServerStreamsAndAnswersResync(t *testing.T) {
	srv, url := startServer(t, loadTestRecording(t), Options{
		Heartbeat:       20 * time.Millisecond,
		AwaitSubscriber: true,
	})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, messages.TypeSubscribe, messages.SubscribePayload{SessionID: "s1", Topics: []string{"graph"}})

	seen := readUntil(t, conn, func(env messages.Envelope) bool {
		return env.Type == messages.TypeEdgeUpsert
	})
	var seqs []int64
	for _, env := range seen {
		if env.Topic == "graph" {
			seqs = append(seqs, env.Seq)
		}
		assert.NotEqual(t, "cognition", env.Topic, "unsubscribed topic is filtered")
	}
	assert.Equal(t, []int64{2, 3, 4}, seqs, "frames are re-sequenced after the empty base state")

	send(t, conn, messages.TypeResyncRequest, messages.ResyncRequestPayload{Topic: "graph", LastSeq: 1})
	seen = readUntil(t, conn, func(env messages.Envelope) bool {
		return env.Type == messages.TypeSnapshotFull
	})
	snap := seen[len(seen)-1]
	assert.Equal(t, int64(4), snap.Seq)
	p, err := messages.DecodePayload[messages.SnapshotPayload](snap)
	require.NoError(t, err)
	assert.Len(t, p.Nodes, 2)
	assert.Len(t, p.Edges, 1)

	readUntil(t, conn, func(env messages.Envelope) bool { return env.Type == messages.TypeHeartbeat })

	st, err := srv.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Clients)
	assert.Equal(t, 1, st.Resyncs)
	assert.Equal(t, 4, st.Played)
	assert.Equal(t, int64(2), st.Seq["cognition"])
}

func TestServerRequiresToken(t *testing.T) {
	secret := []byte("replay-secret")
	_, url := startServer(t, nil, Options{Secret: secret})

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "dev"}).SignedString(secret)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "dev"}).SignedString([]byte("other"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header http.Header
		status int
	}{
		{name: "missing token", status: http.StatusUnauthorized},
		{name: "wrong signature", header: http.Header{"Authorization": {"Bearer " + forged}}, status: http.StatusUnauthorized},
		{name: "valid token", header: http.Header{"Authorization": {"Bearer " + signed}}, status: http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(url, tt.header)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			if err == nil {
				conn.Close()
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer(loadTestRecording(t), Options{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()
	handler := srv.Routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 4.0, body["frames"])

	cancel()
	<-done
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEngineFollowsReplay(t *testing.T) {
	srv, url := startServer(t, loadTestRecording(t), Options{Interval: 10 * time.Millisecond, Heartbeat: 50 * time.Millisecond})

	cfg := config.Default(config.Test)
	cfg.Stream.Endpoint = url
	cfg.Stream.Topics = []string{"graph", "cognition"}
	cfg.Layout.Seed = 7
	logger := zaptest.NewLogger(t)
	e := engine.New(cfg, logger, engine.WithStreams(stream.NewManager(cfg.Stream, logger)))
	t.Cleanup(e.Dispose)
	require.NoError(t, e.Init(context.Background()))

	require.Eventually(t, func() bool {
		st, err := e.Status(context.Background())
		return err == nil && st.Nodes == 2 && st.Edges == 1 && st.SnapshotVersion > 0
	}, 5*time.Second, 20*time.Millisecond)

	st, err := e.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.Connected, st.Connection)
	for _, ts := range st.Topics {
		assert.False(t, ts.ResyncPending, ts.Topic)
	}

	stats, err := srv.Stats(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Resyncs, 2, "one bootstrap snapshot per topic")

	var raw json.RawMessage
	var ok bool
	require.NoError(t, e.Call(context.Background(), func() {
		raw, ok = e.Snapshot().Get("attention")
	}))
	require.True(t, ok)
	var attention float64
	require.NoError(t, json.Unmarshal(raw, &attention))
	assert.Equal(t, 0.8, attention)
}
