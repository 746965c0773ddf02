package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
	}{
		{name: "node upsert", frame: `{"type":"node-upsert","topic":"graph","seq":1,"payload":{"id":"A"},"timestamp":1000}`},
		{name: "heartbeat without topic", frame: `{"type":"heartbeat","timestamp":5}`},
		{name: "not json", frame: `{"type":`, wantErr: true},
		{name: "missing type", frame: `{"topic":"graph","seq":1}`, wantErr: true},
		{name: "negative seq", frame: `{"type":"node-upsert","topic":"graph","seq":-1}`, wantErr: true},
		{name: "sequenced without topic", frame: `{"type":"node-upsert","seq":3}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsProtocol(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, env.Type)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("valid node", func(t *testing.T) {
		env := Envelope{Type: TypeNodeUpsert, Payload: json.RawMessage(`{"id":"A","importance":0.4,"category":"belief"}`)}
		p, err := DecodePayload[NodePayload](env)
		require.NoError(t, err)
		assert.Equal(t, "A", p.ID)
		require.NotNil(t, p.Importance)
		assert.InDelta(t, 0.4, *p.Importance, 1e-12)
		assert.Nil(t, p.Confidence)
	})

	t.Run("importance out of range", func(t *testing.T) {
		env := Envelope{Type: TypeNodeUpsert, Payload: json.RawMessage(`{"id":"A","importance":1.5}`)}
		_, err := DecodePayload[NodePayload](env)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsProtocol(err))
	})

	t.Run("edge missing target", func(t *testing.T) {
		env := Envelope{Type: TypeEdgeUpsert, Payload: json.RawMessage(`{"source":"A"}`)}
		_, err := DecodePayload[EdgePayload](env)
		assert.True(t, pkgerrors.IsProtocol(err))
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := DecodePayload[NodeRemovePayload](Envelope{Type: TypeNodeRemove})
		assert.True(t, pkgerrors.IsProtocol(err))
	})

	t.Run("snapshot nested validation", func(t *testing.T) {
		env := Envelope{Type: TypeSnapshotFull, Payload: json.RawMessage(`{"nodes":[{"id":""}]}`)}
		_, err := DecodePayload[SnapshotPayload](env)
		assert.True(t, pkgerrors.IsProtocol(err))
	})

	t.Run("metrics only snapshot", func(t *testing.T) {
		env := Envelope{Type: TypeSnapshotFull, Payload: json.RawMessage(`{"metrics":{"attention":0.7}}`)}
		p, err := DecodePayload[SnapshotPayload](env)
		require.NoError(t, err)
		assert.False(t, p.HasGraph())
		assert.Len(t, p.Metrics, 1)
	})
}

func TestEnvelopeTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 500_000_000, time.UTC)
	env := Envelope{Timestamp: Millis(now)}
	assert.WithinDuration(t, now, env.Time(), time.Microsecond)
	assert.True(t, Envelope{}.Time().IsZero())
}

func TestNewEncodesPayload(t *testing.T) {
	env, err := New(TypeResyncRequest, "graph", ResyncRequestPayload{Topic: "graph", LastSeq: 2}, time.Unix(1, 0))
	require.NoError(t, err)

	frame, err := env.Encode()
	require.NoError(t, err)

	back, err := Decode(frame)
	require.NoError(t, err)
	p, err := DecodePayload[ResyncRequestPayload](back)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.LastSeq)
	assert.False(t, back.Sequenced())
}
