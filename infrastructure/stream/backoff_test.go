package stream

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

func TestBackoffSchedule(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 30*time.Second, 0, nil)

	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
	assert.Equal(t, len(want), b.Attempt())

	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.Next())
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 30*time.Second, 0.2, rand.New(rand.NewPCG(1, 2)))

	base := 500 * time.Millisecond
	for i := 0; i < 12; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8), "attempt %d", i)
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2), "attempt %d", i)
		if base < 30*time.Second {
			base *= 2
			if base > 30*time.Second {
				base = 30 * time.Second
			}
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Disconnected, Connecting, true},
		{Connecting, Connected, true},
		{Connecting, Reconnecting, true},
		{Connected, Reconnecting, true},
		{Reconnecting, Connecting, true},
		{Connected, Closed, true},
		{Closed, Connecting, false},
		{Connected, Connecting, false},
		{Disconnected, Connected, false},
		{Connected, Connected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDecodeWindow(t *testing.T) {
	w := decodeWindow{limit: 2, window: 10 * time.Second}
	start := time.Unix(1000, 0)

	assert.False(t, w.add(start))
	assert.False(t, w.add(start.Add(time.Second)))
	assert.True(t, w.add(start.Add(2*time.Second)))

	// Earlier failures age out of the window
	assert.False(t, w.add(start.Add(20*time.Second)))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "viewer",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestCheckExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name    string
		token   string
		expired bool
	}{
		{name: "valid", token: signedToken(t, now.Add(time.Hour))},
		{name: "expired", token: signedToken(t, now.Add(-time.Minute)), expired: true},
		{name: "opaque token", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkExpiry(tt.token, now)
			if tt.expired {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsConnection(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
