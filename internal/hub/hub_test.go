package hub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestmap/contestmap/pkg/streaming"
)

func mustEnvelope(t *testing.T, msgType string, payload any) streaming.Envelope {
	t.Helper()
	env, err := streaming.Marshal(msgType, payload)
	require.NoError(t, err)
	return env
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	h := NewHub(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c1 := &Client{id: 1, hub: h, send: make(chan streaming.Envelope, 8), logger: slog.Default()}
	c2 := &Client{id: 2, hub: h, send: make(chan streaming.Envelope, 8), logger: slog.Default()}
	h.Register <- c1
	h.Register <- c2

	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	env := mustEnvelope(t, streaming.TypeSectionHit, "CT")
	h.Broadcast(env)

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			assert.Equal(t, streaming.TypeSectionHit, got.Type)
		case <-time.After(time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	h := NewHub(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{id: 1, hub: h, send: make(chan streaming.Envelope, 1), logger: slog.Default()}
	h.Register <- slow
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// First fills the queue, second overflows it.
	h.Broadcast(mustEnvelope(t, streaming.TypeSectionHit, "CT"))
	h.Broadcast(mustEnvelope(t, streaming.TypeSectionHit, "EMA"))

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// The channel was closed by the hub, remaining messages then EOF.
	<-slow.send
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestHubSnapshotOnRegister(t *testing.T) {
	snapshot := func() []streaming.Envelope {
		return []streaming.Envelope{
			{Type: streaming.TypeStatus, Payload: json.RawMessage(`{}`)},
			{Type: streaming.TypeOrigin, Payload: json.RawMessage(`{"lat":41.7,"lon":-72.7}`)},
		}
	}
	h := NewHub(slog.Default(), snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &Client{id: 1, hub: h, send: make(chan streaming.Envelope, 8), logger: slog.Default()}
	h.Register <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Broadcast(mustEnvelope(t, streaming.TypeSectionHit, "CT"))

	// Snapshot arrives before any live message.
	var types []string
	for i := 0; i < 3; i++ {
		select {
		case env := <-c.send:
			types = append(types, env.Type)
		case <-time.After(time.Second):
			t.Fatal("missing message")
		}
	}
	assert.Equal(t, []string{streaming.TypeStatus, streaming.TypeOrigin, streaming.TypeSectionHit}, types)
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHub(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	c := &Client{id: 1, hub: h, send: make(chan streaming.Envelope, 8), logger: slog.Default()}
	h.Register <- c
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Zero(t, h.ClientCount())

	_, ok := <-c.send
	assert.False(t, ok)
}

func TestServeWSEndToEnd(t *testing.T) {
	snapshot := func() []streaming.Envelope {
		return []streaming.Envelope{{Type: streaming.TypeStatus, Payload: json.RawMessage(`{"connected":true}`)}}
	}
	h := NewHub(slog.Default(), snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(ServeWS(h, slog.Default())))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Snapshot first.
	var env streaming.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, streaming.TypeStatus, env.Type)

	// Then the live stream.
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	h.Broadcast(mustEnvelope(t, streaming.TypeSectionHit, "CT"))

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, streaming.TypeSectionHit, env.Type)

	var section string
	require.NoError(t, json.Unmarshal(env.Payload, &section))
	assert.Equal(t, "CT", section)
}
