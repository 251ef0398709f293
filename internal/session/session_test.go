package session

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contestmap/contestmap/internal/parser"
	"github.com/contestmap/contestmap/internal/state"
	"github.com/contestmap/contestmap/pkg/core"
)

type fakeLookups struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeLookups) Enqueue(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeLookups) enqueued() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// startServer runs handler on the first accepted connection and returns the
// listen address.
func startServer(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()
	return ln.Addr().String()
}

func newTestSession(t *testing.T, addr string, lookups Lookups) (*Session, *state.Store) {
	t.Helper()
	logger := slog.Default()
	store := state.New(logger, state.Config{TTLSeconds: 60})
	p := parser.NewParser(logger, nil, false, false)
	s, err := New(logger, Config{
		Addr:              addr,
		HeartbeatInterval: time.Second,
		MaxBackoff:        time.Second,
	}, p, store, lookups, nil)
	require.NoError(t, err)
	return s, store
}

func TestSession_HandshakeOrder(t *testing.T) {
	got := make(chan string, 8)
	addr := startServer(t, func(conn net.Conn) {
		br := bufio.NewReader(conn)
		for i := 0; i < 4; i++ {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			got <- strings.TrimRight(line, "\r\n")
		}
	})

	s, _ := newTestSession(t, addr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runOnce(ctx)

	want := []string{cmdAPIVer, cmdProgram, cmdSetUpdateState, cmdOpInfo}
	for _, w := range want {
		select {
		case line := <-got:
			assert.Equal(t, w, line)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handshake command")
		}
	}
}

func TestSession_DispatchesFrames(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	addr := startServer(t, func(conn net.Conn) {
		go io.Copy(io.Discard, conn)
		conn.Write([]byte("<CMD><APIVERRESPONSE><APIVER>3.2</APIVER></CMD>"))
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>W1AW</CALL><BAND>20</BAND>" +
			"<MODE>PH</MODE><LAT>41.7</LAT><LON>72.7</LON></CMD>"))
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>JA1XYZ</CALL><BAND>15</BAND><MODE>CW</MODE></CMD>"))
		<-hold
	})

	lookups := &fakeLookups{}
	s, store := newTestSession(t, addr, lookups)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runOnce(ctx)

	require.Eventually(t, func() bool {
		return len(store.Recent().Contacts) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "3.2", store.Status().Version)

	contacts := store.Recent().Contacts
	assert.Equal(t, "W1AW", contacts[0].Meta.Call)
	assert.InDelta(t, 41.7, contacts[0].To.Lat, 1e-9)
	assert.InDelta(t, -72.7, contacts[0].To.Lon, 1e-9, "west longitude is negated")

	require.Eventually(t, func() bool {
		return len(lookups.enqueued()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"JA1XYZ"}, lookups.enqueued())
}

func TestSession_ContactTriggersOriginRefresh(t *testing.T) {
	opinfo := make(chan struct{}, 8)
	addr := startServer(t, func(conn net.Conn) {
		go func() {
			br := bufio.NewReader(conn)
			for {
				line, err := br.ReadString('\n')
				if err != nil {
					return
				}
				if strings.Contains(line, "<OPINFO>") {
					opinfo <- struct{}{}
				}
			}
		}()
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>K2DEF</CALL><LAT>40.0</LAT><LON>74.0</LON></CMD>"))
		time.Sleep(2 * time.Second)
	})

	s, _ := newTestSession(t, addr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runOnce(ctx)

	// Once from the handshake, once after the contact.
	for i := 0; i < 2; i++ {
		select {
		case <-opinfo:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for origin query %d", i+1)
		}
	}
}

func TestSession_StaleConnection(t *testing.T) {
	addr := startServer(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})

	s, store := newTestSession(t, addr, nil)
	s.cfg.HeartbeatInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := s.runOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")
	assert.True(t, store.Status().Connected, "runOnce leaves status transitions to Run")
}

type fakeArchiver struct {
	mu       sync.Mutex
	contacts []core.Contact
	events   []string
	// block, when set, stalls WriteContact until it is closed.
	block chan struct{}
}

func (f *fakeArchiver) WriteContact(ctx context.Context, c core.Contact) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
	return nil
}

func (f *fakeArchiver) WriteSessionEvent(ctx context.Context, kind, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeArchiver) archived() []core.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Contact(nil), f.contacts...)
}

func TestSession_ArchivesContacts(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	addr := startServer(t, func(conn net.Conn) {
		go io.Copy(io.Discard, conn)
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>W1AW</CALL><LAT>41.7</LAT><LON>72.7</LON></CMD>"))
		<-hold
	})

	logger := slog.Default()
	store := state.New(logger, state.Config{TTLSeconds: 60})
	archiver := &fakeArchiver{}
	s, err := New(logger, Config{Addr: addr, HeartbeatInterval: time.Second}, parser.NewParser(logger, nil, false, false), store, nil, archiver)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runOnce(ctx)

	require.Eventually(t, func() bool {
		return len(archiver.archived()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "W1AW", archiver.archived()[0].Meta.Call)
}

func TestSession_ArchiveStallDoesNotBlockFrames(t *testing.T) {
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	addr := startServer(t, func(conn net.Conn) {
		go io.Copy(io.Discard, conn)
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>W1AW</CALL><LAT>41.7</LAT><LON>72.7</LON></CMD>"))
		conn.Write([]byte("<CMD><ENTEREVENT><CALL>K2DEF</CALL><LAT>40.0</LAT><LON>74.0</LON></CMD>"))
		<-hold
	})

	logger := slog.Default()
	store := state.New(logger, state.Config{TTLSeconds: 60})
	release := make(chan struct{})
	archiver := &fakeArchiver{block: release}
	s, err := New(logger, Config{Addr: addr, HeartbeatInterval: time.Second}, parser.NewParser(logger, nil, false, false), store, nil, archiver)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runOnce(ctx)

	// Both contacts reach state while the first archive write is still
	// stuck behind the queue.
	require.Eventually(t, func() bool {
		return len(store.Recent().Contacts) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, archiver.archived())

	close(release)
	require.Eventually(t, func() bool {
		return len(archiver.archived()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	s, _ := newTestSession(t, "127.0.0.1:1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
