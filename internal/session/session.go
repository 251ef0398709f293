// Package session maintains the TCP connection to the contest logging
// program: handshake, heartbeat, frame scanning, and reconnection with
// backoff. Scanned frames are routed through the dispatcher to handlers
// that apply them to the live state store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/contestmap/contestmap/internal/dispatcher"
	"github.com/contestmap/contestmap/internal/frame"
	"github.com/contestmap/contestmap/internal/metrics"
	"github.com/contestmap/contestmap/internal/parser"
	"github.com/contestmap/contestmap/internal/state"
	"github.com/contestmap/contestmap/pkg/core"
)

// Commands sent upstream. The logging program expects CRLF line endings.
const (
	cmdAPIVer         = "<CMD><APIVER></CMD>"
	cmdProgram        = "<CMD><PROGRAM></CMD>"
	cmdSetUpdateState = "<CMD><SETUPDATESTATE><VALUE>TRUE</VALUE></CMD>"
	cmdOpInfo         = "<CMD><OPINFO></CMD>"
)

// recognizedCommands are the frame commands with registered handlers, in no
// particular order. Anything else is recorded raw and otherwise ignored.
var recognizedCommands = []string{
	"APIVERRESPONSE",
	"PROGRAMRESPONSE",
	"OPINFORESPONSE",
	"ENTEREVENT",
	"COUNTRYLISTLOOKUPRESPONSE",
	"STATIONSTATUS",
	"MESSAGEEVENT",
}

// archiveCommand routes contact archive writes through the dispatcher.
// It is dispatched internally only and never read off the wire.
const archiveCommand = "archive.contact"

const archiveQueueSize = 64

const initialBackoff = time.Second

var errNotConnected = errors.New("not connected")

// Lookups schedules asynchronous callsign resolution. Satisfied by the
// enrichment pool.
type Lookups interface {
	Enqueue(call string)
}

// Archiver persists contacts and connection lifecycle events for
// after-action review. Satisfied by the influx manager.
type Archiver interface {
	WriteContact(ctx context.Context, c core.Contact) error
	WriteSessionEvent(ctx context.Context, kind, detail string) error
}

// Config holds the connection parameters.
type Config struct {
	// Addr is the logging program's TCP endpoint.
	Addr string
	// HeartbeatInterval is how often a version query is sent to keep the
	// connection alive. The connection is considered stale when no frame
	// arrives within three intervals.
	HeartbeatInterval time.Duration
	// MaxBackoff caps the exponential reconnect delay.
	MaxBackoff time.Duration
}

// Session owns one upstream connection at a time and reconnects forever
// until its context is canceled.
type Session struct {
	logger   *slog.Logger
	cfg      Config
	parser   *parser.Parser
	store    *state.Store
	lookups  Lookups
	archiver Archiver
	dispatch *dispatcher.Dispatcher
	scanner  *frame.Scanner

	// writeMu serializes heartbeat writes with the read loop's origin
	// refresh requests, and guards the current connection.
	writeMu sync.Mutex
	conn    net.Conn
}

// New creates a session. lookups and archiver may be nil when enrichment or
// archiving is disabled.
func New(logger *slog.Logger, cfg Config, p *parser.Parser, store *state.Store, lookups Lookups, archiver Archiver) (*Session, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	s := &Session{
		logger:   logger,
		cfg:      cfg,
		parser:   p,
		store:    store,
		lookups:  lookups,
		archiver: archiver,
		dispatch: d,
		scanner:  frame.NewScanner(),
	}
	// Frame handlers stay unbuffered: state mutations must land in frame
	// order.
	for _, cmd := range recognizedCommands {
		s.dispatch.Register(cmd, s.handleEvent)
	}
	// Archiving is a side channel. It runs behind a buffer so a slow
	// archive target cannot stall the read loop; when the buffer fills
	// the write is dropped and counted.
	if archiver != nil {
		s.dispatch.Register(archiveCommand, s.handleArchive, dispatcher.Buffered(archiveQueueSize))
	}
	return s, nil
}

// Run connects, serves the connection until it fails, and reconnects with
// exponential backoff. It returns only when ctx is canceled.
func (s *Session) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// A clean epoch resets the backoff.
			backoff = initialBackoff
		}
		s.store.SetDisconnected(err)
		metrics.ReconnectsTotal.Inc()
		if s.archiver != nil {
			detail := ""
			if err != nil {
				detail = err.Error()
			}
			s.archiver.WriteSessionEvent(ctx, "disconnected", detail)
		}
		s.logger.Warn("upstream connection lost",
			"addr", s.cfg.Addr, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// runOnce serves a single connection epoch. A nil error means at least one
// frame was received before the connection closed.
func (s *Session) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.Addr, err)
	}
	defer conn.Close()
	s.setConn(conn)
	defer s.setConn(nil)

	// Unblock the read loop when the context is canceled.
	epochDone := make(chan struct{})
	defer close(epochDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-epochDone:
		}
	}()

	s.scanner.Reset()
	s.store.SetConnected()
	if s.archiver != nil {
		s.archiver.WriteSessionEvent(ctx, "connected", s.cfg.Addr)
	}
	s.logger.Info("connected to logging program", "addr", s.cfg.Addr)

	for _, cmd := range []string{cmdAPIVer, cmdProgram, cmdSetUpdateState, cmdOpInfo} {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}

	go s.heartbeat(ctx, epochDone)

	staleAfter := 3 * s.cfg.HeartbeatInterval
	sawFrames := false
	buf := make([]byte, 4096)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(staleAfter)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return fmt.Errorf("no frames for %s, connection stale", staleAfter)
			}
			if sawFrames {
				return nil
			}
			return err
		}

		frames, err := s.scanner.Frames(buf[:n])
		for _, rec := range frames {
			sawFrames = true
			s.handleFrame(rec)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) handleFrame(rec string) {
	s.store.RecordRaw(rec)
	metrics.FramesParsedTotal.Inc()

	cmd, ok := frame.CommandOf(rec)
	if !ok || !s.dispatch.HasHandler(cmd) {
		return
	}
	s.dispatch.Dispatch(dispatcher.Event{
		Command:   cmd,
		Frame:     rec,
		Timestamp: time.Now(),
	})
}

// handleEvent is the single handler behind every recognized command. The
// parser decides which domain event the frame carries.
func (s *Session) handleEvent(e dispatcher.Event) (any, error) {
	ev, ok := s.parser.Normalize(e.Frame)
	if !ok {
		return nil, nil
	}

	switch ev := ev.(type) {
	case parser.VersionEvent:
		s.store.ApplyVersion(ev.Version)
	case parser.ProgramEvent:
		s.store.ApplyProgram(ev.Program, ev.Version)
	case parser.OriginEvent:
		s.store.ApplyOrigin(ev.Point)
	case parser.ContactEvent:
		c, needsLookup := s.store.ApplyContact(ev)
		if c.ID == 0 {
			return nil, nil
		}
		if needsLookup && s.lookups != nil {
			s.lookups.Enqueue(c.Meta.Call)
		}
		if s.archiver != nil {
			s.archiveContact(c)
		}
		// The operator may have moved; ask for fresh origin info after
		// every contact.
		if err := s.send(cmdOpInfo); err != nil {
			s.logger.Warn("origin refresh failed", "error", err)
		}
	case parser.StationStatusEvent:
		s.store.ApplyStation(ev.Station, ev.Source)
	case parser.MessageEvent:
		s.store.ApplyMessage(ev.Message)
	case parser.LookupResultEvent:
		s.store.ApplyLookupResult(ev.Call, ev.To)
	}
	return nil, nil
}

// archiveContact hands a contact to the buffered archive handler. The
// contact travels as JSON in the event frame.
func (s *Session) archiveContact(c core.Contact) {
	raw, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn("contact archive failed", "call", c.Meta.Call, "error", err)
		return
	}
	if _, err := s.dispatch.Dispatch(dispatcher.Event{
		Command:   archiveCommand,
		Frame:     string(raw),
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Warn("contact archive dropped", "call", c.Meta.Call, "error", err)
	}
}

func (s *Session) handleArchive(e dispatcher.Event) (any, error) {
	var c core.Contact
	if err := json.Unmarshal([]byte(e.Frame), &c); err != nil {
		return nil, err
	}
	if err := s.archiver.WriteContact(context.Background(), c); err != nil {
		s.logger.Warn("contact archive failed", "call", c.Meta.Call, "error", err)
		return nil, err
	}
	return nil, nil
}

// heartbeat sends periodic version queries so the logging program keeps the
// connection open and the staleness check has traffic to observe.
func (s *Session) heartbeat(ctx context.Context, epochDone <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-epochDone:
			return
		case <-ticker.C:
			if err := s.send(cmdAPIVer); err != nil {
				return
			}
		}
	}
}

func (s *Session) setConn(conn net.Conn) {
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
}

func (s *Session) send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte(cmd + "\r\n"))
	return err
}
