// Package state is the single authoritative in-memory model of everything a
// viewer needs: recent contacts, worked regions, station roster, broadcast
// messages, operators, and connection health. One writer (the protocol
// session) mutates it in frame order; the HTTP layer and the fan-out hub
// read from it.
package state

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contestmap/contestmap/internal/geo"
	"github.com/contestmap/contestmap/internal/metrics"
	"github.com/contestmap/contestmap/internal/parser"
	"github.com/contestmap/contestmap/internal/util"
	"github.com/contestmap/contestmap/pkg/core"
	"github.com/contestmap/contestmap/pkg/streaming"
)

const (
	defaultContactCap = 150
	defaultMessageCap = 75
	defaultRawCap     = 100

	// Identical (call, band, mode) within this window is the logging
	// program re-sending, not a second contact.
	defaultDedupeWindow = 2 * time.Second
)

// Config tunes buffer bounds and server-side draw filters.
type Config struct {
	TTLSeconds    int
	ContactCap    int
	MessageCap    int
	RawCap        int
	DedupeWindow  time.Duration
	BandFilter    map[string]struct{}
	ModeFilter    map[string]struct{}
	WFDMode       bool
	PreferSection bool
}

// Notifier receives every state-mutation broadcast, in mutation order.
type Notifier func(streaming.Envelope)

type dedupeKey struct {
	call string
	band string
	mode string
}

// Store holds the live contest state. All exported methods are safe for
// concurrent use; mutations are serialized by the caller being a single
// goroutine, reads may come from anywhere.
type Store struct {
	logger *slog.Logger
	cfg    Config

	mu sync.RWMutex

	nextContactID uint64
	nextMessageID uint64

	contacts []core.Contact // ascending by Time
	messages []core.BroadcastMessage
	raw      []string

	origin    core.GeoPoint
	originSet bool

	stations  map[string]core.StationOrigin
	operators map[string]struct{}
	sections  map[string]struct{}
	countries map[string]struct{}

	conn core.ConnectionStatus

	recentDraw map[dedupeKey]time.Time

	// contacts waiting on a callsign lookup, by canonical call
	pending     map[string][]uint64
	lookupCache map[string]core.GeoPoint

	notify Notifier
	now    func() time.Time
}

// New creates a Store with bounds from cfg, falling back to defaults for
// zero values.
func New(logger *slog.Logger, cfg Config) *Store {
	if cfg.ContactCap <= 0 {
		cfg.ContactCap = defaultContactCap
	}
	if cfg.MessageCap <= 0 {
		cfg.MessageCap = defaultMessageCap
	}
	if cfg.RawCap <= 0 {
		cfg.RawCap = defaultRawCap
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = defaultDedupeWindow
	}
	return &Store{
		logger:      logger,
		cfg:         cfg,
		stations:    make(map[string]core.StationOrigin),
		operators:   make(map[string]struct{}),
		sections:    make(map[string]struct{}),
		countries:   make(map[string]struct{}),
		recentDraw:  make(map[dedupeKey]time.Time),
		pending:     make(map[string][]uint64),
		lookupCache: make(map[string]core.GeoPoint),
		now:         time.Now,
	}
}

// SetNotifier wires the fan-out hub. Must be called before ingestion starts.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = n
}

// publish marshals and hands one message to the hub. Called with s.mu held
// so broadcasts leave in mutation order; the hub must not block.
func (s *Store) publish(msgType string, payload any) {
	if s.notify == nil {
		return
	}
	env, err := streaming.Marshal(msgType, payload)
	if err != nil {
		s.logger.Error("marshaling broadcast failed", "type", msgType, "error", err)
		return
	}
	s.notify(env)
}

// RecordRaw appends one raw frame to the bounded diagnostic buffer.
func (s *Store) RecordRaw(rec string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, rec)
	if len(s.raw) > s.cfg.RawCap {
		s.raw = s.raw[len(s.raw)-s.cfg.RawCap:]
	}
}

// ApplyVersion records the upstream protocol version.
func (s *Store) ApplyVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Version = version
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// ApplyProgram records the logging program's identity.
func (s *Store) ApplyProgram(program, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Program = strings.TrimSpace(program + " " + version)
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// ApplyOrigin updates the primary station origin.
func (s *Store) ApplyOrigin(pt core.GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pt.Grid == "" {
		pt.Grid = geo.GridFromLatLon(pt.Lat, pt.Lon)
	}
	s.origin = pt
	s.originSet = true
	s.publish(streaming.TypeOrigin, pt)
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// Origin returns the current primary origin and whether one is known.
func (s *Store) Origin() (core.GeoPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin, s.originSet
}

// ApplyContact runs a normalized contact through filters and dedupe, inserts
// it, marks worked regions, and broadcasts. Returns the stored contact and
// whether the caller should queue a callsign lookup for its destination.
func (s *Store) ApplyContact(ev parser.ContactEvent) (core.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.passesFilterLocked(ev.Meta) {
		metrics.FramesDroppedTotal.WithLabelValues("filtered").Inc()
		return core.Contact{}, false
	}
	if s.isDuplicateLocked(ev.Meta) {
		metrics.FramesDroppedTotal.WithLabelValues("duplicate").Inc()
		return core.Contact{}, false
	}

	needsLookup := ev.NeedsLookup
	if needsLookup {
		if cached, ok := s.lookupCache[ev.Meta.Call]; ok {
			ev.To = cached
			ev.HasDest = true
			needsLookup = false
		}
	}

	s.nextContactID++
	c := core.Contact{
		ID:         s.nextContactID,
		Time:       ev.Time,
		From:       s.origin,
		To:         ev.To,
		Meta:       ev.Meta,
		TTLSeconds: s.cfg.TTLSeconds,
	}
	if c.Time.IsZero() {
		c.Time = s.now()
	}
	s.insertContactLocked(c)

	if needsLookup {
		s.pending[c.Meta.Call] = append(s.pending[c.Meta.Call], c.ID)
	}

	now := s.now()
	s.conn.LastEvent = &now

	if c.Meta.Operator != "" {
		if _, seen := s.operators[c.Meta.Operator]; !seen {
			s.operators[c.Meta.Operator] = struct{}{}
			s.publish(streaming.TypeOperators, sortedKeys(s.operators))
		}
	}

	if ev.HasDest && s.originSet {
		metrics.PathsDrawnTotal.Inc()
		s.publish(streaming.TypePath, c)
	}

	if c.Meta.Section != "" {
		if _, worked := s.sections[c.Meta.Section]; !worked {
			s.sections[c.Meta.Section] = struct{}{}
			metrics.SectionsWorked.Set(float64(len(s.sections)))
			s.publish(streaming.TypeSectionHit, c.Meta.Section)
			s.publish(streaming.TypeSectionsWorked, sortedKeys(s.sections))
		}
	}
	if c.Meta.Country != "" {
		if _, worked := s.countries[c.Meta.Country]; !worked {
			s.countries[c.Meta.Country] = struct{}{}
			metrics.CountriesWorked.Set(float64(len(s.countries)))
			s.publish(streaming.TypeCountryHit, c.Meta.Country)
			s.publish(streaming.TypeCountriesWorked, sortedKeys(s.countries))
		}
	}

	s.publish(streaming.TypeStatus, s.statusLocked())
	return c, needsLookup
}

func (s *Store) passesFilterLocked(meta core.ContactMeta) bool {
	if len(s.cfg.BandFilter) > 0 && meta.Band != "" {
		if _, ok := s.cfg.BandFilter[meta.Band]; !ok {
			return false
		}
	}
	if len(s.cfg.ModeFilter) > 0 && meta.Mode != "" {
		if _, ok := s.cfg.ModeFilter[meta.Mode]; !ok {
			return false
		}
	}
	return true
}

func (s *Store) isDuplicateLocked(meta core.ContactMeta) bool {
	now := s.now()
	key := dedupeKey{call: meta.Call, band: meta.Band, mode: meta.Mode}

	for k, ts := range s.recentDraw {
		if now.Sub(ts) > s.cfg.DedupeWindow {
			delete(s.recentDraw, k)
		}
	}
	if ts, ok := s.recentDraw[key]; ok && now.Sub(ts) < s.cfg.DedupeWindow {
		return true
	}
	s.recentDraw[key] = now
	return false
}

// insertContactLocked keeps the buffer ascending by Time and evicts the
// oldest-by-timestamp entry when over cap. Sorting by time rather than
// insertion order tolerates out-of-order delivery.
func (s *Store) insertContactLocked(c core.Contact) {
	i := sort.Search(len(s.contacts), func(i int) bool {
		return s.contacts[i].Time.After(c.Time)
	})
	s.contacts = append(s.contacts, core.Contact{})
	copy(s.contacts[i+1:], s.contacts[i:])
	s.contacts[i] = c

	if len(s.contacts) > s.cfg.ContactCap {
		s.contacts = s.contacts[len(s.contacts)-s.cfg.ContactCap:]
	}
}

// ApplyStation upserts one named station. The key is the canonicalized
// name, so "Run 1" and "run 1" are the same physical station. Known fields
// survive a sighting that omits them; sources accumulate.
func (s *Store) ApplyStation(st core.StationOrigin, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := util.CanonicalStation(st.Name)
	if key == "" {
		return
	}

	cur, exists := s.stations[key]
	if !exists {
		cur = core.StationOrigin{Name: st.Name}
	}
	if st.Operator != "" {
		cur.Operator = st.Operator
	}
	if st.Band != "" {
		cur.Band = st.Band
	}
	if st.Mode != "" {
		cur.Mode = st.Mode
	}
	if st.Status != "" {
		cur.Status = st.Status
	}
	if st.Point.Valid() || st.Point.Grid != "" {
		cur.Point = st.Point
	}
	if source != "" && !contains(cur.Sources, source) {
		cur.Sources = append(cur.Sources, source)
		sort.Strings(cur.Sources)
	}
	s.stations[key] = cur

	s.publish(streaming.TypeStationOrigin, cur)
}

// ReplaceStations swaps the whole roster, for sources that send a complete
// list rather than deltas.
func (s *Store) ReplaceStations(list []core.StationOrigin, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stations = make(map[string]core.StationOrigin, len(list))
	for _, st := range list {
		key := util.CanonicalStation(st.Name)
		if key == "" {
			continue
		}
		if source != "" && !contains(st.Sources, source) {
			st.Sources = append(st.Sources, source)
		}
		s.stations[key] = st
	}
	s.publish(streaming.TypeStationOrigins, s.stationsLocked())
}

// ApplyMessage appends one broadcast chat message.
func (s *Store) ApplyMessage(m core.BroadcastMessage) core.BroadcastMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMessageID++
	m.ID = s.nextMessageID
	if m.Time.IsZero() {
		m.Time = s.now()
	}

	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Time.After(m.Time)
	})
	s.messages = append(s.messages, core.BroadcastMessage{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m

	if len(s.messages) > s.cfg.MessageCap {
		s.messages = s.messages[len(s.messages)-s.cfg.MessageCap:]
	}

	s.publish(streaming.TypeMessage, m)
	return m
}

// ApplyLookupResult resolves every contact waiting on this callsign and
// re-broadcasts their corrected destinations as path updates. The result is
// cached so later contacts with the same call resolve immediately.
func (s *Store) ApplyLookupResult(call string, to core.GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call = util.CanonicalCall(call)
	if call == "" || !to.Valid() {
		return
	}
	s.lookupCache[call] = to

	ids := s.pending[call]
	delete(s.pending, call)
	for _, id := range ids {
		for i := range s.contacts {
			if s.contacts[i].ID != id {
				continue
			}
			s.contacts[i].To = to
			metrics.PathsDrawnTotal.Inc()
			s.publish(streaming.TypePathUpdate, streaming.PathUpdatePayload{ID: id, To: to})
			break
		}
	}
}

// SetConnected marks the upstream session up and clears the last error.
func (s *Store) SetConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.conn.Connected = true
	s.conn.LastConnect = &now
	s.conn.LastError = ""
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// SetDisconnected marks the session down with the terminating error.
func (s *Store) SetDisconnected(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.conn.Connected = false
	s.conn.LastDisconnect = &now
	if err != nil {
		s.conn.LastError = err.Error()
	}
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// SetEnrichment records the lookup client's health for the status surface.
func (s *Store) SetEnrichment(es core.EnrichmentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Enrichment = es
	s.publish(streaming.TypeStatus, s.statusLocked())
}

// Status returns the payload served on /status and pushed as "status".
func (s *Store) Status() streaming.StatusPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Store) statusLocked() streaming.StatusPayload {
	p := streaming.StatusPayload{
		ConnectionStatus: s.conn,
		Operators:        sortedKeys(s.operators),
		SectionsWorked:   sortedKeys(s.sections),
		CountriesWorked:  sortedKeys(s.countries),
		TTLSeconds:       s.cfg.TTLSeconds,
		WFDMode:          s.cfg.WFDMode,
		PreferSection:    s.cfg.PreferSection,
	}
	if s.originSet {
		origin := s.origin
		p.Origin = &origin
	}
	p.Stations = s.stationsLocked()
	return p
}

func (s *Store) stationsLocked() []core.StationOrigin {
	if len(s.stations) == 0 {
		return nil
	}
	keys := sortedKeys(s.stations)
	out := make([]core.StationOrigin, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.stations[k])
	}
	return out
}

// Recent returns the contact and raw-frame buffers, oldest first.
func (s *Store) Recent() streaming.RecentPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return streaming.RecentPayload{
		Contacts: append([]core.Contact(nil), s.contacts...),
		Raw:      append([]string(nil), s.raw...),
	}
}

// Messages returns the broadcast message buffer, oldest first.
func (s *Store) Messages() streaming.MessagesPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return streaming.MessagesPayload{
		Messages: append([]core.BroadcastMessage(nil), s.messages...),
	}
}

// Snapshot builds the ordered message sequence a late-joining viewer needs
// to converge with live ones. Re-applying any of it is idempotent on the
// viewer side.
func (s *Store) Snapshot() []streaming.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []streaming.Envelope
	add := func(msgType string, payload any) {
		env, err := streaming.Marshal(msgType, payload)
		if err != nil {
			s.logger.Error("marshaling snapshot failed", "type", msgType, "error", err)
			return
		}
		out = append(out, env)
	}

	add(streaming.TypeStatus, s.statusLocked())
	if s.originSet {
		add(streaming.TypeOrigin, s.origin)
	}
	if len(s.stations) > 0 {
		add(streaming.TypeStationOrigins, s.stationsLocked())
	}
	if len(s.operators) > 0 {
		add(streaming.TypeOperators, sortedKeys(s.operators))
	}
	if len(s.sections) > 0 {
		add(streaming.TypeSectionsWorked, sortedKeys(s.sections))
	}
	if len(s.countries) > 0 {
		add(streaming.TypeCountriesWorked, sortedKeys(s.countries))
	}
	for _, c := range s.contacts {
		if c.To.Valid() {
			add(streaming.TypePath, c)
		}
	}
	for _, m := range s.messages {
		add(streaming.TypeMessage, m)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
