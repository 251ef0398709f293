// Package viewer is the client-side reconciliation engine. It consumes the
// envelope stream (snapshot first, then live), derives time-decaying visual
// objects, and keeps the flat map and the globe showing exactly the same set
// of items under expiry, filtering, and selection.
//
// The engine is single-threaded by contract: Apply, Tick, SetFilter, and
// Select are driven from one loop and never run concurrently.
package viewer

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"

	"github.com/contestmap/contestmap/internal/geo"
	"github.com/contestmap/contestmap/pkg/core"
	"github.com/contestmap/contestmap/pkg/streaming"
)

const defaultTTL = 60 * time.Second

// messageCap bounds the chat backlog a viewer keeps.
const messageCap = 75

// Filter narrows the visible contact set. Empty fields match everything;
// set fields match exactly.
type Filter struct {
	Band     string
	Mode     string
	Operator string
}

// Matches reports whether the contact metadata passes the filter.
func (f Filter) Matches(meta core.ContactMeta) bool {
	if f.Band != "" && f.Band != meta.Band {
		return false
	}
	if f.Mode != "" && f.Mode != meta.Mode {
		return false
	}
	if f.Operator != "" && f.Operator != meta.Operator {
		return false
	}
	return true
}

// Segment is a path projected onto the flat map, EPSG:3857 meters.
type Segment struct {
	FromX, FromY float64
	ToX, ToY     float64
}

// Arc is a path projected onto the globe, unit-sphere endpoints.
type Arc struct {
	From geo.Vector3
	To   geo.Vector3
}

// PathObject is the derived visual object for one contact. Both renderings
// share this one identity and lifetime; only the projected geometry differs.
type PathObject struct {
	Contact core.Contact
	Birth   time.Time
	TTL     time.Duration

	Flat  Segment
	Globe Arc
}

// Expired reports whether the object's own lifetime has elapsed.
func (o *PathObject) Expired(now time.Time) bool {
	return now.Sub(o.Birth) >= o.TTL
}

// Opacity is the display alpha at the given instant: a linear fade from 1
// at birth to 0 at expiry.
func (o *PathObject) Opacity(now time.Time) float64 {
	elapsed := now.Sub(o.Birth)
	if elapsed <= 0 {
		return 1
	}
	if elapsed >= o.TTL {
		return 0
	}
	return 1 - float64(elapsed)/float64(o.TTL)
}

func (o *PathObject) project() {
	from := geo.Mercator3857(o.Contact.From)
	to := geo.Mercator3857(o.Contact.To)
	fx, _ := from.XY()
	tx, _ := to.XY()
	o.Flat = Segment{FromX: fx.X, FromY: fx.Y, ToX: tx.X, ToY: tx.Y}
	o.Globe = Arc{From: geo.Globe(o.Contact.From), To: geo.Globe(o.Contact.To)}
}

// Engine reconciles pushed state into a renderable scene.
type Engine struct {
	now func() time.Time

	objects  map[uint64]*PathObject
	filter   Filter
	selected uint64

	status   streaming.StatusPayload
	origin   *core.GeoPoint
	stations map[string]core.StationOrigin
	// operators is replaced wholesale by roster messages.
	operators []string
	// sections and countries only grow; Reset is the one way back.
	sections  map[string]struct{}
	countries map[string]struct{}

	messages   []core.BroadcastMessage
	messageIDs map[uint64]struct{}
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	e := &Engine{now: time.Now}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.objects = make(map[uint64]*PathObject)
	e.selected = 0
	e.status = streaming.StatusPayload{}
	e.origin = nil
	e.stations = make(map[string]core.StationOrigin)
	e.operators = nil
	e.sections = make(map[string]struct{})
	e.countries = make(map[string]struct{})
	e.messages = nil
	e.messageIDs = make(map[uint64]struct{})
}

// Reset drops all derived state. Called on reconnect, before re-applying
// the fresh snapshot; this is the only way a worked region un-greys.
func (e *Engine) Reset() {
	e.reset()
}

// Apply reconciles one envelope. Re-applying an already-known path or
// message is harmless: identity is keyed, and an existing object keeps its
// original birth time so a snapshot replay never restarts a fade.
func (e *Engine) Apply(env streaming.Envelope) error {
	switch env.Type {
	case streaming.TypeStatus:
		var status streaming.StatusPayload
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.status = status
		if status.Origin != nil {
			e.origin = status.Origin
		}
		for _, st := range status.Stations {
			e.stations[st.Name] = st
		}
		if len(status.Operators) > 0 {
			e.operators = status.Operators
		}
		for _, sec := range status.SectionsWorked {
			e.sections[sec] = struct{}{}
		}
		for _, c := range status.CountriesWorked {
			e.countries[c] = struct{}{}
		}

	case streaming.TypeOrigin:
		var pt core.GeoPoint
		if err := json.Unmarshal(env.Payload, &pt); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.origin = &pt

	case streaming.TypeStationOrigin:
		var st core.StationOrigin
		if err := json.Unmarshal(env.Payload, &st); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.stations[st.Name] = st

	case streaming.TypeStationOrigins:
		var list []core.StationOrigin
		if err := json.Unmarshal(env.Payload, &list); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.stations = make(map[string]core.StationOrigin, len(list))
		for _, st := range list {
			e.stations[st.Name] = st
		}

	case streaming.TypePath:
		var c core.Contact
		if err := json.Unmarshal(env.Payload, &c); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.addPath(c)

	case streaming.TypePathUpdate:
		var upd streaming.PathUpdatePayload
		if err := json.Unmarshal(env.Payload, &upd); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		if obj, ok := e.objects[upd.ID]; ok {
			obj.Contact.To = upd.To
			obj.project()
		}

	case streaming.TypeMessage:
		var m core.BroadcastMessage
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.addMessage(m)

	case streaming.TypeOperators:
		var ops []string
		if err := json.Unmarshal(env.Payload, &ops); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		e.operators = ops

	case streaming.TypeSectionHit, streaming.TypeCountryHit:
		var code string
		if err := json.Unmarshal(env.Payload, &code); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		if env.Type == streaming.TypeSectionHit {
			e.sections[code] = struct{}{}
		} else {
			e.countries[code] = struct{}{}
		}

	case streaming.TypeSectionsWorked, streaming.TypeCountriesWorked:
		var codes []string
		if err := json.Unmarshal(env.Payload, &codes); err != nil {
			return fmt.Errorf("decoding %s: %w", env.Type, err)
		}
		set := e.sections
		if env.Type == streaming.TypeCountriesWorked {
			set = e.countries
		}
		for _, code := range codes {
			set[code] = struct{}{}
		}
	}
	return nil
}

func (e *Engine) addPath(c core.Contact) {
	if existing, ok := e.objects[c.ID]; ok {
		// Snapshot replay of a known contact; keep the original clock.
		existing.Contact = c
		existing.project()
		return
	}

	ttl := time.Duration(c.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	obj := &PathObject{
		Contact: c,
		Birth:   e.now(),
		TTL:     ttl,
	}
	obj.project()
	e.objects[c.ID] = obj
}

func (e *Engine) addMessage(m core.BroadcastMessage) {
	if _, seen := e.messageIDs[m.ID]; seen {
		return
	}
	e.messageIDs[m.ID] = struct{}{}
	e.messages = append(e.messages, m)
	if len(e.messages) > messageCap {
		drop := e.messages[0]
		delete(e.messageIDs, drop.ID)
		e.messages = e.messages[1:]
	}
}

// Tick removes objects whose own lifetime has elapsed. Each object expires
// on its own clock; a tick never batches unrelated removals together beyond
// what their individual birth times dictate.
func (e *Engine) Tick(now time.Time) {
	for id, obj := range e.objects {
		if obj.Expired(now) {
			delete(e.objects, id)
		}
	}
	if e.selected != 0 {
		if _, alive := e.objects[e.selected]; !alive {
			e.selected = 0
		}
	}
}

// SetFilter replaces the active filter and immediately re-evaluates
// visibility. A selection the new filter excludes is cleared.
func (e *Engine) SetFilter(f Filter) {
	e.filter = f
	if e.selected != 0 {
		if obj, ok := e.objects[e.selected]; !ok || !f.Matches(obj.Contact.Meta) {
			e.selected = 0
		}
	}
}

// Filter returns the active filter.
func (e *Engine) Filter() Filter {
	return e.filter
}

// Select pins one contact for emphasis in both renderings. Selection fails
// for unknown, expired, or filtered-out contacts.
func (e *Engine) Select(id uint64) bool {
	obj, ok := e.objects[id]
	if !ok || obj.Expired(e.now()) || !e.filter.Matches(obj.Contact.Meta) {
		return false
	}
	e.selected = id
	return true
}

// Selected returns the pinned contact id, if any.
func (e *Engine) Selected() (uint64, bool) {
	return e.selected, e.selected != 0
}

// Visible returns the live, filter-passing objects ordered by contact id.
// Both renderings draw from this one list, so they can never disagree on
// which items are shown.
func (e *Engine) Visible() []*PathObject {
	now := e.now()
	out := make([]*PathObject, 0, len(e.objects))
	for _, obj := range e.objects {
		if obj.Expired(now) {
			continue
		}
		if !e.filter.Matches(obj.Contact.Meta) {
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Contact.ID < out[j].Contact.ID
	})
	return out
}

// Origin returns the primary station origin, if known.
func (e *Engine) Origin() (core.GeoPoint, bool) {
	if e.origin == nil {
		return core.GeoPoint{}, false
	}
	return *e.origin, true
}

// Stations returns the station roster sorted by name.
func (e *Engine) Stations() []core.StationOrigin {
	names := make([]string, 0, len(e.stations))
	for name := range e.stations {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]core.StationOrigin, 0, len(names))
	for _, name := range names {
		out = append(out, e.stations[name])
	}
	return out
}

// Operators returns the operator roster.
func (e *Engine) Operators() []string {
	return append([]string(nil), e.operators...)
}

// WorkedSections returns the greyed section codes, sorted.
func (e *Engine) WorkedSections() []string {
	return sortedSet(e.sections)
}

// WorkedCountries returns the greyed country names, sorted.
func (e *Engine) WorkedCountries() []string {
	return sortedSet(e.countries)
}

// Messages returns the chat backlog, oldest first.
func (e *Engine) Messages() []core.BroadcastMessage {
	return append([]core.BroadcastMessage(nil), e.messages...)
}

// Status returns the last status payload seen.
func (e *Engine) Status() streaming.StatusPayload {
	return e.status
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
