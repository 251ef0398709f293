package parser

import (
	"time"

	"github.com/contestmap/contestmap/pkg/core"
)

// Event is the closed set of typed domain events a frame can normalize to.
// A frame maps to zero or one event; unrecognized frames map to none.
type Event interface {
	isEvent()
}

// VersionEvent carries the upstream API version from a version-query reply.
type VersionEvent struct {
	Version string
}

// ProgramEvent identifies the logging program from an identity reply.
type ProgramEvent struct {
	Program string
	Version string
}

// OriginEvent updates the primary station origin. Only emitted when the
// reply carried an explicit latitude/longitude pair; a grid square alone
// does not produce one.
type OriginEvent struct {
	Point core.GeoPoint
}

// ContactEvent is a logged contact. Exactly one of three destination
// outcomes holds: HasDest with a resolved coordinate, NeedsLookup when the
// callsign must go to the enrichment service, or neither when the contact is
// recorded without a drawable path.
type ContactEvent struct {
	Time time.Time
	Meta core.ContactMeta
	To   core.GeoPoint

	HasDest bool
	// FromSection is set when the destination is the worked section's
	// centroid rather than the station's literal coordinate.
	FromSection bool
	NeedsLookup bool
}

// StationStatusEvent upserts one named station in the multi-station roster.
type StationStatusEvent struct {
	Station core.StationOrigin
	// Source labels where this sighting came from, "status" for push
	// frames. Merged into the station's source set on upsert.
	Source string
}

// MessageEvent is an unaddressed broadcast chat message.
type MessageEvent struct {
	Message core.BroadcastMessage
}

// LookupResultEvent is a deferred destination for an earlier contact whose
// coordinate had to be resolved by callsign lookup.
type LookupResultEvent struct {
	Call string
	To   core.GeoPoint
}

func (VersionEvent) isEvent()       {}
func (ProgramEvent) isEvent()       {}
func (OriginEvent) isEvent()        {}
func (ContactEvent) isEvent()       {}
func (StationStatusEvent) isEvent() {}
func (MessageEvent) isEvent()       {}
func (LookupResultEvent) isEvent()  {}
