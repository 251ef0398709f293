// pkg/core/contact.go
package core

import "time"

// ContactMeta is the descriptive metadata attached to a logged contact.
type ContactMeta struct {
	Call     string `json:"call"`
	Band     string `json:"band"`
	Mode     string `json:"mode"`
	Operator string `json:"operator,omitempty"`
	Section  string `json:"section,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Contact is one logged radio exchange. Immutable once created; the only
// later change is a coordinate correction delivered as a separate
// path_update message, never an in-place mutation.
type Contact struct {
	ID   uint64      `json:"id"`
	Time time.Time   `json:"time"`
	From GeoPoint    `json:"from"`
	To   GeoPoint    `json:"to"`
	Meta ContactMeta `json:"meta"`
	// TTLSeconds tells viewers how long the derived visual object lives.
	TTLSeconds int `json:"ttl"`
}

// StationOrigin is the geocoordinate of a named logging station in a
// multi-station deployment. Key is the canonicalized station name.
type StationOrigin struct {
	Name     string   `json:"name"`
	Operator string   `json:"operator,omitempty"`
	Point    GeoPoint `json:"point"`
	Band     string   `json:"band,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	Status   string   `json:"status,omitempty"`
	Sources  []string `json:"sources,omitempty"`
}

// BroadcastMessage is an unaddressed chat message from the logging program.
type BroadcastMessage struct {
	ID     uint64    `json:"id"`
	Sender string    `json:"sender"`
	Time   time.Time `json:"time"`
	// SentAt is the free-text time string from the wire, kept verbatim
	// because some logging programs send "14:02z" rather than a timestamp.
	SentAt string `json:"sentAt,omitempty"`
	Body   string `json:"body"`
}
