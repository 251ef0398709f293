package streaming

import (
	json "github.com/goccy/go-json"

	"github.com/contestmap/contestmap/pkg/core"
)

// Message type constants for the viewer push channel. These names are a
// stable contract: the rendering side keys on them, so renaming one is a
// breaking protocol change.
const (
	TypeStatus          = "status"
	TypeOrigin          = "origin"
	TypeStationOrigin   = "station_origin"
	TypeStationOrigins  = "station_origins"
	TypePath            = "path"
	TypePathUpdate      = "path_update"
	TypeMessage         = "message"
	TypeOperators       = "operators"
	TypeSectionHit      = "section_hit"
	TypeSectionsWorked  = "sections_worked"
	TypeCountryHit      = "country_hit"
	TypeCountriesWorked = "countries_worked"
)

// Envelope wraps every message sent over the viewer channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"data"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// StatusPayload mirrors the /status pull endpoint so late joiners converge
// with live viewers.
type StatusPayload struct {
	core.ConnectionStatus
	Origin          *core.GeoPoint       `json:"origin,omitempty"`
	Stations        []core.StationOrigin `json:"stations,omitempty"`
	Operators       []string             `json:"operators"`
	SectionsWorked  []string             `json:"sectionsWorked"`
	CountriesWorked []string             `json:"countriesWorked"`
	TTLSeconds      int                  `json:"ttlSeconds"`
	WFDMode         bool                 `json:"wfdMode"`
	PreferSection   bool                 `json:"preferSection"`
}

// PathUpdatePayload carries an enrichment-sourced coordinate correction for
// an already-broadcast contact.
type PathUpdatePayload struct {
	ID uint64        `json:"id"`
	To core.GeoPoint `json:"to"`
}

// RecentPayload is the /recent pull response.
type RecentPayload struct {
	Contacts []core.Contact `json:"contacts"`
	Raw      []string       `json:"raw,omitempty"`
}

// MessagesPayload is the /messages pull response.
type MessagesPayload struct {
	Messages []core.BroadcastMessage `json:"messages"`
}
