// Package parser normalizes raw protocol frames into typed domain events.
// A frame maps to zero or one event, keyed by the first recognized tag in a
// fixed priority order; everything else is ignored without error because the
// vendor protocol pushes many frames this pipeline has no use for.
package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/contestmap/contestmap/internal/frame"
	"github.com/contestmap/contestmap/internal/geo"
	"github.com/contestmap/contestmap/internal/util"
	"github.com/contestmap/contestmap/pkg/core"
)

// Parser provides pure frame text -> typed event conversion.
// It has no dependencies beyond a logger and the section centroid table.
type Parser struct {
	logger   *slog.Logger
	sections *geo.SectionTable

	// Static config set at creation time
	wfdMode       bool
	preferSection bool
}

// NewParser creates a parser. sections may be nil when no centroid table is
// configured; section-preferred destinations then fall through to the
// literal coordinate.
func NewParser(logger *slog.Logger, sections *geo.SectionTable, wfdMode, preferSection bool) *Parser {
	return &Parser{
		logger:        logger,
		sections:      sections,
		wfdMode:       wfdMode,
		preferSection: preferSection,
	}
}

// Recognized tags in priority order. Some frames nest more than one
// recognizable tag, so the order is part of the contract.
var recognized = []struct {
	tag string
	fn  func(*Parser, string) (Event, bool)
}{
	{"APIVERRESPONSE", (*Parser).normVersion},
	{"PROGRAMRESPONSE", (*Parser).normProgram},
	{"OPINFORESPONSE", (*Parser).normOpInfo},
	{"ENTEREVENT", (*Parser).normContact},
	{"COUNTRYLISTLOOKUPRESPONSE", (*Parser).normLookup},
	{"STATIONSTATUS", (*Parser).normStationStatus},
	{"MESSAGEEVENT", (*Parser).normMessage},
}

// Normalize maps one frame to at most one typed event. Unrecognized and
// malformed frames return ok=false; malformed ones are logged, unrecognized
// ones are not.
func (p *Parser) Normalize(rec string) (Event, bool) {
	recU := strings.ToUpper(rec)
	for _, r := range recognized {
		if strings.Contains(recU, r.tag) {
			return r.fn(p, rec)
		}
	}
	return nil, false
}

func (p *Parser) normVersion(rec string) (Event, bool) {
	v, _ := frame.Tag(rec, "APIVER")
	return VersionEvent{Version: strings.TrimSpace(v)}, true
}

func (p *Parser) normProgram(rec string) (Event, bool) {
	pgm, _ := frame.Tag(rec, "PGM")
	ver, _ := frame.Tag(rec, "VER")
	return ProgramEvent{
		Program: strings.TrimSpace(pgm),
		Version: strings.TrimSpace(ver),
	}, true
}

// normOpInfo extracts the primary station origin. The reply must carry an
// explicit coordinate pair; a grid square alone is carried as annotation but
// never resolved into an origin here.
func (p *Parser) normOpInfo(rec string) (Event, bool) {
	latS, okLat := frame.Tag(rec, "LAT")
	lonS, okLon := frame.FirstTag(rec, "LON", "LONG")
	if !okLat || !okLon {
		return nil, false
	}

	pt, err := p.parsePoint(latS, lonS)
	if err != nil {
		p.logger.Warn("discarding operator info with bad coordinates", "error", err)
		return nil, false
	}
	if grid, ok := frame.Tag(rec, "GRID"); ok && grid != "" {
		pt.Grid = strings.ToUpper(strings.TrimSpace(grid))
	}
	return OriginEvent{Point: pt}, true
}

// normContact maps a logged-contact push event. Destination precedence:
// section centroid when section preference applies, then the literal
// coordinate from the frame, then a deferred callsign lookup.
func (p *Parser) normContact(rec string) (Event, bool) {
	call, _ := frame.Tag(rec, "CALL")
	call = util.CanonicalCall(call)
	if call == "" {
		p.logger.Warn("discarding contact without callsign")
		return nil, false
	}

	mode, _ := frame.FirstTag(rec, "MODE", "MODETEST")
	sect, _ := frame.FirstTag(rec, "SECTION", "ARRL_SECT")
	oper, _ := frame.FirstTag(rec, "OPERATOR", "MYCALL")
	band, _ := frame.Tag(rec, "BAND")
	country, _ := frame.FirstTag(rec, "COUNTRY", "COUNTRYWORKED")

	ev := ContactEvent{
		Time: time.Now(),
		Meta: core.ContactMeta{
			Call:     call,
			Band:     util.CanonicalBand(band),
			Mode:     util.CanonicalMode(mode),
			Operator: util.CanonicalCall(oper),
			Section:  util.CanonicalSection(sect),
			Country:  strings.TrimSpace(country),
		},
	}

	if (p.wfdMode || p.preferSection) && ev.Meta.Section != "" && p.sections != nil {
		if cen, ok := p.sections.Centroid(ev.Meta.Section); ok {
			cen.Grid = geo.GridFromLatLon(cen.Lat, cen.Lon)
			ev.To = cen
			ev.HasDest = true
			ev.FromSection = true
			return ev, true
		}
	}

	latS, okLat := frame.Tag(rec, "LAT")
	lonS, okLon := frame.FirstTag(rec, "LON", "LONG")
	if okLat && okLon {
		if pt, err := p.parsePoint(latS, lonS); err == nil {
			pt.Grid = geo.GridFromLatLon(pt.Lat, pt.Lon)
			ev.To = pt
			ev.HasDest = true
			return ev, true
		} else {
			p.logger.Warn("contact carried unparseable coordinates", "call", call, "error", err)
		}
	}

	ev.NeedsLookup = true
	return ev, true
}

func (p *Parser) normLookup(rec string) (Event, bool) {
	call, _ := frame.Tag(rec, "CALL")
	call = util.CanonicalCall(call)
	latS, okLat := frame.Tag(rec, "LAT")
	lonS, okLon := frame.FirstTag(rec, "LON", "LONG")
	if call == "" || !okLat || !okLon {
		return nil, false
	}
	pt, err := p.parsePoint(latS, lonS)
	if err != nil {
		p.logger.Warn("discarding lookup result with bad coordinates", "call", call, "error", err)
		return nil, false
	}
	pt.Grid = geo.GridFromLatLon(pt.Lat, pt.Lon)
	return LookupResultEvent{Call: call, To: pt}, true
}

// normStationStatus handles both wire shapes of the multi-station roster
// push: tagged XML fields, and the legacy pipe form
// "name|operator|band|mode|status|grid".
func (p *Parser) normStationStatus(rec string) (Event, bool) {
	st, err := p.ParseStationStatus(rec)
	if err != nil {
		p.logger.Warn("discarding station status", "error", err)
		return nil, false
	}
	return StationStatusEvent{Station: st, Source: "status"}, true
}

// ParseStationStatus extracts one station roster entry from a status frame.
func (p *Parser) ParseStationStatus(rec string) (core.StationOrigin, error) {
	body, ok := frame.Tag(rec, "STATIONSTATUS")
	if !ok {
		return core.StationOrigin{}, fmt.Errorf("no STATIONSTATUS payload in frame")
	}
	body = strings.TrimSpace(body)

	if !strings.Contains(body, "<") && strings.Contains(body, "|") {
		return parsePipeStation(body)
	}

	var st core.StationOrigin
	name, ok := frame.Tag(body, "STATIONNAME")
	if !ok || strings.TrimSpace(name) == "" {
		return st, fmt.Errorf("station status without station name")
	}
	st.Name = strings.TrimSpace(name)

	if v, ok := frame.Tag(body, "CALL"); ok {
		st.Operator = util.CanonicalCall(v)
	}
	if v, ok := frame.Tag(body, "BAND"); ok {
		st.Band = util.CanonicalBand(v)
	}
	if v, ok := frame.Tag(body, "MODE"); ok {
		st.Mode = util.CanonicalMode(v)
	}
	if v, ok := frame.Tag(body, "STATUS"); ok {
		st.Status = strings.TrimSpace(v)
	}
	if v, ok := frame.Tag(body, "GRID"); ok {
		st.Point.Grid = strings.ToUpper(strings.TrimSpace(v))
	}

	latS, okLat := frame.Tag(body, "LAT")
	lonS, okLon := frame.FirstTag(body, "LON", "LONG")
	if okLat && okLon {
		pt, err := p.parsePoint(latS, lonS)
		if err != nil {
			return st, fmt.Errorf("station %q: %w", st.Name, err)
		}
		pt.Grid = st.Point.Grid
		st.Point = pt
	} else if st.Point.Grid != "" {
		if pt, err := geo.LatLonFromGrid(st.Point.Grid); err == nil {
			st.Point = pt
		}
	}
	return st, nil
}

func parsePipeStation(body string) (core.StationOrigin, error) {
	parts := strings.Split(body, "|")
	if len(parts) < 6 {
		return core.StationOrigin{}, fmt.Errorf("pipe station status has %d fields, need 6", len(parts))
	}
	st := core.StationOrigin{
		Name:     strings.TrimSpace(parts[0]),
		Operator: util.CanonicalCall(parts[1]),
		Band:     util.CanonicalBand(parts[2]),
		Mode:     util.CanonicalMode(parts[3]),
		Status:   strings.TrimSpace(parts[4]),
	}
	if st.Name == "" {
		return st, fmt.Errorf("pipe station status without station name")
	}
	grid := strings.ToUpper(strings.TrimSpace(parts[5]))
	if grid != "" {
		if pt, err := geo.LatLonFromGrid(grid); err == nil {
			st.Point = pt
		}
		st.Point.Grid = grid
	}
	return st, nil
}

// normMessage keeps only unaddressed chat: a TO field means the message was
// directed at a specific station and is not ours to show.
func (p *Parser) normMessage(rec string) (Event, bool) {
	if to, ok := frame.Tag(rec, "TO"); ok && strings.TrimSpace(to) != "" {
		return nil, false
	}
	body, _ := frame.Tag(rec, "MESSAGE")
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, false
	}
	from, _ := frame.Tag(rec, "FROM")
	sentAt, _ := frame.Tag(rec, "TIME")
	return MessageEvent{
		Message: core.BroadcastMessage{
			Sender: strings.TrimSpace(from),
			Time:   time.Now(),
			SentAt: strings.TrimSpace(sentAt),
			Body:   body,
		},
	}, true
}

func (p *Parser) parsePoint(latS, lonS string) (core.GeoPoint, error) {
	lat, err := geo.ParseLat(latS)
	if err != nil {
		return core.GeoPoint{}, fmt.Errorf("error parsing latitude: %w", err)
	}
	lon, err := geo.ParseLonWestPositive(lonS)
	if err != nil {
		return core.GeoPoint{}, fmt.Errorf("error parsing longitude: %w", err)
	}
	return core.GeoPoint{Lat: lat, Lon: lon}, nil
}
