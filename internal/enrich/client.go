// Package enrich resolves callsigns to coordinates through an external
// lookup service. Lookups are asynchronous and best-effort: a contact is
// broadcast immediately with what is known, and a successful lookup later
// emits a correction. Failures degrade to "no enrichment", never into
// pipeline errors.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/contestmap/contestmap/internal/geo"
	"github.com/contestmap/contestmap/pkg/core"
)

// ErrAuthFailed distinguishes rejected credentials from transient failures;
// the two surface differently in ConnectionStatus.
var ErrAuthFailed = errors.New("enrichment service rejected credentials")

// Result is the service's best knowledge of a callsign's location.
type Result struct {
	Call    string        `json:"call"`
	Lat     float64       `json:"lat"`
	Lon     float64       `json:"lon"`
	Grid    string        `json:"grid,omitempty"`
	Country string        `json:"country,omitempty"`
	Point   core.GeoPoint `json:"-"`
}

// Client queries the callsign lookup service.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// New creates a lookup client. An empty baseURL means enrichment is not
// configured; Configured reports this and Lookup refuses to run.
func New(baseURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a service URL was supplied.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Lookup requests location data for one callsign.
func (c *Client) Lookup(ctx context.Context, call string) (Result, error) {
	var result Result

	if !c.Configured() {
		return result, errors.New("enrichment not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/lookup?call="+url.QueryEscape(call), nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return result, ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		return result, fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("failed to decode lookup response: %w", err)
	}

	result.Point = core.GeoPoint{Lat: result.Lat, Lon: result.Lon, Grid: strings.ToUpper(result.Grid)}
	if !result.Point.Valid() && result.Grid != "" {
		// Some services answer with only a grid square.
		if pt, err := geo.LatLonFromGrid(result.Grid); err == nil {
			result.Point = pt
		}
	}
	if !result.Point.Valid() {
		return result, fmt.Errorf("lookup for %s returned no usable location", call)
	}
	if result.Point.Grid == "" {
		result.Point.Grid = geo.GridFromLatLon(result.Point.Lat, result.Point.Lon)
	}
	return result, nil
}
