// Package metrics holds the Prometheus instruments for the ingestion
// pipeline and viewer fan-out, exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesParsedTotal counts complete frames recovered from the upstream
	// byte stream, recognized or not.
	FramesParsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestmap_frames_parsed_total",
			Help: "Total protocol frames recovered from the upstream stream",
		},
	)

	// FramesDroppedTotal counts frames that were recognized but discarded,
	// by reason (malformed, filtered, duplicate).
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestmap_frames_dropped_total",
			Help: "Total recognized frames discarded before reaching state",
		},
		[]string{"reason"},
	)

	// PathsDrawnTotal counts contact paths broadcast to viewers.
	PathsDrawnTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestmap_paths_drawn_total",
			Help: "Total contact paths broadcast to viewers",
		},
	)

	// WSClients tracks currently connected viewer channels.
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contestmap_ws_clients",
			Help: "Currently connected websocket viewers",
		},
	)

	// WSMessagesDroppedTotal counts fan-out messages dropped because a
	// viewer's outbound queue was full.
	WSMessagesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestmap_ws_messages_dropped_total",
			Help: "Broadcast messages dropped on slow viewer channels",
		},
	)

	// SectionsWorked tracks the size of the worked-section set.
	SectionsWorked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contestmap_sections_worked",
			Help: "Distinct sections worked this connection epoch",
		},
	)

	// CountriesWorked tracks the size of the worked-country set.
	CountriesWorked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contestmap_countries_worked",
			Help: "Distinct countries worked this connection epoch",
		},
	)

	// EnrichmentLookupsTotal counts callsign lookups by outcome.
	EnrichmentLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contestmap_enrichment_lookups_total",
			Help: "Callsign enrichment lookups by outcome",
		},
		[]string{"outcome"},
	)

	// ReconnectsTotal counts upstream reconnect attempts.
	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contestmap_upstream_reconnects_total",
			Help: "Reconnect attempts to the logging program",
		},
	)
)
