// pkg/core/status.go
package core

import "time"

// EnrichmentState describes the lookup service's availability.
type EnrichmentState string

const (
	// EnrichmentNotConfigured means no credentials were supplied.
	EnrichmentNotConfigured EnrichmentState = "not_configured"
	// EnrichmentOK means the last lookup succeeded.
	EnrichmentOK EnrichmentState = "ok"
	// EnrichmentAuthFailed means the service rejected our credentials.
	EnrichmentAuthFailed EnrichmentState = "auth_failed"
	// EnrichmentError means the last lookup failed for a non-auth reason.
	EnrichmentError EnrichmentState = "error"
)

// EnrichmentStatus is the observable state of the enrichment client.
type EnrichmentStatus struct {
	Configured bool            `json:"configured"`
	State      EnrichmentState `json:"state"`
	LastResult string          `json:"lastResult,omitempty"`
}

// ConnectionStatus is the live health of the upstream protocol session.
type ConnectionStatus struct {
	Connected      bool             `json:"connected"`
	Program        string           `json:"program,omitempty"`
	Version        string           `json:"apiver,omitempty"`
	LastConnect    *time.Time       `json:"lastConnect,omitempty"`
	LastDisconnect *time.Time       `json:"lastDisconnect,omitempty"`
	LastEvent      *time.Time       `json:"lastEvent,omitempty"`
	LastError      string           `json:"lastError,omitempty"`
	Enrichment     EnrichmentStatus `json:"enrichment"`
}
