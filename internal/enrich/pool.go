package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/contestmap/contestmap/internal/metrics"
	"github.com/contestmap/contestmap/internal/queue"
	"github.com/contestmap/contestmap/internal/util"
	"github.com/contestmap/contestmap/pkg/core"
)

// Sink receives lookup outcomes. Satisfied by the state store.
type Sink interface {
	ApplyLookupResult(call string, to core.GeoPoint)
	SetEnrichment(es core.EnrichmentStatus)
}

// Pool drains queued callsign lookups with a small fixed set of workers so
// a slow service can never stall contact broadcast.
type Pool struct {
	logger  *slog.Logger
	client  *Client
	sink    Sink
	workers int

	pending  *queue.Queue[string]
	wake     chan struct{}
	inflight map[string]struct{}
	mu       sync.Mutex
}

// NewPool creates a worker pool over the lookup client.
func NewPool(logger *slog.Logger, client *Client, sink Sink, workers int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	return &Pool{
		logger:   logger,
		client:   client,
		sink:     sink,
		workers:  workers,
		pending:  queue.New[string](),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
	}
}

// Start launches the workers and reports the initial service status. It
// returns immediately; workers stop when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	if !p.client.Configured() {
		p.sink.SetEnrichment(core.EnrichmentStatus{
			Configured: false,
			State:      core.EnrichmentNotConfigured,
		})
		return
	}
	p.sink.SetEnrichment(core.EnrichmentStatus{
		Configured: true,
		State:      core.EnrichmentOK,
	})

	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Enqueue schedules a lookup. Duplicate calls already queued or in flight
// are coalesced. No-op when the service is not configured.
func (p *Pool) Enqueue(call string) {
	if !p.client.Configured() {
		return
	}
	call = util.CanonicalCall(call)
	if call == "" {
		return
	}

	p.mu.Lock()
	if _, dup := p.inflight[call]; dup {
		p.mu.Unlock()
		return
	}
	p.inflight[call] = struct{}{}
	p.mu.Unlock()

	p.pending.Push(call)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued lookups.
func (p *Pool) Len() int {
	return p.pending.Len()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}

		for {
			call, ok := p.pending.PopOK()
			if !ok {
				break
			}
			p.lookup(ctx, call)

			// More work may remain for the other workers.
			select {
			case p.wake <- struct{}{}:
			default:
			}
		}
	}
}

func (p *Pool) lookup(ctx context.Context, call string) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, call)
		p.mu.Unlock()
	}()

	lookupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := p.client.Lookup(lookupCtx, call)
	switch {
	case err == nil:
		metrics.EnrichmentLookupsTotal.WithLabelValues("ok").Inc()
		p.sink.ApplyLookupResult(call, result.Point)
		p.sink.SetEnrichment(core.EnrichmentStatus{
			Configured: true,
			State:      core.EnrichmentOK,
			LastResult: call,
		})
	case errors.Is(err, ErrAuthFailed):
		metrics.EnrichmentLookupsTotal.WithLabelValues("auth_failed").Inc()
		p.logger.Warn("enrichment credentials rejected", "call", call)
		p.sink.SetEnrichment(core.EnrichmentStatus{
			Configured: true,
			State:      core.EnrichmentAuthFailed,
			LastResult: err.Error(),
		})
	default:
		metrics.EnrichmentLookupsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("enrichment lookup failed", "call", call, "error", err)
		p.sink.SetEnrichment(core.EnrichmentStatus{
			Configured: true,
			State:      core.EnrichmentError,
			LastResult: err.Error(),
		})
	}
}
