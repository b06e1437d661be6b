package pipeline

import (
	"context"
	"sync"

	"github.com/refset/desk-routing/internal/routing"
)

// Source is the append-only routing trace the poller reads from.
type Source interface {
	AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error)
}

// Poller reads trace steps past a trace_id checkpoint.
type Poller struct {
	source    Source
	batchSize int

	mu         sync.Mutex
	checkpoint int64
}

// NewPoller creates a poller starting from the beginning of the trail.
func NewPoller(source Source, batchSize int) *Poller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		source:    source,
		batchSize: batchSize,
	}
}

// Poll fetches the next batch after the checkpoint. It does not advance the
// checkpoint; call Ack for each event once it has been delivered.
func (p *Poller) Poll(ctx context.Context) ([]routing.AuditEvent, error) {
	return p.source.AuditEventsAfter(ctx, p.Checkpoint(), p.batchSize)
}

// Ack moves the checkpoint past ev.
func (p *Poller) Ack(ev routing.AuditEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.Trace.ID > p.checkpoint {
		p.checkpoint = ev.Trace.ID
	}
}

// SetCheckpoint sets the polling checkpoint
func (p *Poller) SetCheckpoint(traceID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkpoint = traceID
}

// Checkpoint returns the id of the last delivered trace step.
func (p *Poller) Checkpoint() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkpoint
}
