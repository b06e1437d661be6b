package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/refset/desk-routing/internal/routing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu     sync.Mutex
	events []routing.AuditEvent
}

func (s *fakeSource) add(ref string, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.events = append(s.events, routing.AuditEvent{
			Trace:  routing.TraceStep{ID: id, Node: "n"},
			Ticket: routing.TicketSummary{Ref: ref},
		})
	}
}

func (s *fakeSource) AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []routing.AuditEvent
	for _, ev := range s.events {
		if ev.Trace.ID > afterID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu        sync.Mutex
	decisions []DecisionRecord
	tickets   []TicketRecord
	failOn    int64
	closed    bool
}

func (s *fakeSink) SendDecision(ctx context.Context, key string, decision any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := decision.(DecisionRecord)
	if rec.Step.ID == s.failOn {
		s.failOn = 0
		return errors.New("broker unavailable")
	}
	s.decisions = append(s.decisions, rec)
	return nil
}

func (s *fakeSink) SendTicket(ctx context.Context, key string, ticket any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, ticket.(TicketRecord))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) decisionIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, d := range s.decisions {
		ids = append(ids, d.Step.ID)
	}
	return ids
}

func TestPollDrainsAllBatches(t *testing.T) {
	src := &fakeSource{}
	src.add("TCK000001", 1, 2, 3)
	src.add("TCK000002", 4, 5)
	sink := &fakeSink{}
	p := New(src, sink, time.Hour, 2, nil)

	require.NoError(t, p.poll(context.Background()))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.decisionIDs())
	assert.Equal(t, int64(5), p.Poller().Checkpoint())
	assert.Equal(t, "TCK000002", sink.decisions[4].TicketRef)
	assert.Equal(t, int64(5), sink.tickets[4].AsOfTrace)
}

func TestPollStopsAtFailureAndRetries(t *testing.T) {
	src := &fakeSource{}
	src.add("TCK000001", 1, 2, 3)
	sink := &fakeSink{failOn: 2}
	p := New(src, sink, time.Hour, 10, nil)

	assert.Error(t, p.poll(context.Background()))
	assert.Equal(t, int64(1), p.Poller().Checkpoint())

	require.NoError(t, p.poll(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, sink.decisionIDs())
}

func TestEventIDsAreStable(t *testing.T) {
	src := &fakeSource{}
	src.add("TCK000001", 7)

	first, second := &fakeSink{}, &fakeSink{}
	require.NoError(t, New(src, first, time.Hour, 10, nil).poll(context.Background()))
	require.NoError(t, New(src, second, time.Hour, 10, nil).poll(context.Background()))

	assert.Equal(t, first.decisions[0].EventID, second.decisions[0].EventID)
	assert.NotEqual(t, first.decisions[0].EventID, first.tickets[0].EventID)
}

func TestRunRelaysUntilCancelled(t *testing.T) {
	src := &fakeSource{}
	src.add("TCK000001", 1)
	sink := &fakeSink{}
	p := New(src, sink, 10*time.Millisecond, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.decisionIDs()) == 1 }, time.Second, 5*time.Millisecond)
	src.add("TCK000002", 2)
	require.Eventually(t, func() bool { return len(sink.decisionIDs()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, sink.closed)
}
