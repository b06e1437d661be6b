package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "routing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(context.Background(), ds))
	return s
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(context.Background(), ds))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n))
	assert.Equal(t, len(ds.Agents), n)
}

func TestSeedRejectsUnknownDesk(t *testing.T) {
	s := newTestStore(t)
	err := s.Seed(context.Background(), store.Dataset{
		Agents: []store.Agent{{Code: "X1", Name: "X", Email: "x@mvp.demo", Desk: "NOPE", MaxOpen: 3}},
	})
	assert.ErrorIs(t, err, routing.ErrUnknownDesk)
}

func TestClientByEmailIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "  OPS.CL0001@Example-Client.com ")
		require.NoError(t, err)
		assert.Equal(t, "CL0001", c.Code)

		_, err = tx.ClientByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, routing.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestActiveAgentLoadsSkipsInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx routing.Tx) error {
		loads, err := tx.ActiveAgentLoads(ctx)
		require.NoError(t, err)
		for _, l := range loads {
			assert.NotEqual(t, "AGT0010", l.Code)
			assert.Zero(t, l.OpenTickets)
		}
		assert.Len(t, loads, 9)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateTicketAssignsReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	var ref string
	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0001@example-client.com")
		require.NoError(t, err)

		owner := int64(1)
		tk := &routing.Ticket{
			ClientID:       c.ID,
			IntentCode:     "fee_dispute",
			RequesterEmail: c.Email,
			Channel:        "EMAIL",
			Subject:        "Fee question",
			Body:           "Why was I charged?",
			Priority:       routing.PriorityMedium,
			Status:         routing.StatusInProgress,
			PrimaryDeskID:  c.PrimaryDeskID,
			OwnerAgentID:   &owner,
			CreatedAt:      now,
		}
		require.NoError(t, tx.CreateTicket(ctx, tk))
		assert.Equal(t, routing.TicketRef(tk.ID), tk.Ref)
		ref = tk.Ref

		loads, err := tx.ActiveAgentLoads(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, loads[0].OpenTickets)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "TCK000001", ref)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0001@example-client.com")
		require.NoError(t, err)
		require.NoError(t, tx.CreateTicket(ctx, &routing.Ticket{
			ClientID: c.ID, IntentCode: "fee_dispute", RequesterEmail: c.Email, Channel: "EMAIL",
			Priority: routing.PriorityLow, Status: routing.StatusOpen, PrimaryDeskID: c.PrimaryDeskID,
			CreatedAt: time.Now(),
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM tickets`).Scan(&n))
	assert.Zero(t, n)
}

func TestAppendTraceSequencesPerTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0002@example-client.com")
		require.NoError(t, err)
		var ids []int64
		for i := 0; i < 2; i++ {
			tk := &routing.Ticket{ClientID: c.ID, IntentCode: "fee_dispute", RequesterEmail: c.Email,
				Channel: "EMAIL", Priority: routing.PriorityLow, Status: routing.StatusOpen,
				PrimaryDeskID: c.PrimaryDeskID, CreatedAt: at}
			require.NoError(t, tx.CreateTicket(ctx, tk))
			ids = append(ids, tk.ID)
		}

		for _, id := range []int64{ids[0], ids[1], ids[0]} {
			_, err := tx.AppendTrace(ctx, routing.TraceStep{TicketID: id, Node: "n", Decision: "d",
				Rationale: "r", Actor: routing.ActorAI, At: at})
			require.NoError(t, err)
		}

		path, err := tx.DecisionPath(ctx, ids[0])
		require.NoError(t, err)
		require.Len(t, path, 2)
		assert.Equal(t, 1, path[0].Seq)
		assert.Equal(t, 2, path[1].Seq)
		return nil
	})
	require.NoError(t, err)

	events, err := s.AuditEventsAfter(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Trace.ID)
	assert.Equal(t, "TCK000002", events[0].Ticket.Ref)
	assert.True(t, events[0].Trace.At.Equal(at))
}

func TestOnlyOneOpenAssignmentPerTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0001@example-client.com")
		require.NoError(t, err)
		tk := &routing.Ticket{ClientID: c.ID, IntentCode: "fee_dispute", RequesterEmail: c.Email,
			Channel: "EMAIL", Priority: routing.PriorityLow, Status: routing.StatusOpen,
			PrimaryDeskID: c.PrimaryDeskID, CreatedAt: at}
		require.NoError(t, tx.CreateTicket(ctx, tk))

		a := routing.Assignment{TicketID: tk.ID, AgentID: 1, DeskID: c.PrimaryDeskID, Role: "PRIMARY_OWNER",
			Reason: "r", AssignedAt: at}
		_, err = tx.InsertAssignment(ctx, a)
		require.NoError(t, err)
		_, err = tx.InsertAssignment(ctx, a)
		assert.Error(t, err)

		n, err := tx.ReleaseOpenAssignments(ctx, tk.ID, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = tx.InsertAssignment(ctx, a)
		assert.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestTradeLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0001@example-client.com")
		require.NoError(t, err)

		tr, err := tx.TradeByRef(ctx, c.ID, "trd000001")
		require.NoError(t, err)
		assert.Equal(t, "SETTLED", tr.Status)

		latest, err := tx.LatestTrade(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "TRD000002", latest.Ref)
		assert.Equal(t, "Counterparty SSI mismatch", latest.FailReason)

		_, err = tx.TradeByRef(ctx, c.ID, "TRD000003")
		assert.ErrorIs(t, err, routing.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
