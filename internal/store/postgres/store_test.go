package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

// newTestStore connects to ROUTER_TEST_POSTGRES_DSN and isolates the test in
// a throwaway schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ROUTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PostgreSQL not available, set ROUTER_TEST_POSTGRES_DSN")
	}
	ctx := context.Background()

	admin, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	schemaName := "routing_test_" + uuid.NewString()[:8]
	_, err = admin.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schemaName))
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schemaName))
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schemaName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	s := NewStore(pool)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))

	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, ds))
	return s
}

func newTicket(c *routing.Client, at time.Time) *routing.Ticket {
	return &routing.Ticket{ClientID: c.ID, IntentCode: "fee_dispute", RequesterEmail: c.Email,
		Channel: "EMAIL", Subject: "s", Body: "b", Priority: routing.PriorityLow, Status: routing.StatusOpen,
		PrimaryDeskID: c.PrimaryDeskID, CreatedAt: at}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds, err := store.LoadDataset("")
	require.NoError(t, err)
	require.NoError(t, s.Seed(ctx, ds))

	var n int
	require.NoError(t, s.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n))
	assert.Equal(t, len(ds.Agents), n)
}

func TestClientLookupAndLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "OPS.CL0001@example-client.com")
		require.NoError(t, err)
		assert.Equal(t, "CL0001", c.Code)

		_, err = tx.ClientByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, routing.ErrNotFound)

		require.NoError(t, tx.LockAgentPool(ctx))
		loads, err := tx.ActiveAgentLoads(ctx)
		require.NoError(t, err)
		assert.Len(t, loads, 9)

		positions, err := tx.TopPositions(ctx, c.ID, 5)
		require.NoError(t, err)
		require.NotEmpty(t, positions)
		assert.Len(t, positions[0].AsOf, len("2006-01-02"))
		return nil
	})
	require.NoError(t, err)
}

func TestTicketLifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	var tk *routing.Ticket
	err := s.InTx(ctx, func(tx routing.Tx) error {
		c, err := tx.ClientByEmail(ctx, "ops.cl0001@example-client.com")
		require.NoError(t, err)
		tk = newTicket(c, at)
		require.NoError(t, tx.CreateTicket(ctx, tk))

		for i := 0; i < 2; i++ {
			step, err := tx.AppendTrace(ctx, routing.TraceStep{TicketID: tk.ID, Node: "n", Decision: "d",
				Rationale: "r", Actor: routing.ActorAI, At: at.Add(time.Duration(i) * time.Minute)})
			require.NoError(t, err)
			assert.Equal(t, i+1, step.Seq)
		}
		_, err = tx.InsertAssignment(ctx, routing.Assignment{TicketID: tk.ID, AgentID: 1,
			DeskID: c.PrimaryDeskID, Role: "PRIMARY_OWNER", Reason: "r", AssignedAt: at})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, routing.TicketRef(tk.ID), tk.Ref)

	err = s.InTx(ctx, func(tx routing.Tx) error {
		locked, err := tx.TicketForUpdate(ctx, tk.Ref, tk.ClientID)
		require.NoError(t, err)
		assert.True(t, locked.CreatedAt.Equal(at))

		n, err := tx.ReleaseOpenAssignments(ctx, tk.ID, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, tx.ReopenTicket(ctx, tk.ID, 2))

		sum, err := tx.TicketSummary(ctx, tk.Ref)
		require.NoError(t, err)
		assert.Equal(t, routing.StatusInProgress, sum.Status)
		require.NotNil(t, sum.ClientSatisfied)
		assert.False(t, *sum.ClientSatisfied)

		path, err := tx.DecisionPath(ctx, tk.ID)
		require.NoError(t, err)
		assert.Len(t, path, 2)
		return nil
	})
	require.NoError(t, err)

	events, err := s.AuditEventsAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, tk.Ref, events[1].Ticket.Ref)
}

func TestLockAgentPoolSerializesTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		inside int
		peak   int
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx routing.Tx) error {
				if err := tx.LockAgentPool(ctx); err != nil {
					return err
				}
				mu.Lock()
				inside++
				if inside > peak {
					peak = inside
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}
