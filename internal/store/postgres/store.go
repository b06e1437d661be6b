// Package postgres implements routing.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

//go:embed schema.sql
var schema string

// Store implements routing.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects with a connection string and applies the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// InTx runs fn in one read-committed transaction. Row locks taken by
// TicketForUpdate and the advisory lock taken by LockAgentPool are held until
// commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(tx routing.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Seed loads reference data. Rows whose natural key already exists are left alone.
func (s *Store) Seed(ctx context.Context, ds store.Dataset) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, d := range ds.Desks {
			if _, err := tx.Exec(ctx, `INSERT INTO desks (desk_code, desk_name, specialty) VALUES ($1, $2, $3)
				ON CONFLICT (desk_code) DO NOTHING`, d.Code, d.Name, d.Specialty); err != nil {
				return fmt.Errorf("postgres store: seed desk %s: %w", d.Code, err)
			}
		}
		desks, err := codeIndex(ctx, tx, `SELECT desk_code, desk_id FROM desks`)
		if err != nil {
			return err
		}

		for _, a := range ds.Agents {
			deskID, ok := desks[a.Desk]
			if !ok {
				return fmt.Errorf("postgres store: seed agent %s: %w: %s", a.Code, routing.ErrUnknownDesk, a.Desk)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO agents (agent_code, full_name, email, desk_id, is_active, max_open_tickets)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (agent_code) DO NOTHING`,
				a.Code, a.Name, a.Email, deskID, !a.Inactive, a.MaxOpen); err != nil {
				return fmt.Errorf("postgres store: seed agent %s: %w", a.Code, err)
			}
		}

		for _, c := range ds.Clients {
			deskID, ok := desks[c.PrimaryDesk]
			if !ok {
				return fmt.Errorf("postgres store: seed client %s: %w: %s", c.Code, routing.ErrUnknownDesk, c.PrimaryDesk)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO clients (client_code, client_name, email, primary_desk_id)
				VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, c.Code, c.Name, c.Email, deskID); err != nil {
				return fmt.Errorf("postgres store: seed client %s: %w", c.Code, err)
			}
		}
		clients, err := codeIndex(ctx, tx, `SELECT client_code, client_id FROM clients`)
		if err != nil {
			return err
		}
		clientID := func(code string) (int64, error) {
			id, ok := clients[code]
			if !ok {
				return 0, fmt.Errorf("postgres store: seed: unknown client %s", code)
			}
			return id, nil
		}

		for _, a := range ds.CashAccounts {
			id, err := clientID(a.Client)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO cash_accounts (account_number, client_id, currency, cash_balance, available_cash, held_cash)
				VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (account_number) DO NOTHING`,
				a.Number, id, a.Currency, a.Balance, a.Available, a.Held); err != nil {
				return fmt.Errorf("postgres store: seed cash account %s: %w", a.Number, err)
			}
		}

		for _, p := range ds.Positions {
			id, err := clientID(p.Client)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO positions (client_id, symbol, asset_class, quantity, market_price, market_value, as_of_date)
				VALUES ($1, $2, $3, $4, $5, $6, $7::date) ON CONFLICT (client_id, symbol) DO NOTHING`,
				id, p.Symbol, p.AssetClass, p.Quantity, p.MarketPrice, p.MarketValue(), p.AsOf); err != nil {
				return fmt.Errorf("postgres store: seed position %s/%s: %w", p.Client, p.Symbol, err)
			}
		}

		for _, t := range ds.Trades {
			id, err := clientID(t.Client)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO trades (trade_ref, client_id, symbol, side, quantity, price, trade_status,
					fail_reason, submitted_at, confirmed_at, executed_at, settlement_date)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) ON CONFLICT (trade_ref) DO NOTHING`,
				t.Ref, id, t.Symbol, t.Side, t.Quantity, t.Price, t.Status, store.NullString(t.FailReason),
				t.SubmittedAt, store.NullString(t.ConfirmedAt), store.NullString(t.ExecutedAt),
				store.NullString(t.SettlementDate)); err != nil {
				return fmt.Errorf("postgres store: seed trade %s: %w", t.Ref, err)
			}
		}
		return nil
	})
}

// AuditEventsAfter returns trace steps with an id above afterID, oldest first,
// each joined with its ticket's current summary.
//
// Trace ids come from a sequence, so a transaction that commits late can make
// a lower id visible after a higher one was already read.
func (s *Store) AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.trace_id, r.ticket_id, r.step_seq, r.node_name, r.decision, r.rationale, r.actor_type,
			r.actor_agent_id, r.created_at, `+summaryColumns+`
		FROM routing_trace r
		JOIN tickets t ON t.ticket_id = r.ticket_id
		LEFT JOIN agents a ON a.agent_id = t.owner_agent_id
		WHERE r.trace_id > $1
		ORDER BY r.trace_id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: audit events: %w", err)
	}
	defer rows.Close()

	var events []routing.AuditEvent
	for rows.Next() {
		var ev routing.AuditEvent
		sum, err := scanSummary(rows, &ev.Trace.ID, &ev.Trace.TicketID, &ev.Trace.Seq, &ev.Trace.Node,
			&ev.Trace.Decision, &ev.Trace.Rationale, &ev.Trace.Actor, &ev.Trace.AgentID, &ev.Trace.At)
		if err != nil {
			return nil, fmt.Errorf("postgres store: audit events scan: %w", err)
		}
		ev.Trace.At = ev.Trace.At.UTC()
		ev.Ticket = *sum
		events = append(events, ev)
	}
	return events, rows.Err()
}

func codeIndex(ctx context.Context, tx pgx.Tx, query string) (map[string]int64, error) {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: index: %w", err)
	}
	defer rows.Close()

	idx := make(map[string]int64)
	for rows.Next() {
		var (
			code string
			id   int64
		)
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("postgres store: index scan: %w", err)
		}
		idx[code] = id
	}
	return idx, rows.Err()
}

func notFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
