// Package sqlite is the embedded relational store, used for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/refset/desk-routing/internal/routing"
	"github.com/refset/desk-routing/internal/store"
)

//go:embed schema.sql
var schema string

// Immediate transactions take the write lock at BEGIN, so every decision
// transaction is serialized against every other writer.
const pragmas = "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// Store implements routing.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *Store) DB() *sql.DB {
	return s.db
}

// InTx runs fn in one immediate transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx routing.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if err := fn(&txn{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

// Seed loads reference data. Rows whose natural key already exists are left alone.
func (s *Store) Seed(ctx context.Context, ds store.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: seed begin: %w", err)
	}
	defer tx.Rollback()

	for _, d := range ds.Desks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO desks (desk_code, desk_name, specialty) VALUES (?, ?, ?)
			ON CONFLICT (desk_code) DO NOTHING`, d.Code, d.Name, d.Specialty); err != nil {
			return fmt.Errorf("sqlite store: seed desk %s: %w", d.Code, err)
		}
	}
	desks, err := codeIndex(ctx, tx, `SELECT desk_code, desk_id FROM desks`)
	if err != nil {
		return err
	}

	for _, a := range ds.Agents {
		deskID, ok := desks[a.Desk]
		if !ok {
			return fmt.Errorf("sqlite store: seed agent %s: %w: %s", a.Code, routing.ErrUnknownDesk, a.Desk)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO agents (agent_code, full_name, email, desk_id, is_active, max_open_tickets)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (agent_code) DO NOTHING`,
			a.Code, a.Name, a.Email, deskID, !a.Inactive, a.MaxOpen); err != nil {
			return fmt.Errorf("sqlite store: seed agent %s: %w", a.Code, err)
		}
	}

	for _, c := range ds.Clients {
		deskID, ok := desks[c.PrimaryDesk]
		if !ok {
			return fmt.Errorf("sqlite store: seed client %s: %w: %s", c.Code, routing.ErrUnknownDesk, c.PrimaryDesk)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO clients (client_code, client_name, email, primary_desk_id)
			VALUES (?, ?, ?, ?) ON CONFLICT (client_code) DO NOTHING`,
			c.Code, c.Name, c.Email, deskID); err != nil {
			return fmt.Errorf("sqlite store: seed client %s: %w", c.Code, err)
		}
	}
	clients, err := codeIndex(ctx, tx, `SELECT client_code, client_id FROM clients`)
	if err != nil {
		return err
	}
	clientID := func(code string) (int64, error) {
		id, ok := clients[code]
		if !ok {
			return 0, fmt.Errorf("sqlite store: seed: unknown client %s", code)
		}
		return id, nil
	}

	for _, a := range ds.CashAccounts {
		id, err := clientID(a.Client)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cash_accounts (account_number, client_id, currency, cash_balance, available_cash, held_cash)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (account_number) DO NOTHING`,
			a.Number, id, a.Currency, a.Balance, a.Available, a.Held); err != nil {
			return fmt.Errorf("sqlite store: seed cash account %s: %w", a.Number, err)
		}
	}

	for _, p := range ds.Positions {
		id, err := clientID(p.Client)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO positions (client_id, symbol, asset_class, quantity, market_price, market_value, as_of_date)
			VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (client_id, symbol) DO NOTHING`,
			id, p.Symbol, p.AssetClass, p.Quantity, p.MarketPrice, p.MarketValue(), p.AsOf); err != nil {
			return fmt.Errorf("sqlite store: seed position %s/%s: %w", p.Client, p.Symbol, err)
		}
	}

	for _, t := range ds.Trades {
		id, err := clientID(t.Client)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO trades (trade_ref, client_id, symbol, side, quantity, price, trade_status,
				fail_reason, submitted_at, confirmed_at, executed_at, settlement_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (trade_ref) DO NOTHING`,
			t.Ref, id, t.Symbol, t.Side, t.Quantity, t.Price, t.Status, store.NullString(t.FailReason),
			t.SubmittedAt, store.NullString(t.ConfirmedAt), store.NullString(t.ExecutedAt),
			store.NullString(t.SettlementDate)); err != nil {
			return fmt.Errorf("sqlite store: seed trade %s: %w", t.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: seed commit: %w", err)
	}
	return nil
}

// AuditEventsAfter returns trace steps with an id above afterID, oldest first,
// each joined with its ticket's current summary.
func (s *Store) AuditEventsAfter(ctx context.Context, afterID int64, limit int) ([]routing.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.trace_id, r.ticket_id, r.step_seq, r.node_name, r.decision, r.rationale, r.actor_type,
			r.actor_agent_id, r.created_at, `+summaryColumns+`
		FROM routing_trace r
		JOIN tickets t ON t.ticket_id = r.ticket_id
		LEFT JOIN agents a ON a.agent_id = t.owner_agent_id
		WHERE r.trace_id > ?
		ORDER BY r.trace_id
		LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: audit events: %w", err)
	}
	defer rows.Close()

	var events []routing.AuditEvent
	for rows.Next() {
		var (
			ev      routing.AuditEvent
			agentID sql.NullInt64
			at      string
		)
		dest := []any{&ev.Trace.ID, &ev.Trace.TicketID, &ev.Trace.Seq, &ev.Trace.Node, &ev.Trace.Decision,
			&ev.Trace.Rationale, &ev.Trace.Actor, &agentID, &at}
		sum, err := scanSummary(rows, dest...)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: audit events scan: %w", err)
		}
		ev.Trace.AgentID = nullInt(agentID)
		if ev.Trace.At, err = parseTS(at); err != nil {
			return nil, err
		}
		ev.Ticket = *sum
		events = append(events, ev)
	}
	return events, rows.Err()
}

func codeIndex(ctx context.Context, tx *sql.Tx, query string) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: index: %w", err)
	}
	defer rows.Close()

	idx := make(map[string]int64)
	for rows.Next() {
		var (
			code string
			id   int64
		)
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("sqlite store: index scan: %w", err)
		}
		idx[code] = id
	}
	return idx, rows.Err()
}

// --- time helpers ---

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite store: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}
