package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/refset/desk-routing/internal/routing"
)

type txn struct {
	tx *sql.Tx
}

const ticketColumns = `ticket_id, ticket_ref, client_id, trade_id, intent_code, requester_email, channel,
	external_message_id, subject, body, priority, automatable, requires_multi_desk, status, primary_desk_id,
	owner_agent_id, created_at, first_response_at, resolved_at, closed_at, client_satisfied`

const summaryColumns = `t.ticket_id, t.ticket_ref, t.status, t.automatable, t.requires_multi_desk, t.priority,
	t.intent_code, t.requester_email, COALESCE(a.agent_code, ''), COALESCE(a.email, ''), t.created_at,
	t.first_response_at, t.resolved_at, t.closed_at, t.client_satisfied`

type scanner interface {
	Scan(dest ...any) error
}

func (x *txn) ClientByEmail(ctx context.Context, email string) (*routing.Client, error) {
	var c routing.Client
	err := x.tx.QueryRowContext(ctx, `SELECT client_id, client_code, client_name, email, primary_desk_id
		FROM clients WHERE lower(email) = lower(?)`, strings.TrimSpace(email)).
		Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.PrimaryDeskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: client by email: %w", err)
	}
	return &c, nil
}

func (x *txn) Desks(ctx context.Context) ([]routing.Desk, error) {
	rows, err := x.tx.QueryContext(ctx, `SELECT desk_id, desk_code, desk_name FROM desks ORDER BY desk_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: desks: %w", err)
	}
	defer rows.Close()

	var desks []routing.Desk
	for rows.Next() {
		var d routing.Desk
		if err := rows.Scan(&d.ID, &d.Code, &d.Name); err != nil {
			return nil, fmt.Errorf("sqlite store: desks scan: %w", err)
		}
		desks = append(desks, d)
	}
	return desks, rows.Err()
}

// LockAgentPool is a no-op: the transaction already holds the database write lock.
func (x *txn) LockAgentPool(ctx context.Context) error {
	return nil
}

func (x *txn) ActiveAgentLoads(ctx context.Context) ([]routing.AgentLoad, error) {
	rows, err := x.tx.QueryContext(ctx, `
		SELECT a.agent_id, a.agent_code, a.full_name, a.email, a.desk_id, a.max_open_tickets,
			(SELECT COUNT(*) FROM tickets t
			 WHERE t.owner_agent_id = a.agent_id
			   AND t.status IN ('OPEN', 'IN_PROGRESS', 'WAITING_CLIENT', 'ESCALATED'))
		FROM agents a
		WHERE a.is_active = 1
		ORDER BY a.agent_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: agent loads: %w", err)
	}
	defer rows.Close()

	var loads []routing.AgentLoad
	for rows.Next() {
		var l routing.AgentLoad
		if err := rows.Scan(&l.AgentID, &l.Code, &l.Name, &l.Email, &l.DeskID, &l.MaxOpen, &l.OpenTickets); err != nil {
			return nil, fmt.Errorf("sqlite store: agent loads scan: %w", err)
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func (x *txn) CashAccounts(ctx context.Context, clientID int64) ([]routing.CashAccount, error) {
	rows, err := x.tx.QueryContext(ctx, `SELECT account_number, currency, cash_balance, available_cash, held_cash
		FROM cash_accounts WHERE client_id = ? ORDER BY cash_balance DESC, account_number`, clientID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: cash accounts: %w", err)
	}
	defer rows.Close()

	var accounts []routing.CashAccount
	for rows.Next() {
		var a routing.CashAccount
		if err := rows.Scan(&a.Number, &a.Currency, &a.Balance, &a.Available, &a.Held); err != nil {
			return nil, fmt.Errorf("sqlite store: cash accounts scan: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (x *txn) TopPositions(ctx context.Context, clientID int64, limit int) ([]routing.Position, error) {
	rows, err := x.tx.QueryContext(ctx, `SELECT symbol, asset_class, quantity, market_price, market_value, as_of_date
		FROM positions WHERE client_id = ? ORDER BY market_value DESC, symbol LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: positions: %w", err)
	}
	defer rows.Close()

	var positions []routing.Position
	for rows.Next() {
		var p routing.Position
		if err := rows.Scan(&p.Symbol, &p.AssetClass, &p.Quantity, &p.MarketPrice, &p.MarketValue, &p.AsOf); err != nil {
			return nil, fmt.Errorf("sqlite store: positions scan: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

const tradeColumns = `trade_id, trade_ref, symbol, side, quantity, price, trade_status, fail_reason,
	submitted_at, confirmed_at, executed_at, settlement_date`

func (x *txn) TradeByRef(ctx context.Context, clientID int64, ref string) (*routing.Trade, error) {
	row := x.tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE client_id = ? AND upper(trade_ref) = upper(?)`, clientID, ref)
	return scanTrade(row)
}

func (x *txn) LatestTrade(ctx context.Context, clientID int64) (*routing.Trade, error) {
	row := x.tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE client_id = ? ORDER BY submitted_at DESC, trade_id DESC LIMIT 1`, clientID)
	return scanTrade(row)
}

func scanTrade(row scanner) (*routing.Trade, error) {
	var (
		t                                     routing.Trade
		fail, confirmed, executed, settlement sql.NullString
	)
	err := row.Scan(&t.ID, &t.Ref, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Status, &fail,
		&t.SubmittedAt, &confirmed, &executed, &settlement)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: trade: %w", err)
	}
	t.FailReason, t.ConfirmedAt, t.ExecutedAt, t.SettlementDate = fail.String, confirmed.String, executed.String, settlement.String
	return &t, nil
}

// CreateTicket inserts under a temporary reference, then derives the public
// reference from the assigned id.
func (x *txn) CreateTicket(ctx context.Context, t *routing.Ticket) error {
	tmp := "TMP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	res, err := x.tx.ExecContext(ctx, `INSERT INTO tickets (
			ticket_ref, client_id, trade_id, intent_code, requester_email, channel, external_message_id,
			subject, body, priority, automatable, requires_multi_desk, status, primary_desk_id, owner_agent_id,
			created_at, first_response_at, resolved_at, closed_at, client_satisfied
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmp, t.ClientID, nullInt64(t.TradeID), t.IntentCode, t.RequesterEmail, t.Channel, t.ExternalMessageID,
		t.Subject, t.Body, string(t.Priority), t.Automatable, t.RequiresMultiDesk, string(t.Status), t.PrimaryDeskID,
		nullInt64(t.OwnerAgentID), ts(t.CreatedAt), nullTS(t.FirstResponseAt), nullTS(t.ResolvedAt),
		nullTS(t.ClosedAt), boolArg(t.ClientSatisfied))
	if err != nil {
		return fmt.Errorf("sqlite store: insert ticket: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite store: ticket id: %w", err)
	}
	ref := routing.TicketRef(id)
	if _, err := x.tx.ExecContext(ctx, `UPDATE tickets SET ticket_ref = ? WHERE ticket_id = ?`, ref, id); err != nil {
		return fmt.Errorf("sqlite store: set ticket ref: %w", err)
	}
	t.ID, t.Ref = id, ref
	return nil
}

func (x *txn) TicketForUpdate(ctx context.Context, ref string, clientID int64) (*routing.Ticket, error) {
	row := x.tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE ticket_ref = ? AND client_id = ?`, ref, clientID)

	var (
		t                           routing.Ticket
		tradeID, owner              sql.NullInt64
		created                     string
		firstResp, resolved, closed sql.NullString
		satisfied                   sql.NullBool
	)
	err := row.Scan(&t.ID, &t.Ref, &t.ClientID, &tradeID, &t.IntentCode, &t.RequesterEmail, &t.Channel,
		&t.ExternalMessageID, &t.Subject, &t.Body, &t.Priority, &t.Automatable, &t.RequiresMultiDesk, &t.Status,
		&t.PrimaryDeskID, &owner, &created, &firstResp, &resolved, &closed, &satisfied)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: ticket: %w", err)
	}
	t.TradeID, t.OwnerAgentID, t.ClientSatisfied = nullInt(tradeID), nullInt(owner), nullBool(satisfied)
	if t.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if t.FirstResponseAt, err = parseNullTS(firstResp); err != nil {
		return nil, err
	}
	if t.ResolvedAt, err = parseNullTS(resolved); err != nil {
		return nil, err
	}
	if t.ClosedAt, err = parseNullTS(closed); err != nil {
		return nil, err
	}
	return &t, nil
}

func (x *txn) ReopenTicket(ctx context.Context, ticketID, ownerAgentID int64) error {
	res, err := x.tx.ExecContext(ctx, `UPDATE tickets
		SET automatable = 0, status = 'IN_PROGRESS', owner_agent_id = ?, client_satisfied = 0,
			resolved_at = NULL, closed_at = NULL
		WHERE ticket_id = ?`, ownerAgentID, ticketID)
	if err != nil {
		return fmt.Errorf("sqlite store: reopen ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return routing.ErrNotFound
	}
	return nil
}

func (x *txn) InsertPlanStep(ctx context.Context, s routing.PlanStep) error {
	_, err := x.tx.ExecContext(ctx, `INSERT INTO ticket_desk_plan (ticket_id, step_seq, desk_id, step_reason, required_flag)
		VALUES (?, ?, ?, ?, ?)`, s.TicketID, s.Seq, s.DeskID, s.Reason, s.Required)
	if err != nil {
		return fmt.Errorf("sqlite store: insert plan step: %w", err)
	}
	return nil
}

func (x *txn) InsertHop(ctx context.Context, h routing.Hop) error {
	_, err := x.tx.ExecContext(ctx, `INSERT INTO ticket_desk_hops
		(ticket_id, hop_seq, from_desk_id, to_desk_id, hopped_by_agent_id, hop_reason, hopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.TicketID, h.Seq, nullInt64(h.FromDeskID), h.ToDeskID, nullInt64(h.AgentID), h.Reason, ts(h.At))
	if err != nil {
		return fmt.Errorf("sqlite store: insert hop: %w", err)
	}
	return nil
}

func (x *txn) ReleaseOpenAssignments(ctx context.Context, ticketID int64, at time.Time) (int64, error) {
	res, err := x.tx.ExecContext(ctx, `UPDATE ticket_assignments SET released_at = ?
		WHERE ticket_id = ? AND released_at IS NULL`, ts(at), ticketID)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: release assignments: %w", err)
	}
	return res.RowsAffected()
}

func (x *txn) InsertAssignment(ctx context.Context, a routing.Assignment) (int64, error) {
	res, err := x.tx.ExecContext(ctx, `INSERT INTO ticket_assignments
		(ticket_id, assigned_agent_id, assigned_desk_id, assignment_role, assignment_reason, assigned_at, released_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.TicketID, a.AgentID, a.DeskID, a.Role, a.Reason, ts(a.AssignedAt), nullTS(a.ReleasedAt))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert assignment: %w", err)
	}
	return res.LastInsertId()
}

func (x *txn) AppendTrace(ctx context.Context, s routing.TraceStep) (routing.TraceStep, error) {
	if err := x.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(step_seq), 0) + 1 FROM routing_trace WHERE ticket_id = ?`,
		s.TicketID).Scan(&s.Seq); err != nil {
		return s, fmt.Errorf("sqlite store: next trace seq: %w", err)
	}
	res, err := x.tx.ExecContext(ctx, `INSERT INTO routing_trace
		(ticket_id, step_seq, node_name, decision, rationale, actor_type, actor_agent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.TicketID, s.Seq, s.Node, s.Decision, s.Rationale, string(s.Actor), nullInt64(s.AgentID), ts(s.At))
	if err != nil {
		return s, fmt.Errorf("sqlite store: insert trace: %w", err)
	}
	if s.ID, err = res.LastInsertId(); err != nil {
		return s, fmt.Errorf("sqlite store: trace id: %w", err)
	}
	return s, nil
}

func (x *txn) InsertMessage(ctx context.Context, m routing.Message) error {
	_, err := x.tx.ExecContext(ctx, `INSERT INTO email_messages
		(ticket_id, direction, external_message_id, channel, sender_email, recipient_email, subject, body,
		 sent_at, is_automated, delivery_status, related_trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'SENT', ?)`,
		m.TicketID, string(m.Direction), m.ExternalID, m.Channel, m.Sender, m.Recipient, m.Subject, m.Body,
		ts(m.SentAt), m.Automated, nullInt64(m.RelatedTraceID))
	if err != nil {
		return fmt.Errorf("sqlite store: insert message: %w", err)
	}
	return nil
}

func (x *txn) TicketSummary(ctx context.Context, ref string) (*routing.TicketSummary, error) {
	row := x.tx.QueryRowContext(ctx, `SELECT `+summaryColumns+`
		FROM tickets t LEFT JOIN agents a ON a.agent_id = t.owner_agent_id
		WHERE t.ticket_ref = ?`, ref)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: ticket summary: %w", err)
	}
	return sum, nil
}

// scanSummary scans prefix columns into prefix, then the summaryColumns.
func scanSummary(row scanner, prefix ...any) (*routing.TicketSummary, error) {
	var (
		s                           routing.TicketSummary
		created                     string
		firstResp, resolved, closed sql.NullString
		satisfied                   sql.NullBool
	)
	dest := append(prefix, &s.ID, &s.Ref, &s.Status, &s.Automatable, &s.RequiresMultiDesk, &s.Priority,
		&s.IntentCode, &s.RequesterEmail, &s.OwnerAgentCode, &s.OwnerAgentEmail, &created,
		&firstResp, &resolved, &closed, &satisfied)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	var err error
	if s.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	if s.FirstResponseAt, err = parseNullTS(firstResp); err != nil {
		return nil, err
	}
	if s.ResolvedAt, err = parseNullTS(resolved); err != nil {
		return nil, err
	}
	if s.ClosedAt, err = parseNullTS(closed); err != nil {
		return nil, err
	}
	s.ClientSatisfied = nullBool(satisfied)
	return &s, nil
}

func (x *txn) DecisionPath(ctx context.Context, ticketID int64) ([]routing.PathEntry, error) {
	rows, err := x.tx.QueryContext(ctx, `SELECT step_seq, node_name, decision, actor_type, created_at
		FROM routing_trace WHERE ticket_id = ? ORDER BY step_seq`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: decision path: %w", err)
	}
	defer rows.Close()

	path := []routing.PathEntry{}
	for rows.Next() {
		var (
			p  routing.PathEntry
			at string
		)
		if err := rows.Scan(&p.Seq, &p.Node, &p.Decision, &p.Actor, &at); err != nil {
			return nil, fmt.Errorf("sqlite store: decision path scan: %w", err)
		}
		if p.At, err = parseTS(at); err != nil {
			return nil, err
		}
		path = append(path, p)
	}
	return path, rows.Err()
}

func boolArg(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
