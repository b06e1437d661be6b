package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/refset/desk-routing/internal/routing"
)

// agentPoolLockKey is the advisory lock key that serializes load balancing.
const agentPoolLockKey int64 = 0x6465736b

type txn struct {
	tx pgx.Tx
}

const ticketColumns = `ticket_id, ticket_ref, client_id, trade_id, intent_code, requester_email, channel,
	external_message_id, subject, body, priority, automatable, requires_multi_desk, status, primary_desk_id,
	owner_agent_id, created_at, first_response_at, resolved_at, closed_at, client_satisfied`

const summaryColumns = `t.ticket_id, t.ticket_ref, t.status, t.automatable, t.requires_multi_desk, t.priority,
	t.intent_code, t.requester_email, COALESCE(a.agent_code, ''), COALESCE(a.email, ''), t.created_at,
	t.first_response_at, t.resolved_at, t.closed_at, t.client_satisfied`

const tradeColumns = `trade_id, trade_ref, symbol, side, quantity, price, trade_status, COALESCE(fail_reason, ''),
	submitted_at, COALESCE(confirmed_at, ''), COALESCE(executed_at, ''), COALESCE(settlement_date, '')`

func (x *txn) ClientByEmail(ctx context.Context, email string) (*routing.Client, error) {
	rows, _ := x.tx.Query(ctx, `SELECT client_id, client_code, client_name, email, primary_desk_id
		FROM clients WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[routing.Client])
	if notFound(err) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: client by email: %w", err)
	}
	return &c, nil
}

func (x *txn) Desks(ctx context.Context) ([]routing.Desk, error) {
	rows, _ := x.tx.Query(ctx, `SELECT desk_id, desk_code, desk_name FROM desks ORDER BY desk_id`)
	desks, err := pgx.CollectRows(rows, pgx.RowToStructByPos[routing.Desk])
	if err != nil {
		return nil, fmt.Errorf("postgres store: desks: %w", err)
	}
	return desks, nil
}

// LockAgentPool takes a transaction-scoped advisory lock. Concurrent decisions
// queue here, so each one sees the loads committed by the previous one.
func (x *txn) LockAgentPool(ctx context.Context) error {
	if _, err := x.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, agentPoolLockKey); err != nil {
		return fmt.Errorf("postgres store: lock agent pool: %w", err)
	}
	return nil
}

func (x *txn) ActiveAgentLoads(ctx context.Context) ([]routing.AgentLoad, error) {
	rows, _ := x.tx.Query(ctx, `
		SELECT a.agent_id, a.agent_code, a.full_name, a.email, a.desk_id, a.max_open_tickets,
			(SELECT COUNT(*) FROM tickets t
			 WHERE t.owner_agent_id = a.agent_id
			   AND t.status IN ('OPEN', 'IN_PROGRESS', 'WAITING_CLIENT', 'ESCALATED'))::int
		FROM agents a
		WHERE a.is_active
		ORDER BY a.agent_id`)
	loads, err := pgx.CollectRows(rows, pgx.RowToStructByPos[routing.AgentLoad])
	if err != nil {
		return nil, fmt.Errorf("postgres store: agent loads: %w", err)
	}
	return loads, nil
}

func (x *txn) CashAccounts(ctx context.Context, clientID int64) ([]routing.CashAccount, error) {
	rows, _ := x.tx.Query(ctx, `SELECT account_number, currency, cash_balance, available_cash, held_cash
		FROM cash_accounts WHERE client_id = $1 ORDER BY cash_balance DESC, account_number`, clientID)
	accounts, err := pgx.CollectRows(rows, pgx.RowToStructByPos[routing.CashAccount])
	if err != nil {
		return nil, fmt.Errorf("postgres store: cash accounts: %w", err)
	}
	return accounts, nil
}

func (x *txn) TopPositions(ctx context.Context, clientID int64, limit int) ([]routing.Position, error) {
	rows, _ := x.tx.Query(ctx, `SELECT symbol, asset_class, quantity, market_price, market_value, as_of_date::text
		FROM positions WHERE client_id = $1 ORDER BY market_value DESC, symbol LIMIT $2`, clientID, limit)
	positions, err := pgx.CollectRows(rows, pgx.RowToStructByPos[routing.Position])
	if err != nil {
		return nil, fmt.Errorf("postgres store: positions: %w", err)
	}
	return positions, nil
}

func (x *txn) TradeByRef(ctx context.Context, clientID int64, ref string) (*routing.Trade, error) {
	rows, _ := x.tx.Query(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE client_id = $1 AND upper(trade_ref) = upper($2)`, clientID, ref)
	return collectTrade(rows)
}

func (x *txn) LatestTrade(ctx context.Context, clientID int64) (*routing.Trade, error) {
	rows, _ := x.tx.Query(ctx, `SELECT `+tradeColumns+` FROM trades
		WHERE client_id = $1 ORDER BY submitted_at DESC, trade_id DESC LIMIT 1`, clientID)
	return collectTrade(rows)
}

func collectTrade(rows pgx.Rows) (*routing.Trade, error) {
	t, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[routing.Trade])
	if notFound(err) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: trade: %w", err)
	}
	return &t, nil
}

// CreateTicket draws the id from the sequence first so the reference can be
// written in the same insert.
func (x *txn) CreateTicket(ctx context.Context, t *routing.Ticket) error {
	var id int64
	if err := x.tx.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence('tickets', 'ticket_id'))`).Scan(&id); err != nil {
		return fmt.Errorf("postgres store: next ticket id: %w", err)
	}
	ref := routing.TicketRef(id)
	_, err := x.tx.Exec(ctx, `INSERT INTO tickets (
			ticket_id, ticket_ref, client_id, trade_id, intent_code, requester_email, channel, external_message_id,
			subject, body, priority, automatable, requires_multi_desk, status, primary_desk_id, owner_agent_id,
			created_at, first_response_at, resolved_at, closed_at, client_satisfied
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		id, ref, t.ClientID, t.TradeID, t.IntentCode, t.RequesterEmail, t.Channel, t.ExternalMessageID,
		t.Subject, t.Body, string(t.Priority), t.Automatable, t.RequiresMultiDesk, string(t.Status), t.PrimaryDeskID,
		t.OwnerAgentID, t.CreatedAt, t.FirstResponseAt, t.ResolvedAt, t.ClosedAt, t.ClientSatisfied)
	if err != nil {
		return fmt.Errorf("postgres store: insert ticket: %w", err)
	}
	t.ID, t.Ref = id, ref
	return nil
}

func (x *txn) TicketForUpdate(ctx context.Context, ref string, clientID int64) (*routing.Ticket, error) {
	var t routing.Ticket
	err := x.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE ticket_ref = $1 AND client_id = $2 FOR UPDATE`, ref, clientID).
		Scan(&t.ID, &t.Ref, &t.ClientID, &t.TradeID, &t.IntentCode, &t.RequesterEmail, &t.Channel,
			&t.ExternalMessageID, &t.Subject, &t.Body, &t.Priority, &t.Automatable, &t.RequiresMultiDesk, &t.Status,
			&t.PrimaryDeskID, &t.OwnerAgentID, &t.CreatedAt, &t.FirstResponseAt, &t.ResolvedAt, &t.ClosedAt,
			&t.ClientSatisfied)
	if notFound(err) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: ticket: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.FirstResponseAt, t.ResolvedAt, t.ClosedAt = utc(t.FirstResponseAt), utc(t.ResolvedAt), utc(t.ClosedAt)
	return &t, nil
}

func (x *txn) ReopenTicket(ctx context.Context, ticketID, ownerAgentID int64) error {
	tag, err := x.tx.Exec(ctx, `UPDATE tickets
		SET automatable = FALSE, status = 'IN_PROGRESS', owner_agent_id = $1, client_satisfied = FALSE,
			resolved_at = NULL, closed_at = NULL
		WHERE ticket_id = $2`, ownerAgentID, ticketID)
	if err != nil {
		return fmt.Errorf("postgres store: reopen ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return routing.ErrNotFound
	}
	return nil
}

func (x *txn) InsertPlanStep(ctx context.Context, s routing.PlanStep) error {
	_, err := x.tx.Exec(ctx, `INSERT INTO ticket_desk_plan (ticket_id, step_seq, desk_id, step_reason, required_flag)
		VALUES ($1, $2, $3, $4, $5)`, s.TicketID, s.Seq, s.DeskID, s.Reason, s.Required)
	if err != nil {
		return fmt.Errorf("postgres store: insert plan step: %w", err)
	}
	return nil
}

func (x *txn) InsertHop(ctx context.Context, h routing.Hop) error {
	_, err := x.tx.Exec(ctx, `INSERT INTO ticket_desk_hops
		(ticket_id, hop_seq, from_desk_id, to_desk_id, hopped_by_agent_id, hop_reason, hopped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.TicketID, h.Seq, h.FromDeskID, h.ToDeskID, h.AgentID, h.Reason, h.At)
	if err != nil {
		return fmt.Errorf("postgres store: insert hop: %w", err)
	}
	return nil
}

func (x *txn) ReleaseOpenAssignments(ctx context.Context, ticketID int64, at time.Time) (int64, error) {
	tag, err := x.tx.Exec(ctx, `UPDATE ticket_assignments SET released_at = $1
		WHERE ticket_id = $2 AND released_at IS NULL`, at, ticketID)
	if err != nil {
		return 0, fmt.Errorf("postgres store: release assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (x *txn) InsertAssignment(ctx context.Context, a routing.Assignment) (int64, error) {
	var id int64
	err := x.tx.QueryRow(ctx, `INSERT INTO ticket_assignments
		(ticket_id, assigned_agent_id, assigned_desk_id, assignment_role, assignment_reason, assigned_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING assignment_id`,
		a.TicketID, a.AgentID, a.DeskID, a.Role, a.Reason, a.AssignedAt, a.ReleasedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert assignment: %w", err)
	}
	return id, nil
}

// AppendTrace relies on the caller holding the ticket row (freshly inserted
// or locked by TicketForUpdate); the unique (ticket_id, step_seq) constraint
// rejects any other interleaving.
func (x *txn) AppendTrace(ctx context.Context, s routing.TraceStep) (routing.TraceStep, error) {
	err := x.tx.QueryRow(ctx, `INSERT INTO routing_trace
		(ticket_id, step_seq, node_name, decision, rationale, actor_type, actor_agent_id, created_at)
		SELECT $1::bigint, COALESCE(MAX(step_seq), 0) + 1, $2::text, $3::text, $4::text, $5::text, $6::bigint, $7::timestamptz
		FROM routing_trace WHERE ticket_id = $1
		RETURNING trace_id, step_seq`,
		s.TicketID, s.Node, s.Decision, s.Rationale, string(s.Actor), s.AgentID, s.At).Scan(&s.ID, &s.Seq)
	if err != nil {
		return s, fmt.Errorf("postgres store: insert trace: %w", err)
	}
	return s, nil
}

func (x *txn) InsertMessage(ctx context.Context, m routing.Message) error {
	_, err := x.tx.Exec(ctx, `INSERT INTO email_messages
		(ticket_id, direction, external_message_id, channel, sender_email, recipient_email, subject, body,
		 sent_at, is_automated, delivery_status, related_trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'SENT', $11)`,
		m.TicketID, string(m.Direction), m.ExternalID, m.Channel, m.Sender, m.Recipient, m.Subject, m.Body,
		m.SentAt, m.Automated, m.RelatedTraceID)
	if err != nil {
		return fmt.Errorf("postgres store: insert message: %w", err)
	}
	return nil
}

func (x *txn) TicketSummary(ctx context.Context, ref string) (*routing.TicketSummary, error) {
	row := x.tx.QueryRow(ctx, `SELECT `+summaryColumns+`
		FROM tickets t LEFT JOIN agents a ON a.agent_id = t.owner_agent_id
		WHERE t.ticket_ref = $1`, ref)
	sum, err := scanSummary(row)
	if notFound(err) {
		return nil, routing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: ticket summary: %w", err)
	}
	return sum, nil
}

// scanSummary scans prefix columns into prefix, then the summaryColumns.
func scanSummary(row pgx.Row, prefix ...any) (*routing.TicketSummary, error) {
	var s routing.TicketSummary
	dest := append(prefix, &s.ID, &s.Ref, &s.Status, &s.Automatable, &s.RequiresMultiDesk, &s.Priority,
		&s.IntentCode, &s.RequesterEmail, &s.OwnerAgentCode, &s.OwnerAgentEmail, &s.CreatedAt,
		&s.FirstResponseAt, &s.ResolvedAt, &s.ClosedAt, &s.ClientSatisfied)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.FirstResponseAt, s.ResolvedAt, s.ClosedAt = utc(s.FirstResponseAt), utc(s.ResolvedAt), utc(s.ClosedAt)
	return &s, nil
}

func (x *txn) DecisionPath(ctx context.Context, ticketID int64) ([]routing.PathEntry, error) {
	rows, _ := x.tx.Query(ctx, `SELECT step_seq, node_name, decision, actor_type, created_at
		FROM routing_trace WHERE ticket_id = $1 ORDER BY step_seq`, ticketID)
	path, err := pgx.CollectRows(rows, pgx.RowToStructByPos[routing.PathEntry])
	if err != nil {
		return nil, fmt.Errorf("postgres store: decision path: %w", err)
	}
	for i := range path {
		path[i].At = path[i].At.UTC()
	}
	if path == nil {
		path = []routing.PathEntry{}
	}
	return path, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
