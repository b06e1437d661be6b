package routing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Tx lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrTicketNotFound is returned by GetTicketStatus for an unknown reference.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrNoActiveAgent means no active agent exists anywhere in the system.
	ErrNoActiveAgent = errors.New("no active agent available")
	// ErrNoDefaultRule means the configured default intent has no routing rule.
	ErrNoDefaultRule = errors.New("default routing rule missing")
	// ErrUnknownDesk means a routing rule names a desk the store does not know.
	ErrUnknownDesk = errors.New("unknown desk")
)

// Store is the relational store the engine runs against.
type Store interface {
	// InTx runs fn in one transaction. The transaction commits only when fn
	// returns nil; any error rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
type Tx interface {
	ClientByEmail(ctx context.Context, email string) (*Client, error)
	Desks(ctx context.Context) ([]Desk, error)

	// LockAgentPool serializes load-balancing decisions until the transaction ends.
	LockAgentPool(ctx context.Context) error
	// ActiveAgentLoads returns every active agent with its current open-ticket count.
	ActiveAgentLoads(ctx context.Context) ([]AgentLoad, error)

	CashAccounts(ctx context.Context, clientID int64) ([]CashAccount, error)
	TopPositions(ctx context.Context, clientID int64, limit int) ([]Position, error)
	TradeByRef(ctx context.Context, clientID int64, ref string) (*Trade, error)
	LatestTrade(ctx context.Context, clientID int64) (*Trade, error)

	// CreateTicket inserts t and fills in its ID and Ref.
	CreateTicket(ctx context.Context, t *Ticket) error
	// TicketForUpdate loads a client's ticket by reference and locks its row.
	TicketForUpdate(ctx context.Context, ref string, clientID int64) (*Ticket, error)
	ReopenTicket(ctx context.Context, ticketID, ownerAgentID int64) error

	InsertPlanStep(ctx context.Context, s PlanStep) error
	InsertHop(ctx context.Context, h Hop) error
	// ReleaseOpenAssignments stamps released_at on the ticket's open assignment, if any.
	ReleaseOpenAssignments(ctx context.Context, ticketID int64, at time.Time) (int64, error)
	InsertAssignment(ctx context.Context, a Assignment) (int64, error)
	// AppendTrace assigns the next per-ticket sequence number and inserts s.
	AppendTrace(ctx context.Context, s TraceStep) (TraceStep, error)
	InsertMessage(ctx context.Context, m Message) error

	TicketSummary(ctx context.Context, ref string) (*TicketSummary, error)
	DecisionPath(ctx context.Context, ticketID int64) ([]PathEntry, error)
}
