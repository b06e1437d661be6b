package routing

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen          Status = "OPEN"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusWaitingClient Status = "WAITING_CLIENT"
	StatusEscalated     Status = "ESCALATED"
	StatusResolved      Status = "RESOLVED"
	StatusClosed        Status = "CLOSED"
)

// OpenStatuses count towards an agent's load.
var OpenStatuses = []Status{StatusOpen, StatusInProgress, StatusWaitingClient, StatusEscalated}

// Priority of a ticket.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// NormalizePriority maps anything outside the closed set to MEDIUM.
func NormalizePriority(p string) Priority {
	switch Priority(p) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(p)
	}
	return PriorityMedium
}

func (p Priority) urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Actor is who took a routing decision.
type Actor string

const (
	ActorAI     Actor = "AI"
	ActorHuman  Actor = "HUMAN"
	ActorSystem Actor = "SYSTEM"
)

// Direction of a correspondence message.
type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

// InboundMessage is what the channel adapter hands to the engine.
type InboundMessage struct {
	FromEmail string `json:"from_email" binding:"required"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Classification is the fixed-shape output of the classification gateway.
type Classification struct {
	IntentCode        string   `json:"intent_code"`
	Confidence        float64  `json:"confidence"`
	ObjectiveRequest  bool     `json:"objective_request"`
	RequiresMultiDesk bool     `json:"requires_multi_desk_hint"`
	Priority          Priority `json:"priority"`
	Rationale         string   `json:"reasoning_short"`
}

// Client is a registered requester.
type Client struct {
	ID            int64
	Code          string
	Name          string
	Email         string
	PrimaryDeskID int64
}

// Desk is a specialty queue.
type Desk struct {
	ID   int64
	Code string
	Name string
}

// AgentLoad is an active agent together with its open-ticket count at read time.
type AgentLoad struct {
	AgentID     int64
	Code        string
	Name        string
	Email       string
	DeskID      int64
	MaxOpen     int
	OpenTickets int
}

// AvailableSlots is the remaining capacity, possibly negative.
func (a AgentLoad) AvailableSlots() int {
	return a.MaxOpen - a.OpenTickets
}

// Ticket is the central mutable entity.
type Ticket struct {
	ID                int64
	Ref               string
	ClientID          int64
	TradeID           *int64
	IntentCode        string
	RequesterEmail    string
	Channel           string
	ExternalMessageID string
	Subject           string
	Body              string
	Priority          Priority
	Automatable       bool
	RequiresMultiDesk bool
	Status            Status
	PrimaryDeskID     int64
	OwnerAgentID      *int64
	CreatedAt         time.Time
	FirstResponseAt   *time.Time
	ResolvedAt        *time.Time
	ClosedAt          *time.Time
	ClientSatisfied   *bool
}

// PlanStep is one entry in a ticket's immutable desk plan.
type PlanStep struct {
	TicketID int64
	Seq      int
	DeskID   int64
	Reason   string
	Required bool
}

// Hop is a desk-to-desk transition actually taken.
type Hop struct {
	TicketID   int64
	Seq        int
	FromDeskID *int64
	ToDeskID   int64
	AgentID    *int64
	Reason     string
	At         time.Time
}

// Assignment records agent ownership over time.
type Assignment struct {
	ID         int64
	TicketID   int64
	AgentID    int64
	DeskID     int64
	Role       string
	Reason     string
	AssignedAt time.Time
	ReleasedAt *time.Time
}

// TraceStep is one node of a ticket's decision path.
type TraceStep struct {
	ID        int64     `json:"trace_id"`
	TicketID  int64     `json:"ticket_id"`
	Seq       int       `json:"step_seq"`
	Node      string    `json:"node_name"`
	Decision  string    `json:"decision"`
	Rationale string    `json:"rationale"`
	Actor     Actor     `json:"actor_type"`
	AgentID   *int64    `json:"actor_agent_id,omitempty"`
	At        time.Time `json:"created_at"`
}

// Message is a correspondence record linked to a ticket.
type Message struct {
	TicketID       int64
	Direction      Direction
	ExternalID     string
	Channel        string
	Sender         string
	Recipient      string
	Subject        string
	Body           string
	SentAt         time.Time
	Automated      bool
	RelatedTraceID *int64
}

// CashAccount is a client cash account snapshot.
type CashAccount struct {
	Number    string
	Currency  string
	Balance   float64
	Available float64
	Held      float64
}

// Position is a client holding.
type Position struct {
	Symbol      string
	AssetClass  string
	Quantity    float64
	MarketPrice float64
	MarketValue float64
	AsOf        string
}

// Trade is a client trade record.
type Trade struct {
	ID             int64
	Ref            string
	Symbol         string
	Side           string
	Quantity       float64
	Price          float64
	Status         string
	FailReason     string
	SubmittedAt    string
	ConfirmedAt    string
	ExecutedAt     string
	SettlementDate string
}

// Result is returned to the channel adapter for every inbound message.
type Result struct {
	OK                bool            `json:"ok"`
	Error             string          `json:"error,omitempty"`
	Retryable         bool            `json:"retryable,omitempty"`
	TicketID          int64           `json:"ticket_id,omitempty"`
	TicketRef         string          `json:"ticket_ref,omitempty"`
	IntentCode        string          `json:"intent_code,omitempty"`
	Automatable       bool            `json:"automatable"`
	RequiresMultiDesk bool            `json:"requires_multi_desk"`
	Priority          Priority        `json:"priority,omitempty"`
	Status            Status          `json:"status,omitempty"`
	OwnerAgentCode    string          `json:"owner_agent_code,omitempty"`
	ToEmail           string          `json:"to_email,omitempty"`
	ReplySubject      string          `json:"reply_subject,omitempty"`
	ReplyBody         string          `json:"reply_body,omitempty"`
	DecisionPath      []string        `json:"decision_path"`
	Classification    *Classification `json:"classification,omitempty"`
}

// TicketSummary is the ticket part of a status query.
type TicketSummary struct {
	ID                int64      `json:"ticket_id"`
	Ref               string     `json:"ticket_ref"`
	Status            Status     `json:"status"`
	Automatable       bool       `json:"automatable"`
	RequiresMultiDesk bool       `json:"requires_multi_desk"`
	Priority          Priority   `json:"priority"`
	IntentCode        string     `json:"intent_code"`
	RequesterEmail    string     `json:"requester_email"`
	OwnerAgentCode    string     `json:"owner_agent_code,omitempty"`
	OwnerAgentEmail   string     `json:"owner_agent_email,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FirstResponseAt   *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	ClientSatisfied   *bool      `json:"client_satisfied,omitempty"`
}

// PathEntry is one row of the externally exposed decision path.
type PathEntry struct {
	Seq      int       `json:"step_seq"`
	Node     string    `json:"node_name"`
	Decision string    `json:"decision"`
	Actor    Actor     `json:"actor_type"`
	At       time.Time `json:"created_at"`
}

// TicketStatus is the answer to a status query.
type TicketStatus struct {
	Ticket       TicketSummary `json:"ticket"`
	DecisionPath []PathEntry   `json:"decision_path"`
}

// AuditEvent is a trace step together with its ticket as read by the relay.
type AuditEvent struct {
	Trace  TraceStep     `json:"trace"`
	Ticket TicketSummary `json:"ticket"`
}

// TicketRef is the public reference of a ticket id.
func TicketRef(id int64) string {
	return fmt.Sprintf("TCK%06d", id)
}
