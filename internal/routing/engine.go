package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultConfidenceThreshold is the classification confidence below which the
// engine stops trusting the intent and routes to a human.
const DefaultConfidenceThreshold = 0.65

// Trace node names.
const (
	nodeDataAvailable   = "Data directly available without interpretation?"
	nodeAutoResponse    = "AI response using internal database"
	nodeClientSatisfied = "Client satisfied?"
	nodeMultiDesk       = "Does this require multiple desks?"
	nodeCoordinator     = "AI multi-desk workflow coordinator"
	nodeOwnerAccount    = "Human ticket owner accountable"
	nodeBestFitAgent    = "Suggest best-fit human agent based on specialty, load, and queue risk"
)

const (
	firstResponseAuto  = 8 * time.Minute
	firstResponseHuman = 30 * time.Minute
	resolveAuto        = 15 * time.Minute
	assignDelay        = 2 * time.Minute
	traceSpacing       = time.Minute

	reasonRoutingOwner = "Assigned by AI routing based on specialty and workload."
)

// Classifier turns free text into a Classification.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (Classification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, subject, body string) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, subject, body string) (Classification, error) {
	return f(ctx, subject, body)
}

// Options tune an Engine. Zero values take the documented defaults.
type Options struct {
	ConfidenceThreshold float64
	EscalationMarkers   []string
	SenderEmail         string
	InboxEmail          string
	DefaultChannel      string

	Logger  *zap.Logger
	Metrics *Metrics
	// Now is the clock; tests pin it.
	Now func() time.Time
}

// Engine turns inbound client messages into routed, audited tickets.
type Engine struct {
	store      Store
	rules      *RuleTable
	classifier Classifier

	threshold float64
	markers   []string
	sender    string
	inbox     string
	channel   string

	logger  *zap.Logger
	metrics *Metrics
	clock   func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(store Store, rules *RuleTable, classifier Classifier, opts Options) *Engine {
	e := &Engine{
		store:      store,
		rules:      rules,
		classifier: classifier,
		threshold:  opts.ConfidenceThreshold,
		markers:    opts.EscalationMarkers,
		sender:     opts.SenderEmail,
		inbox:      opts.InboxEmail,
		channel:    opts.DefaultChannel,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		clock:      opts.Now,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultConfidenceThreshold
	}
	if len(e.markers) == 0 {
		e.markers = []string{DefaultEscalationMarker}
	}
	if e.sender == "" {
		e.sender = "ai-router@mvp.demo"
	}
	if e.inbox == "" {
		e.inbox = "client-service@mvp.demo"
	}
	if e.channel == "" {
		e.channel = "EMAIL"
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Second)
}

// Validate checks the configuration invariants against the store: every rule's
// primary desk and multi-desk sequence must exist and at least one agent must be active.
func (e *Engine) Validate(ctx context.Context) error {
	return e.store.InTx(ctx, func(tx Tx) error {
		desks, err := deskIndex(ctx, tx)
		if err != nil {
			return err
		}
		for _, r := range e.rules.Rules() {
			if _, ok := desks[r.PrimaryDesk]; !ok {
				return fmt.Errorf("%w: %s (primary desk of %s)", ErrUnknownDesk, r.PrimaryDesk, r.IntentCode)
			}
			for _, code := range e.rules.Sequence(r.IntentCode) {
				if _, ok := desks[code]; !ok {
					e.logger.Warn("multi-desk sequence names unknown desk",
						zap.String("intent", r.IntentCode), zap.String("desk", code))
				}
			}
		}
		loads, err := tx.ActiveAgentLoads(ctx)
		if err != nil {
			return fmt.Errorf("read agent loads: %w", err)
		}
		if len(loads) == 0 {
			return ErrNoActiveAgent
		}
		return nil
	})
}

// ProcessInbound handles one inbound message. User input problems and
// persistence failures come back as a Result with OK unset; the error return is
// reserved for configuration faults the service cannot recover from.
func (e *Engine) ProcessInbound(ctx context.Context, msg InboundMessage) (*Result, error) {
	start := time.Now()
	if msg.Channel == "" {
		msg.Channel = e.channel
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	msg.FromEmail = strings.TrimSpace(msg.FromEmail)

	res, err := e.process(ctx, msg)
	switch {
	case err != nil:
		e.metrics.observe("fatal", start)
	case res.OK:
		e.metrics.observe("ok", start)
	default:
		e.metrics.observe(res.Error, start)
	}
	return res, err
}

func (e *Engine) process(ctx context.Context, msg InboundMessage) (*Result, error) {
	var client *Client
	err := e.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.ClientByEmail(ctx, msg.FromEmail)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		e.metrics.failure(CodeUnknownClient)
		e.logger.Info("inbound from unknown sender", zap.String("from", msg.FromEmail))
		return e.userError(CodeUnknownClient, msg.FromEmail, msg.Subject, unknownClientReply()), nil
	}
	if err != nil {
		return e.persistFailure(msg, fmt.Errorf("lookup client: %w", err))
	}

	if sig := DetectEscalation(msg.Subject, msg.Body, e.markers...); sig.Escalate {
		return e.escalate(ctx, msg, client, sig)
	}

	cls := e.classify(ctx, msg)
	return e.route(ctx, msg, client, cls)
}

// classify never fails: a gateway error degrades to a zero-confidence
// classification, which the guardrail sends to a human.
func (e *Engine) classify(ctx context.Context, msg InboundMessage) Classification {
	cls, err := e.classifier.Classify(ctx, msg.Subject, msg.Body)
	if err != nil {
		e.logger.Warn("classification failed, routing to default intent", zap.Error(err))
		e.metrics.ClassifierFallback("engine_error")
		return Classification{
			IntentCode: e.rules.DefaultIntent(),
			Priority:   PriorityMedium,
			Rationale:  "Classification unavailable.",
		}
	}
	return cls
}

// decision is the pure part of routing, computed before any write.
type decision struct {
	rule           Rule
	priority       Priority
	candidateAuto  bool
	candidateMulti bool
	classification Classification
}

func (e *Engine) decide(cls Classification) decision {
	if cls.Confidence < e.threshold || !KnownIntent(cls.IntentCode) {
		cls.IntentCode = e.rules.DefaultIntent()
		cls.ObjectiveRequest = false
		cls.RequiresMultiDesk = true
	}
	rule := e.rules.RuleFor(cls.IntentCode)
	auto := rule.DirectDataAvailable && cls.ObjectiveRequest
	multi := !auto && (rule.DefaultMultiDesk || cls.RequiresMultiDesk)
	return decision{
		rule:           rule,
		priority:       NormalizePriority(string(cls.Priority)),
		candidateAuto:  auto,
		candidateMulti: multi,
		classification: cls,
	}
}

func (e *Engine) route(ctx context.Context, msg InboundMessage, client *Client, cls Classification) (*Result, error) {
	d := e.decide(cls)
	created := e.now()

	var res *Result
	err := e.store.InTx(ctx, func(tx Tx) error {
		desks, err := deskIndex(ctx, tx)
		if err != nil {
			return err
		}
		primary, ok := desks[d.rule.PrimaryDesk]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDesk, d.rule.PrimaryDesk)
		}

		var data Resolution
		if d.candidateAuto {
			data, err = Resolve(ctx, tx, client.ID, d.rule.IntentCode, msg.Subject, msg.Body)
			if err != nil {
				return err
			}
		}
		automated := d.candidateAuto && data.OK
		multi := !automated && d.candidateMulti

		t := &Ticket{
			ClientID:          client.ID,
			TradeID:           data.TradeID,
			IntentCode:        d.rule.IntentCode,
			RequesterEmail:    msg.FromEmail,
			Channel:           msg.Channel,
			ExternalMessageID: msg.MessageID,
			Subject:           msg.Subject,
			Body:              msg.Body,
			Priority:          d.priority,
			Automatable:       automated,
			RequiresMultiDesk: multi,
			PrimaryDeskID:     primary,
			CreatedAt:         created,
		}

		var owner *AgentLoad
		if automated {
			satisfied := true
			first, resolved := created.Add(firstResponseAuto), created.Add(resolveAuto)
			t.Status, t.ClientSatisfied = StatusResolved, &satisfied
			t.FirstResponseAt, t.ResolvedAt = &first, &resolved
		} else {
			a, err := BestAgent(ctx, tx, primary)
			if err != nil {
				return err
			}
			owner = &a
			t.OwnerAgentID = &a.AgentID
			first := created.Add(firstResponseHuman)
			t.FirstResponseAt = &first
			t.Status = StatusInProgress
			if multi && d.priority.urgent() {
				t.Status = StatusEscalated
			}
		}

		if err := tx.CreateTicket(ctx, t); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}

		var agentID *int64
		if owner != nil {
			agentID = &owner.AgentID
		}
		plan := BuildPlan(primary, multi, e.rules.Sequence(d.rule.IntentCode), desks)
		for _, s := range planSteps(t.ID, plan) {
			if err := tx.InsertPlanStep(ctx, s); err != nil {
				return fmt.Errorf("insert plan step: %w", err)
			}
		}
		for _, h := range planHops(t.ID, plan, agentID, created.Add(assignDelay)) {
			if err := tx.InsertHop(ctx, h); err != nil {
				return fmt.Errorf("insert hop: %w", err)
			}
		}
		if owner != nil {
			if _, err := tx.InsertAssignment(ctx, Assignment{
				TicketID:   t.ID,
				AgentID:    owner.AgentID,
				DeskID:     primary,
				Role:       roleOwner,
				Reason:     reasonRoutingOwner,
				AssignedAt: created.Add(assignDelay),
			}); err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
		}

		trace := newTraceWriter(tx, t.ID, created.Add(traceSpacing))
		related, path, lead, footer, err := e.traceDecision(ctx, trace, d, t, owner, client, data)
		if err != nil {
			return err
		}
		body := replyBody(client.Name, lead, path, t.Ref, footer)

		if err := tx.InsertMessage(ctx, e.inboundMessage(t.ID, msg, msg.FromEmail, created, nil)); err != nil {
			return fmt.Errorf("insert inbound message: %w", err)
		}
		if err := tx.InsertMessage(ctx, e.outboundMessage(t.ID, msg, msg.FromEmail, body,
			*t.FirstResponseAt, &related.ID)); err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}

		classification := d.classification
		res = &Result{
			OK:                true,
			TicketID:          t.ID,
			TicketRef:         t.Ref,
			IntentCode:        t.IntentCode,
			Automatable:       automated,
			RequiresMultiDesk: multi,
			Priority:          t.Priority,
			Status:            t.Status,
			ToEmail:           msg.FromEmail,
			ReplySubject:      replySubject(msg.Subject),
			ReplyBody:         body,
			DecisionPath:      path,
			Classification:    &classification,
		}
		if owner != nil {
			res.OwnerAgentCode = owner.Code
		}
		return nil
	})
	if err != nil {
		return e.persistFailure(msg, err)
	}

	e.metrics.decision(decisionLabel(res))
	e.logger.Info("ticket routed",
		zap.String("ticket_ref", res.TicketRef),
		zap.String("intent", res.IntentCode),
		zap.String("status", string(res.Status)),
		zap.String("owner", res.OwnerAgentCode),
		zap.Float64("confidence", cls.Confidence))
	return res, nil
}

// traceDecision writes the decision-path trace for a new ticket and returns the
// step the outbound reply links to plus the reply's path, lead and footer.
func (e *Engine) traceDecision(ctx context.Context, w *traceWriter, d decision, t *Ticket, owner *AgentLoad,
	client *Client, data Resolution) (TraceStep, []string, string, string, error) {
	var none TraceStep

	if _, err := w.add(ctx, nodeDataAvailable, yesNo(t.Automatable),
		"Routing rule + objective check + data availability verification.", ActorAI, nil); err != nil {
		return none, nil, "", "", err
	}

	if t.Automatable {
		lead, err := d.rule.Render(TemplateData{ClientName: client.Name, IntentName: d.rule.IntentName, Answer: data.Answer})
		if err != nil {
			return none, nil, "", "", err
		}
		sent, err := w.add(ctx, nodeAutoResponse, "AUTO_RESPONSE_SENT", d.rule.IntentName, ActorAI, nil)
		if err != nil {
			return none, nil, "", "", err
		}
		if _, err := w.add(ctx, nodeClientSatisfied, "YES",
			"Initial response delivered with direct objective data.", ActorSystem, nil); err != nil {
			return none, nil, "", "", err
		}
		path := numbered([]string{
			"Data directly available: YES",
			"AI response using internal database: SENT",
			"Client satisfied: assumed YES (initial request)",
		})
		footer := fmt.Sprintf("If this does not resolve your request, reply with %s.", e.markers[0])
		return sent, path, lead, footer, nil
	}

	if _, err := w.add(ctx, nodeMultiDesk, yesNo(t.RequiresMultiDesk),
		"Intent complexity and routing hints applied.", ActorAI, nil); err != nil {
		return none, nil, "", "", err
	}
	agentID := owner.AgentID

	if t.RequiresMultiDesk {
		coord, err := w.add(ctx, nodeCoordinator, "PLAN_CREATED",
			"Created desk sequence and handoff plan.", ActorAI, nil)
		if err != nil {
			return none, nil, "", "", err
		}
		if _, err := w.add(ctx, nodeOwnerAccount, "OWNER_ASSIGNED_"+owner.Code,
			"One human owner remains accountable across desks.", ActorHuman, &agentID); err != nil {
			return none, nil, "", "", err
		}
		path := numbered([]string{
			"Data directly available: NO",
			"Requires multiple desks: YES",
			"AI multi-desk workflow coordinator: PLAN_CREATED",
			"Human owner assigned: " + owner.Code,
		})
		lead := "Your request requires coordinated processing across multiple desks.\n" +
			fmt.Sprintf("Accountable owner: %s (%s).", owner.Code, owner.Email)
		return coord, path, lead, "You will receive progress updates as each desk step completes.", nil
	}

	route, err := w.add(ctx, nodeBestFitAgent, "ROUTE_TO_"+owner.Code,
		"Single-desk expert route based on active workload.", ActorAI, &agentID)
	if err != nil {
		return none, nil, "", "", err
	}
	path := numbered([]string{
		"Data directly available: NO",
		"Requires multiple desks: NO",
		"Best-fit human owner assigned: " + owner.Code,
	})
	lead := "Your request requires human review.\n" +
		fmt.Sprintf("Assigned owner: %s (%s).", owner.Code, owner.Email)
	return route, path, lead, "", nil
}

// GetTicketStatus returns the ticket summary and its ordered decision path.
func (e *Engine) GetTicketStatus(ctx context.Context, ref string) (*TicketStatus, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	var st *TicketStatus
	err := e.store.InTx(ctx, func(tx Tx) error {
		sum, err := tx.TicketSummary(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			return ErrTicketNotFound
		}
		if err != nil {
			return fmt.Errorf("ticket summary: %w", err)
		}
		path, err := tx.DecisionPath(ctx, sum.ID)
		if err != nil {
			return fmt.Errorf("decision path: %w", err)
		}
		st = &TicketStatus{Ticket: *sum, DecisionPath: path}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) userError(code, to, subject, reply string) *Result {
	return &Result{
		OK:           false,
		Error:        code,
		ToEmail:      to,
		ReplySubject: replySubject(subject),
		ReplyBody:    reply,
		DecisionPath: []string{},
	}
}

// persistFailure maps a failed transaction to a retryable result, except for
// configuration faults which are returned as errors.
func (e *Engine) persistFailure(msg InboundMessage, err error) (*Result, error) {
	if IsFatal(err) {
		e.logger.Error("routing configuration fault", zap.Error(err))
		return nil, err
	}
	e.metrics.failure(CodePersistenceFailed)
	e.logger.Error("inbound persistence failed",
		zap.String("from", msg.FromEmail),
		zap.String("message_id", msg.MessageID),
		zap.Error(err))
	res := e.userError(CodePersistenceFailed, msg.FromEmail, msg.Subject, retryLaterReply())
	res.Retryable = true
	return res, nil
}

// IsFatal reports whether err is a configuration fault rather than a transient failure.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoActiveAgent) || errors.Is(err, ErrNoDefaultRule) || errors.Is(err, ErrUnknownDesk)
}

func (e *Engine) inboundMessage(ticketID int64, msg InboundMessage, from string, at time.Time, related *int64) Message {
	return Message{
		TicketID:       ticketID,
		Direction:      Inbound,
		ExternalID:     msg.MessageID,
		Channel:        msg.Channel,
		Sender:         from,
		Recipient:      e.inbox,
		Subject:        msg.Subject,
		Body:           msg.Body,
		SentAt:         at,
		RelatedTraceID: related,
	}
}

func (e *Engine) outboundMessage(ticketID int64, msg InboundMessage, to, body string, at time.Time, related *int64) Message {
	return Message{
		TicketID:       ticketID,
		Direction:      Outbound,
		ExternalID:     uuid.NewString(),
		Channel:        msg.Channel,
		Sender:         e.sender,
		Recipient:      to,
		Subject:        replySubject(msg.Subject),
		Body:           body,
		SentAt:         at,
		Automated:      true,
		RelatedTraceID: related,
	}
}

func deskIndex(ctx context.Context, tx Tx) (map[string]int64, error) {
	desks, err := tx.Desks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read desks: %w", err)
	}
	idx := make(map[string]int64, len(desks))
	for _, d := range desks {
		idx[d.Code] = d.ID
	}
	return idx, nil
}

func decisionLabel(r *Result) string {
	switch {
	case r.Automatable:
		return "automated"
	case r.RequiresMultiDesk:
		return "multi_desk"
	}
	return "single_desk"
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

// traceWriter appends trace steps one minute apart.
type traceWriter struct {
	tx       Tx
	ticketID int64
	at       time.Time
}

func newTraceWriter(tx Tx, ticketID int64, start time.Time) *traceWriter {
	return &traceWriter{tx: tx, ticketID: ticketID, at: start}
}

func (w *traceWriter) add(ctx context.Context, node, decision, rationale string, actor Actor, agentID *int64) (TraceStep, error) {
	s, err := w.tx.AppendTrace(ctx, TraceStep{
		TicketID:  w.ticketID,
		Node:      node,
		Decision:  decision,
		Rationale: rationale,
		Actor:     actor,
		AgentID:   agentID,
		At:        w.at,
	})
	if err != nil {
		return TraceStep{}, fmt.Errorf("append trace %q: %w", node, err)
	}
	w.at = w.at.Add(traceSpacing)
	return s, nil
}
