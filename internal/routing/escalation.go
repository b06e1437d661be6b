package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEscalationMarker is the dissatisfaction token clients are told to reply with.
const DefaultEscalationMarker = "NOT RESOLVED"

var ticketRefRE = regexp.MustCompile(`\bTCK\d{6}\b`)

// Signal is the outcome of scanning an inbound message for a dissatisfaction reply.
type Signal struct {
	Escalate  bool
	Marker    string
	TicketRef string
}

// DetectEscalation scans the upper-cased subject and body for any of markers and,
// on a match, the first ticket reference token. With no markers the default applies.
func DetectEscalation(subject, body string, markers ...string) Signal {
	if len(markers) == 0 {
		markers = []string{DefaultEscalationMarker}
	}
	text := strings.ToUpper(subject + " " + body)

	for _, m := range markers {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || !strings.Contains(text, m) {
			continue
		}
		return Signal{Escalate: true, Marker: m, TicketRef: ticketRefRE.FindString(text)}
	}
	return Signal{}
}

const (
	reasonEscalationOwner = "Client not resolved escalation"
	roleOwner             = "PRIMARY_OWNER"
)

// escalate reopens a client's ticket and hands it to a freshly balanced human owner.
func (e *Engine) escalate(ctx context.Context, msg InboundMessage, client *Client, sig Signal) (*Result, error) {
	if sig.TicketRef == "" {
		e.metrics.failure(CodeMissingTicketRef)
		return e.userError(CodeMissingTicketRef, client.Email, msg.Subject, missingRefReply(sig.Marker)), nil
	}

	now := e.now()
	path := numbered([]string{"Client satisfied: NO", "Human handoff: COMPLETED"})
	var (
		res      *Result
		notFound bool
	)
	err := e.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.TicketForUpdate(ctx, sig.TicketRef, client.ID)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock ticket %s: %w", sig.TicketRef, err)
		}

		owner, err := BestAgent(ctx, tx, t.PrimaryDeskID)
		if err != nil {
			return err
		}
		if err := tx.ReopenTicket(ctx, t.ID, owner.AgentID); err != nil {
			return fmt.Errorf("reopen ticket: %w", err)
		}
		if _, err := tx.ReleaseOpenAssignments(ctx, t.ID, now); err != nil {
			return fmt.Errorf("release assignment: %w", err)
		}
		if _, err := tx.InsertAssignment(ctx, Assignment{
			TicketID:   t.ID,
			AgentID:    owner.AgentID,
			DeskID:     t.PrimaryDeskID,
			Role:       roleOwner,
			Reason:     reasonEscalationOwner,
			AssignedAt: now,
		}); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}

		trace := newTraceWriter(tx, t.ID, now)
		dissatisfied, err := trace.add(ctx, nodeClientSatisfied, "NO",
			fmt.Sprintf("Client explicitly replied %s.", sig.Marker), ActorSystem, nil)
		if err != nil {
			return err
		}
		agentID := owner.AgentID
		if _, err := trace.add(ctx, nodeBestFitAgent, "ROUTE_TO_"+owner.Code,
			"Escalation from AI response to human owner.", ActorAI, &agentID); err != nil {
			return err
		}

		lead := "Thanks for your update. Your ticket has been escalated to a human owner.\n" +
			fmt.Sprintf("Assigned owner: %s (%s)", owner.Code, owner.Email)
		body := replyBody(client.Name, lead, path, t.Ref, "")

		if err := tx.InsertMessage(ctx, e.inboundMessage(t.ID, msg, client.Email, now, &dissatisfied.ID)); err != nil {
			return fmt.Errorf("insert inbound message: %w", err)
		}
		if err := tx.InsertMessage(ctx, e.outboundMessage(t.ID, msg, client.Email, body,
			now.Add(escalationReplyDelay), &dissatisfied.ID)); err != nil {
			return fmt.Errorf("insert outbound message: %w", err)
		}

		res = &Result{
			OK:             true,
			TicketID:       t.ID,
			TicketRef:      t.Ref,
			IntentCode:     t.IntentCode,
			Priority:       t.Priority,
			Status:         StatusInProgress,
			OwnerAgentCode: owner.Code,
			ToEmail:        client.Email,
			ReplySubject:   replySubject(msg.Subject),
			ReplyBody:      body,
			DecisionPath:   path,
		}
		return nil
	})
	if err != nil {
		return e.persistFailure(msg, err)
	}
	if notFound {
		e.metrics.failure(CodeTicketNotForClient)
		return e.userError(CodeTicketNotForClient, client.Email, msg.Subject, notForClientReply(sig.TicketRef)), nil
	}

	e.metrics.escalation()
	e.logger.Info("ticket escalated",
		zap.String("ticket_ref", res.TicketRef),
		zap.String("owner", res.OwnerAgentCode))
	return res, nil
}

const escalationReplyDelay = 5 * time.Minute
