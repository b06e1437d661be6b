package routing

import (
	"fmt"
	"strings"
)

// Error codes surfaced to the channel adapter.
const (
	CodeUnknownClient      = "unknown_client"
	CodeMissingTicketRef   = "missing_ticket_reference"
	CodeTicketNotForClient = "ticket_not_found_for_client"
	CodePersistenceFailed  = "persistence_failed"
)

// numbered renders path labels as "1) label" lines.
func numbered(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = fmt.Sprintf("%d) %s", i+1, l)
	}
	return out
}

// replyBody assembles the public reply layout. The "Ticket Reference: TCKnnnnnn"
// line must stay scannable by exact match.
func replyBody(clientName, lead string, path []string, ticketRef, footer string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hello %s,\n\n", clientName)
	sb.WriteString(lead)
	sb.WriteString("\n\nDecision Path:\n")
	sb.WriteString(strings.Join(path, "\n"))
	fmt.Fprintf(&sb, "\n\nTicket Reference: %s", ticketRef)
	if footer != "" {
		sb.WriteString("\n")
		sb.WriteString(footer)
	}
	return sb.String()
}

func replySubject(subject string) string {
	return "Re: " + subject
}

func unknownClientReply() string {
	return "We could not match your sender email to a client profile. " +
		"Please provide your client code so we can route your request."
}

func missingRefReply(marker string) string {
	return fmt.Sprintf("We detected a %s request but could not find a ticket reference. "+
		"Please include your ticket reference in the format TCKxxxxxx.", marker)
}

func notForClientReply(ref string) string {
	return fmt.Sprintf("We could not find ticket %s for your client profile. "+
		"Please verify the reference and resend.", ref)
}

func retryLaterReply() string {
	return "We could not register your request right now. Please resend it in a few minutes."
}
