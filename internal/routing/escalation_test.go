package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEscalation(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
		markers []string
		want    Signal
	}{
		{
			name:    "marker and reference",
			subject: "Re: your request",
			body:    "still not resolved, see tck000042",
			want:    Signal{Escalate: true, Marker: "NOT RESOLVED", TicketRef: "TCK000042"},
		},
		{
			name:    "marker in subject, reference in body",
			subject: "NOT RESOLVED",
			body:    "Ticket Reference: TCK000007 and TCK000008",
			want:    Signal{Escalate: true, Marker: "NOT RESOLVED", TicketRef: "TCK000007"},
		},
		{
			name:    "marker without reference",
			subject: "not resolved",
			want:    Signal{Escalate: true, Marker: "NOT RESOLVED"},
		},
		{
			name:    "reference embedded in a longer token",
			subject: "NOT RESOLVED",
			body:    "my order id XTCK0000017",
			want:    Signal{Escalate: true, Marker: "NOT RESOLVED"},
		},
		{
			name:    "embedded token skipped for a standalone reference",
			subject: "NOT RESOLVED",
			body:    "order TCK1234567, ticket TCK000003.",
			want:    Signal{Escalate: true, Marker: "NOT RESOLVED", TicketRef: "TCK000003"},
		},
		{
			name: "no marker",
			body: "Thanks, this is resolved. TCK000001",
			want: Signal{},
		},
		{
			name:    "custom markers",
			body:    "UNRESOLVED tck123456",
			markers: []string{"not resolved", "unresolved"},
			want:    Signal{Escalate: true, Marker: "UNRESOLVED", TicketRef: "TCK123456"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectEscalation(tt.subject, tt.body, tt.markers...))
		})
	}
}

func TestNumberedPath(t *testing.T) {
	assert.Equal(t, []string{"1) a", "2) b"}, numbered([]string{"a", "b"}))
}
