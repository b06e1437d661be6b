package routing

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

var testDesks = map[string]int64{"CS": 1, "TRD": 2, "SET": 3, "CASH": 4, "CMP": 5, "CA": 6, "ACCT": 7}

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name     string
		primary  int64
		multi    bool
		sequence []string
		want     []int64
	}{
		{"single desk", 2, false, []string{"TRD", "SET"}, []int64{2}},
		{"sequence starting at primary", 2, true, []string{"TRD", "SET", "CASH"}, []int64{2, 3, 4}},
		{"primary prepended", 7, true, []string{"CMP", "ACCT", "CASH"}, []int64{7, 5, 4}},
		{"unknown codes skipped", 5, true, []string{"CMP", "NOPE", "CS"}, []int64{5, 1}},
		{"no sequence", 1, true, nil, []int64{1}},
		{"only unknown codes", 1, true, []string{"X", "Y"}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildPlan(tt.primary, tt.multi, tt.sequence, testDesks)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildPlan() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.primary, got[0])
		})
	}
}

func TestPlanHopsMirrorPlan(t *testing.T) {
	start := time.Date(2026, 2, 1, 9, 2, 0, 0, time.UTC)
	agent := int64(3)
	hops := planHops(42, []int64{2, 3, 4}, &agent, start)

	from2, from3 := int64(2), int64(3)
	want := []Hop{
		{TicketID: 42, Seq: 1, ToDeskID: 2, AgentID: &agent, Reason: reasonInitialHop, At: start},
		{TicketID: 42, Seq: 2, FromDeskID: &from2, ToDeskID: 3, AgentID: &agent, Reason: reasonTransferHop, At: start.Add(time.Hour)},
		{TicketID: 42, Seq: 3, FromDeskID: &from3, ToDeskID: 4, AgentID: &agent, Reason: reasonTransferHop, At: start.Add(2 * time.Hour)},
	}
	if diff := cmp.Diff(want, hops); diff != "" {
		t.Errorf("planHops() mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanStepsReason(t *testing.T) {
	single := planSteps(1, []int64{4})
	assert.Equal(t, reasonPrimaryDesk, single[0].Reason)
	assert.True(t, single[0].Required)

	multi := planSteps(1, []int64{2, 3})
	assert.Equal(t, 2, multi[1].Seq)
	assert.Equal(t, reasonMultiDeskStep, multi[1].Reason)
}
