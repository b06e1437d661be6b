package routing

import "time"

const (
	reasonPrimaryDesk   = "Primary desk handling"
	reasonMultiDeskStep = "AI-generated multi-desk plan step"
	reasonInitialHop    = "Initial routing assignment"
	reasonTransferHop   = "AI-coordinated desk transfer"

	hopSpacing = time.Hour
)

// BuildPlan returns the ordered desk ids a ticket must traverse. The primary
// desk is always first; unknown desk codes in a configured sequence are skipped.
func BuildPlan(primaryDeskID int64, multiDesk bool, sequence []string, deskIDs map[string]int64) []int64 {
	if !multiDesk {
		return []int64{primaryDeskID}
	}

	var plan []int64
	for _, code := range sequence {
		if id, ok := deskIDs[code]; ok {
			plan = append(plan, id)
		}
	}
	if len(plan) == 0 {
		return []int64{primaryDeskID}
	}
	if plan[0] == primaryDeskID {
		return plan
	}

	out := []int64{primaryDeskID}
	for _, id := range plan {
		if id != primaryDeskID {
			out = append(out, id)
		}
	}
	return out
}

// planSteps turns a plan into persisted steps.
func planSteps(ticketID int64, plan []int64) []PlanStep {
	reason := reasonPrimaryDesk
	if len(plan) > 1 {
		reason = reasonMultiDeskStep
	}
	steps := make([]PlanStep, len(plan))
	for i, desk := range plan {
		steps[i] = PlanStep{TicketID: ticketID, Seq: i + 1, DeskID: desk, Reason: reason, Required: true}
	}
	return steps
}

// planHops mirrors the plan as hops, starting from no prior desk into step one.
func planHops(ticketID int64, plan []int64, agentID *int64, start time.Time) []Hop {
	hops := make([]Hop, len(plan))
	at := start
	for i, desk := range plan {
		h := Hop{TicketID: ticketID, Seq: i + 1, ToDeskID: desk, AgentID: agentID, At: at}
		if i == 0 {
			h.Reason = reasonInitialHop
		} else {
			from := plan[i-1]
			h.FromDeskID = &from
			h.Reason = reasonTransferHop
		}
		hops[i] = h
		at = at.Add(hopSpacing)
	}
	return hops
}
