package routing

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// BestAgent picks the owning agent for a desk from loads read inside tx.
// The pool lock is taken first so the read and the caller's ownership write
// are not interleaved with another decision.
func BestAgent(ctx context.Context, tx Tx, deskID int64) (AgentLoad, error) {
	if err := tx.LockAgentPool(ctx); err != nil {
		return AgentLoad{}, fmt.Errorf("lock agent pool: %w", err)
	}
	loads, err := tx.ActiveAgentLoads(ctx)
	if err != nil {
		return AgentLoad{}, fmt.Errorf("read agent loads: %w", err)
	}
	return pickAgent(loads, deskID)
}

// pickAgent prefers the desk's own agents and falls back to the whole active pool.
func pickAgent(loads []AgentLoad, deskID int64) (AgentLoad, error) {
	var desk []AgentLoad
	for _, a := range loads {
		if a.DeskID == deskID {
			desk = append(desk, a)
		}
	}
	if ranked := rankAgents(desk); len(ranked) > 0 {
		return ranked[0], nil
	}
	if ranked := rankAgents(loads); len(ranked) > 0 {
		return ranked[0], nil
	}
	return AgentLoad{}, ErrNoActiveAgent
}

// rankAgents orders agents by open/capacity ratio, then free slots descending,
// then agent id. The input slice is not modified.
func rankAgents(loads []AgentLoad) []AgentLoad {
	ranked := append([]AgentLoad(nil), loads...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if c := compareRatio(a, b); c != 0 {
			return c < 0
		}
		if a.AvailableSlots() != b.AvailableSlots() {
			return a.AvailableSlots() > b.AvailableSlots()
		}
		return a.AgentID < b.AgentID
	})
	return ranked
}

// compareRatio compares open/max without floating point. Agents without
// capacity sort after every agent that has some.
func compareRatio(a, b AgentLoad) int {
	switch {
	case a.MaxOpen <= 0 && b.MaxOpen <= 0:
		return 0
	case a.MaxOpen <= 0:
		return 1
	case b.MaxOpen <= 0:
		return -1
	}
	l := int64(a.OpenTickets) * int64(b.MaxOpen)
	r := int64(b.OpenTickets) * int64(a.MaxOpen)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

// AgentLoadView is one row of the workload report.
type AgentLoadView struct {
	AgentCode      string  `json:"agent_code"`
	AgentName      string  `json:"agent_name"`
	DeskCode       string  `json:"desk_code"`
	OpenTickets    int     `json:"open_tickets"`
	MaxOpen        int     `json:"max_open_tickets"`
	AvailableSlots int     `json:"available_slots"`
	Utilization    float64 `json:"utilization"`
}

// AgentLoads reports every active agent's load, grouped by desk in id order.
// Within a desk agents appear in the order the balancer would pick them.
func (e *Engine) AgentLoads(ctx context.Context) ([]AgentLoadView, error) {
	var views []AgentLoadView
	err := e.store.InTx(ctx, func(tx Tx) error {
		desks, err := tx.Desks(ctx)
		if err != nil {
			return err
		}
		loads, err := tx.ActiveAgentLoads(ctx)
		if err != nil {
			return fmt.Errorf("read agent loads: %w", err)
		}

		byDesk := make(map[int64][]AgentLoad)
		for _, l := range loads {
			byDesk[l.DeskID] = append(byDesk[l.DeskID], l)
		}
		views = make([]AgentLoadView, 0, len(loads))
		for _, d := range desks {
			for _, l := range rankAgents(byDesk[d.ID]) {
				views = append(views, loadView(l, d.Code))
			}
		}
		return nil
	})
	return views, err
}

func loadView(l AgentLoad, deskCode string) AgentLoadView {
	v := AgentLoadView{
		AgentCode:      l.Code,
		AgentName:      l.Name,
		DeskCode:       deskCode,
		OpenTickets:    l.OpenTickets,
		MaxOpen:        l.MaxOpen,
		AvailableSlots: l.AvailableSlots(),
	}
	if l.MaxOpen > 0 {
		v.Utilization = math.Round(float64(l.OpenTickets)/float64(l.MaxOpen)*1000) / 1000
	}
	return v
}
