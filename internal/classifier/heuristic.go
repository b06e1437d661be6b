// Package classifier turns an inbound subject and body into a routing
// classification, through a remote model when one is configured and a local
// keyword heuristic otherwise.
package classifier

import (
	"context"
	"math"
	"strings"

	"github.com/refset/desk-routing/internal/routing"
)

// DefaultMaxConfidence caps heuristic confidence.
const DefaultMaxConfidence = 0.92

const heuristicRationale = "Heuristic fallback classifier used."

type keywordRule struct {
	intent   string
	keywords []string
}

// Order matters: on equal hit counts the earlier intent wins.
var intentKeywords = []keywordRule{
	{"cash_balance", []string{"cash balance", "available cash", "cash position", "liquidity"}},
	{"position_summary", []string{"position", "holdings", "portfolio", "exposure"}},
	{"trade_status", []string{"trade status", "execution status", "executed", "confirmed"}},
	{"settlement_eta", []string{"settlement", "value date", "when settle", "eta"}},
	{"failed_trade_investigation", []string{"failed trade", "investigation", "reconcile", "break"}},
	{"trade_amendment_request", []string{"amend", "amendment", "correct trade", "change quantity", "change price"}},
	{"account_closure_request", []string{"account closure", "close account", "terminate account"}},
	{"sanctions_review_query", []string{"sanctions", "aml", "watchlist", "restricted"}},
	{"corporate_action_instruction", []string{"corporate action", "dividend election", "rights issue", "tender"}},
	{"fee_dispute", []string{"fee dispute", "incorrect fee", "charge issue", "billing dispute"}},
}

var (
	subjectiveHints = []string{"advice", "recommend", "opinion", "best strategy", "what should we do"}
	multiDeskHints  = []string{"failed", "investigation", "sanctions", "corporate action", "reconcile", "closure"}
)

// Heuristic is the deterministic keyword classifier. It never fails.
type Heuristic struct {
	DefaultIntent string
	MaxConfidence float64
}

// NewHeuristic returns a Heuristic with the stock default intent and cap.
func NewHeuristic() Heuristic {
	return Heuristic{DefaultIntent: "fee_dispute", MaxConfidence: DefaultMaxConfidence}
}

func (h Heuristic) Classify(_ context.Context, subject, body string) (routing.Classification, error) {
	return h.classify(subject, body), nil
}

func (h Heuristic) classify(subject, body string) routing.Classification {
	text := strings.ToLower(subject + " " + body)

	best, bestHits := h.DefaultIntent, 0
	if best == "" {
		best = "fee_dispute"
	}
	for _, r := range intentKeywords {
		if hits := countHits(text, r.keywords); hits > bestHits {
			best, bestHits = r.intent, hits
		}
	}

	maxConf := h.MaxConfidence
	if maxConf <= 0 {
		maxConf = DefaultMaxConfidence
	}
	confidence := 0.55
	if bestHits > 0 {
		confidence = math.Min(0.55+0.12*float64(bestHits), maxConf)
	}

	return routing.Classification{
		IntentCode:        best,
		Confidence:        math.Round(confidence*100) / 100,
		ObjectiveRequest:  countHits(text, subjectiveHints) == 0,
		RequiresMultiDesk: countHits(text, multiDeskHints) > 0,
		Priority:          priorityOf(text),
		Rationale:         heuristicRationale,
	}
}

func priorityOf(text string) routing.Priority {
	switch {
	case containsAny(text, "urgent", "critical", "escalate"):
		return routing.PriorityCritical
	case containsAny(text, "failed", "sanctions"):
		return routing.PriorityHigh
	case containsAny(text, "amend", "dispute"):
		return routing.PriorityMedium
	}
	return routing.PriorityLow
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

func containsAny(text string, words ...string) bool {
	return countHits(text, words) > 0
}
