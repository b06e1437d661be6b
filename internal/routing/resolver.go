package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

var tradeRefRE = regexp.MustCompile(`(?i)\bTRD\d{6}\b`)

const (
	maxListedAccounts = 4
	topPositions      = 5
)

// Resolution is the outcome of a direct-data lookup.
type Resolution struct {
	OK      bool
	Answer  string
	TradeID *int64
}

// ExtractTradeRef returns the first trade reference token in the text, upper-cased.
func ExtractTradeRef(subject, body string) string {
	m := tradeRefRE.FindString(subject + " " + body)
	return strings.ToUpper(m)
}

// Resolve answers an objectively answerable intent from the client's own records.
// A false Resolution is a normal outcome; the error is reserved for store failures.
func Resolve(ctx context.Context, tx Tx, clientID int64, intentCode, subject, body string) (Resolution, error) {
	switch intentCode {
	case "cash_balance":
		return resolveCash(ctx, tx, clientID)
	case "position_summary":
		return resolvePositions(ctx, tx, clientID)
	case "trade_status", "settlement_eta":
		return resolveTrade(ctx, tx, clientID, ExtractTradeRef(subject, body))
	}
	return Resolution{Answer: "Direct data retrieval is not configured for this intent."}, nil
}

func resolveCash(ctx context.Context, tx Tx, clientID int64) (Resolution, error) {
	accounts, err := tx.CashAccounts(ctx, clientID)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve cash: %w", err)
	}
	if len(accounts) == 0 {
		return Resolution{Answer: "No cash account found for this client."}, nil
	}

	lines := []string{"Cash account snapshot:"}
	for i, a := range accounts {
		if i == maxListedAccounts {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): balance=%s, available=%s, held=%s",
			a.Number, a.Currency, amount(a.Balance), amount(a.Available), amount(a.Held)))
	}
	return Resolution{OK: true, Answer: strings.Join(lines, "\n")}, nil
}

func resolvePositions(ctx context.Context, tx Tx, clientID int64) (Resolution, error) {
	positions, err := tx.TopPositions(ctx, clientID, topPositions)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve positions: %w", err)
	}
	if len(positions) == 0 {
		return Resolution{Answer: "No positions found for this client."}, nil
	}

	lines := []string{"Top positions by market value:"}
	for _, p := range positions {
		lines = append(lines, fmt.Sprintf("- %s (%s): qty=%s, px=%s, mv=%s (as of %s)",
			p.Symbol, p.AssetClass, amount(p.Quantity), price(p.MarketPrice), amount(p.MarketValue), p.AsOf))
	}
	return Resolution{OK: true, Answer: strings.Join(lines, "\n")}, nil
}

func resolveTrade(ctx context.Context, tx Tx, clientID int64, ref string) (Resolution, error) {
	var (
		trade *Trade
		err   error
	)
	if ref != "" {
		trade, err = tx.TradeByRef(ctx, clientID, ref)
	} else {
		trade, err = tx.LatestTrade(ctx, clientID)
	}
	if errors.Is(err, ErrNotFound) {
		return Resolution{Answer: "No trade found for this client."}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve trade: %w", err)
	}

	lines := []string{
		fmt.Sprintf("Trade %s (%s %s) status: %s", trade.Ref, trade.Symbol, trade.Side, trade.Status),
		fmt.Sprintf("- qty=%s, price=%s, submitted_at=%s", amount(trade.Quantity), price(trade.Price), trade.SubmittedAt),
	}
	if trade.ConfirmedAt != "" {
		lines = append(lines, "- confirmed_at="+trade.ConfirmedAt)
	}
	if trade.ExecutedAt != "" {
		lines = append(lines, "- executed_at="+trade.ExecutedAt)
	}
	if trade.SettlementDate != "" {
		lines = append(lines, "- settlement_date="+trade.SettlementDate)
	}
	if trade.FailReason != "" {
		lines = append(lines, "- fail_reason="+trade.FailReason)
	}
	id := trade.ID
	return Resolution{OK: true, Answer: strings.Join(lines, "\n"), TradeID: &id}, nil
}

func amount(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

func price(v float64) string {
	return humanize.FormatFloat("#,###.####", v)
}
