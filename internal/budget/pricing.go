// Package budget prices model usage and enforces an optional USD cap per run.
package budget

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// Price holds per-model token prices in USD per million tokens.
type Price struct {
	Input      decimal.Decimal
	Output     decimal.Decimal
	CacheWrite decimal.Decimal
	CacheRead  decimal.Decimal
}

var million = decimal.NewFromInt(1_000_000)

// Cost prices a single call.
func (p Price) Cost(u Usage) decimal.Decimal {
	perM := func(tokens int, rate decimal.Decimal) decimal.Decimal {
		return decimal.NewFromInt(int64(tokens)).Mul(rate).Div(million)
	}
	return perM(u.InputTokens, p.Input).
		Add(perM(u.OutputTokens, p.Output)).
		Add(perM(u.CacheCreationInputTokens, p.CacheWrite)).
		Add(perM(u.CacheReadInputTokens, p.CacheRead))
}

// PriceTable maps model IDs to prices.
type PriceTable map[anthropic.Model]Price

// Lookup finds the price for model. Dated snapshots such as
// "claude-sonnet-4-5-20250929" resolve to their family alias.
func (t PriceTable) Lookup(model anthropic.Model) (Price, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	var (
		best    Price
		bestLen int
	)
	for m, p := range t {
		if strings.HasPrefix(string(model), string(m)+"-") && len(m) > bestLen {
			best, bestLen = p, len(m)
		}
	}
	return best, bestLen > 0
}

// DefaultPrices covers the current Claude families.
var DefaultPrices = PriceTable{
	anthropic.ModelClaudeOpus4_6: {
		Input:      decimal.NewFromInt(5),
		Output:     decimal.NewFromInt(25),
		CacheWrite: decimal.NewFromFloat(6.25),
		CacheRead:  decimal.NewFromFloat(0.5),
	},
	anthropic.ModelClaudeSonnet4_5: {
		Input:      decimal.NewFromInt(3),
		Output:     decimal.NewFromInt(15),
		CacheWrite: decimal.NewFromFloat(3.75),
		CacheRead:  decimal.NewFromFloat(0.3),
	},
	anthropic.ModelClaudeHaiku4_5: {
		Input:      decimal.NewFromInt(1),
		Output:     decimal.NewFromInt(5),
		CacheWrite: decimal.NewFromFloat(1.25),
		CacheRead:  decimal.NewFromFloat(0.1),
	},
}
