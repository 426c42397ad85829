package budget

import (
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// Usage holds token counts for a single API call.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CacheReadInputTokens     int
	CacheCreationInputTokens int
}

// ModelCost is the accumulated usage and cost for one model.
type ModelCost struct {
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
}

// Meter accumulates cost across the calls of a run. It is safe for
// concurrent use. A zero limit means unlimited.
type Meter struct {
	mu       sync.Mutex
	limit    decimal.Decimal
	prices   PriceTable
	total    decimal.Decimal
	perModel map[anthropic.Model]ModelCost
}

// NewMeter creates a meter. A nil table uses DefaultPrices.
func NewMeter(limit decimal.Decimal, prices PriceTable) *Meter {
	if prices == nil {
		prices = DefaultPrices
	}
	return &Meter{
		limit:    limit,
		prices:   prices,
		perModel: make(map[anthropic.Model]ModelCost),
	}
}

// Record adds one call's usage and returns its cost. Unknown models are
// counted with zero cost.
func (m *Meter) Record(model anthropic.Model, u Usage) decimal.Decimal {
	var cost decimal.Decimal
	if p, ok := m.prices.Lookup(model); ok {
		cost = p.Cost(u)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.perModel[model]
	mc.InputTokens += int64(u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens)
	mc.OutputTokens += int64(u.OutputTokens)
	mc.Cost = mc.Cost.Add(cost)
	m.perModel[model] = mc
	m.total = m.total.Add(cost)
	return cost
}

// Total returns the cumulative cost.
func (m *Meter) Total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Breakdown returns a copy of the per-model totals.
func (m *Meter) Breakdown() map[string]ModelCost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ModelCost, len(m.perModel))
	for k, v := range m.perModel {
		out[string(k)] = v
	}
	return out
}

// Exhausted reports whether the cap has been reached. Always false without a cap.
func (m *Meter) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit.IsZero() {
		return false
	}
	return m.total.GreaterThanOrEqual(m.limit)
}
