package hook

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Metrics counts requests, failures and durations per method and server.
// The zero value is not usable; call NewMetrics.
type Metrics struct {
	now   func() time.Time
	start time.Time

	mu      sync.Mutex
	total   int
	errors  int
	active  int
	methods map[Method]MethodStats
	servers map[string]int
}

// MethodStats aggregates the requests of one method.
type MethodStats struct {
	Count  int
	Errors int
	Total  time.Duration
	Min    time.Duration
	Max    time.Duration
}

// Avg is the mean duration, or zero before the first request.
func (s MethodStats) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Total   int
	Errors  int
	Active  int
	Uptime  time.Duration
	Methods map[Method]MethodStats
	Servers map[string]int
}

// ErrorRate is Errors over Total, or zero before the first request.
func (s MetricsSnapshot) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Total)
}

func NewMetrics() *Metrics {
	return &Metrics{
		now:     time.Now,
		start:   time.Now(),
		methods: make(map[Method]MethodStats),
		servers: make(map[string]int),
	}
}

// Middleware records every request it wraps.
func (m *Metrics) Middleware() Middleware {
	return func(ctx context.Context, req *Request, next Handler) (any, error) {
		m.mu.Lock()
		m.total++
		m.active++
		m.servers[req.Server]++
		m.mu.Unlock()

		start := m.now()
		res, err := next(ctx, req)
		elapsed := m.now().Sub(start)

		m.mu.Lock()
		defer m.mu.Unlock()
		m.active--
		s := m.methods[req.Method]
		if s.Count == 0 || elapsed < s.Min {
			s.Min = elapsed
		}
		if elapsed > s.Max {
			s.Max = elapsed
		}
		s.Count++
		s.Total += elapsed
		if err != nil {
			s.Errors++
			m.errors++
		}
		m.methods[req.Method] = s
		return res, err
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Total:   m.total,
		Errors:  m.errors,
		Active:  m.active,
		Uptime:  m.now().Sub(m.start),
		Methods: maps.Clone(m.methods),
		Servers: maps.Clone(m.servers),
	}
}
