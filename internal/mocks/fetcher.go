package mocks

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/domain"
)

// MockFetcher serves daily bars from memory.
type MockFetcher struct {
	// DailyBarsFn, when set, replaces the lookup in Bars.
	DailyBarsFn func(ctx context.Context, symbol string) ([]domain.Bar, error)

	// Bars maps symbols to their series. A missing symbol is an error.
	Bars map[string][]domain.Bar

	mu    sync.Mutex
	calls []string
}

// DailyBars returns the configured bars for symbol.
func (m *MockFetcher) DailyBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	m.mu.Lock()
	m.calls = append(m.calls, symbol)
	m.mu.Unlock()

	if m.DailyBarsFn != nil {
		return m.DailyBarsFn(ctx, symbol)
	}
	bars, ok := m.Bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars for %s", symbol)
	}
	return bars, nil
}

// Calls returns the requested symbols in call order.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// TrendingBars builds n daily bars starting at start whose close grows by
// drift per day with a small oscillation.
func TrendingBars(n int, start, drift float64) []domain.Bar {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := start + drift*float64(i) + 0.5*math.Sin(float64(i)/3)
		bars[i] = domain.Bar{
			Date:   day.AddDate(0, 0, i),
			Open:   c - 0.2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1_000_000,
		}
	}
	return bars
}
