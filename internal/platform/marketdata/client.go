// Package marketdata fetches daily bar series from the quote service over
// HTTP, optionally through a cache.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/platform/logger"
)

// ErrNoData is returned when the service has no bars for a symbol.
var ErrNoData = errors.New("no market data")

// Cache stores bar series between fetches.
type Cache interface {
	Get(ctx context.Context, symbol string, lookback int) ([]domain.Bar, bool, error)
	Set(ctx context.Context, symbol string, lookback int, bars []domain.Bar) error
}

// Client talks to the daily bar endpoint of the quote service.
type Client struct {
	baseURL  string
	lookback int
	http     *http.Client
	cache    Cache
}

// NewClient creates a client. cache may be nil.
func NewClient(cfg config.MarketDataConfig, cache Cache) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		lookback: cfg.Lookback,
		http:     &http.Client{Timeout: cfg.Timeout},
		cache:    cache,
	}
}

type wireBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type barsResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []wireBar `json:"bars"`
}

// DailyBars returns up to the configured lookback of daily bars for symbol,
// oldest first.
func (c *Client) DailyBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	log := logger.FromContext(ctx).With(slog.String("symbol", symbol))

	if c.cache != nil {
		bars, hit, err := c.cache.Get(ctx, symbol, c.lookback)
		if err != nil {
			log.Warn("bar cache read failed", slog.String("error", err.Error()))
		} else if hit {
			return bars, nil
		}
	}

	bars, err := c.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, symbol, c.lookback, bars); err != nil {
			log.Warn("bar cache write failed", slog.String("error", err.Error()))
		}
	}
	return bars, nil
}

func (c *Client) fetch(ctx context.Context, symbol string) ([]domain.Bar, error) {
	endpoint := fmt.Sprintf("%s/bars/%s?days=%s",
		c.baseURL, url.PathEscape(symbol), strconv.Itoa(c.lookback))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch bars for %s: unexpected status %s", symbol, resp.Status)
	}

	var body barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode bars for %s: %w", symbol, err)
	}
	if len(body.Bars) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}

	bars := make([]domain.Bar, 0, len(body.Bars))
	for _, wb := range body.Bars {
		date, err := time.Parse(time.DateOnly, wb.Date)
		if err != nil {
			return nil, fmt.Errorf("decode bars for %s: bad date %q: %w", symbol, wb.Date, err)
		}
		bars = append(bars, domain.Bar{
			Date:   date,
			Open:   wb.Open,
			High:   wb.High,
			Low:    wb.Low,
			Close:  wb.Close,
			Volume: wb.Volume,
		})
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if c.lookback > 0 && len(bars) > c.lookback {
		bars = bars[len(bars)-c.lookback:]
	}
	return bars, nil
}
