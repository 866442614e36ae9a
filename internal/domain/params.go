package domain

import (
	"fmt"
	"math"
	"strings"
)

// Parameter defaults and limits.
const (
	DefaultKeywordCandidates = 5
	DefaultMarketCandidates  = 50
	MaxKeywordCandidates     = 100
	MaxMarketCandidates      = 500
	MaxSymbols               = 500
)

// TaskParams carries the kind-specific request parameters of a task.
type TaskParams struct {
	Symbols       []string `json:"symbols,omitempty"`
	Keyword       string   `json:"keyword,omitempty"`
	MaxCandidates int      `json:"max_candidates,omitempty"`
	SelectCount   *int     `json:"select_count,omitempty"`
}

// Normalized trims symbols and keyword and fills kind defaults.
func (p TaskParams) Normalized(kind TaskKind) TaskParams {
	out := p.clone()
	out.Keyword = strings.TrimSpace(out.Keyword)

	if len(out.Symbols) > 0 {
		symbols := make([]string, 0, len(out.Symbols))
		for _, s := range out.Symbols {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		out.Symbols = symbols
	}

	if out.MaxCandidates == 0 {
		switch kind {
		case KindKeywordSearch:
			out.MaxCandidates = DefaultKeywordCandidates
		case KindMarketWide:
			out.MaxCandidates = DefaultMarketCandidates
		}
	}
	return out
}

// ValidateFor checks that the parameters are structurally consistent with kind.
func (p TaskParams) ValidateFor(kind TaskKind) error {
	if p.SelectCount != nil && *p.SelectCount < 1 {
		return fmt.Errorf("%w: select_count must be positive", ErrInvalidParams)
	}

	switch kind {
	case KindDirectList, KindBatchReanalyze:
		if len(p.Symbols) == 0 {
			return fmt.Errorf("%w: %s requires at least one symbol", ErrInvalidParams, kind)
		}
		if len(p.Symbols) > MaxSymbols {
			return fmt.Errorf("%w: at most %d symbols are allowed", ErrInvalidParams, MaxSymbols)
		}
	case KindKeywordSearch:
		if p.Keyword == "" {
			return fmt.Errorf("%w: keyword-search requires a keyword", ErrInvalidParams)
		}
		if p.MaxCandidates < 1 || p.MaxCandidates > MaxKeywordCandidates {
			return fmt.Errorf("%w: max_candidates must be between 1 and %d",
				ErrInvalidParams, MaxKeywordCandidates)
		}
	case KindMarketWide:
		if p.MaxCandidates < 1 || p.MaxCandidates > MaxMarketCandidates {
			return fmt.Errorf("%w: max_candidates must be between 1 and %d",
				ErrInvalidParams, MaxMarketCandidates)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return nil
}

// Describe renders the parameters for the task summary.
func (p TaskParams) Describe(kind TaskKind) string {
	var parts []string
	switch kind {
	case KindKeywordSearch:
		parts = append(parts, fmt.Sprintf("keyword: %s", p.Keyword))
		parts = append(parts, fmt.Sprintf("max candidates: %d", p.MaxCandidates))
	case KindMarketWide:
		parts = append(parts, fmt.Sprintf("sample size: %d", p.MaxCandidates))
	default:
		parts = append(parts, fmt.Sprintf("symbols: %s", strings.Join(p.Symbols, ", ")))
	}
	if p.SelectCount != nil {
		parts = append(parts, fmt.Sprintf("select: %d", *p.SelectCount))
	}
	return strings.Join(parts, "; ")
}

func (p TaskParams) clone() TaskParams {
	c := p
	c.Symbols = append([]string(nil), p.Symbols...)
	if p.SelectCount != nil {
		n := *p.SelectCount
		c.SelectCount = &n
	}
	return c
}

// Weights tells the generator how much each analysis dimension matters.
type Weights struct {
	Technical      float64 `json:"technical"`
	MacroSentiment float64 `json:"macro_sentiment"`
	NewsEvents     float64 `json:"news_events"`
}

// DefaultWeights returns the standard weight configuration.
func DefaultWeights() Weights {
	return Weights{Technical: 0.4, MacroSentiment: 0.35, NewsEvents: 0.25}
}

// Validate checks that every weight lies in [0,1] and at least one is positive.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"technical":       w.Technical,
		"macro_sentiment": w.MacroSentiment,
		"news_events":     w.NewsEvents,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1", ErrInvalidWeights, name)
		}
	}
	if w.Technical+w.MacroSentiment+w.NewsEvents <= 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidWeights)
	}
	return nil
}

// Board is a listing segment of the exchange universe.
type Board string

// Supported boards.
const (
	BoardMain Board = "main"
	BoardGEM  Board = "gem"
	BoardSTAR Board = "star"
)

var boardPrefixes = map[Board][]string{
	BoardMain: {"600", "601", "603", "605", "000", "001", "002"},
	BoardGEM:  {"300"},
	BoardSTAR: {"688"},
}

// Valid reports whether b is a known board.
func (b Board) Valid() bool {
	_, ok := boardPrefixes[b]
	return ok
}

// Contains reports whether the symbol is listed on the board.
func (b Board) Contains(symbol string) bool {
	for _, prefix := range boardPrefixes[b] {
		if strings.HasPrefix(symbol, prefix) {
			return true
		}
	}
	return false
}

// Filters narrows the universe before screening.
type Filters struct {
	ExcludeST    bool     `json:"exclude_st"`
	Boards       []Board  `json:"boards,omitempty"`
	MinMarketCap *float64 `json:"min_market_cap,omitempty"`
	MaxMarketCap *float64 `json:"max_market_cap,omitempty"`
}

// DefaultFilters excludes special-treatment listings and nothing else.
func DefaultFilters() Filters {
	return Filters{ExcludeST: true}
}

// Validate checks board names and market-cap bounds.
func (f Filters) Validate() error {
	for _, b := range f.Boards {
		if !b.Valid() {
			return fmt.Errorf("%w: unknown board %q", ErrInvalidFilters, b)
		}
	}
	if f.MinMarketCap != nil && *f.MinMarketCap < 0 {
		return fmt.Errorf("%w: min_market_cap cannot be negative", ErrInvalidFilters)
	}
	if f.MinMarketCap != nil && f.MaxMarketCap != nil && *f.MaxMarketCap < *f.MinMarketCap {
		return fmt.Errorf("%w: max_market_cap is below min_market_cap", ErrInvalidFilters)
	}
	return nil
}

// Allows reports whether an instrument passes the filters.
func (f Filters) Allows(in Instrument) bool {
	if f.ExcludeST && in.SpecialTreatment() {
		return false
	}

	if len(f.Boards) > 0 {
		listed := false
		for _, b := range f.Boards {
			if b.Contains(in.Symbol) {
				listed = true
				break
			}
		}
		if !listed {
			return false
		}
	}

	if f.MinMarketCap != nil || f.MaxMarketCap != nil {
		if in.MarketCap == nil {
			return false
		}
		if f.MinMarketCap != nil && *in.MarketCap < *f.MinMarketCap {
			return false
		}
		if f.MaxMarketCap != nil && *in.MarketCap > *f.MaxMarketCap {
			return false
		}
	}
	return true
}

// Describe renders the filters for the task summary.
func (f Filters) Describe() string {
	parts := []string{fmt.Sprintf("exclude ST: %t", f.ExcludeST)}
	if len(f.Boards) > 0 {
		boards := make([]string, len(f.Boards))
		for i, b := range f.Boards {
			boards[i] = string(b)
		}
		parts = append(parts, "boards: "+strings.Join(boards, ", "))
	}
	if f.MinMarketCap != nil {
		parts = append(parts, fmt.Sprintf("min market cap: %.0f", *f.MinMarketCap))
	}
	if f.MaxMarketCap != nil {
		parts = append(parts, fmt.Sprintf("max market cap: %.0f", *f.MaxMarketCap))
	}
	return strings.Join(parts, "; ")
}

func (f Filters) clone() Filters {
	c := f
	c.Boards = append([]Board(nil), f.Boards...)
	if f.MinMarketCap != nil {
		v := *f.MinMarketCap
		c.MinMarketCap = &v
	}
	if f.MaxMarketCap != nil {
		v := *f.MaxMarketCap
		c.MaxMarketCap = &v
	}
	return c
}
