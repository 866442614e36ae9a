// Package universe loads the list of tradable instruments from a YAML file or
// an HTML listing page and answers filtered queries against it.
package universe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
)

// Supported listing formats.
const (
	FormatYAML = "yaml"
	FormatHTML = "html"
)

// ErrEmptyUniverse is returned when a listing parses to zero instruments.
var ErrEmptyUniverse = errors.New("universe is empty")

var symbolPattern = regexp.MustCompile(`^\d{6}$`)

// Universe is a lazily loaded instrument listing. A successful load is kept
// for the life of the process; a failed one is retried on the next call.
type Universe struct {
	format string
	source string
	http   *http.Client

	mu          sync.Mutex
	instruments []domain.Instrument
	bySymbol    map[string]domain.Instrument
}

// New creates a Universe for the configured listing.
func New(cfg config.UniverseConfig) *Universe {
	return &Universe{
		format: cfg.Format,
		source: cfg.Source,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// NewStatic creates a Universe over a fixed list.
func NewStatic(instruments []domain.Instrument) *Universe {
	u := &Universe{}
	u.set(instruments)
	return u
}

func (u *Universe) set(instruments []domain.Instrument) {
	if instruments == nil {
		instruments = []domain.Instrument{}
	}
	u.instruments = instruments
	u.bySymbol = make(map[string]domain.Instrument, len(instruments))
	for _, in := range instruments {
		u.bySymbol[in.Symbol] = in
	}
}

func (u *Universe) load(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.instruments != nil {
		return nil
	}

	r, err := u.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	var instruments []domain.Instrument
	switch u.format {
	case FormatYAML:
		instruments, err = ParseYAML(r)
	case FormatHTML:
		instruments, err = ParseHTML(r)
	default:
		err = fmt.Errorf("unsupported universe format %q", u.format)
	}
	if err != nil {
		return err
	}
	if len(instruments) == 0 {
		return ErrEmptyUniverse
	}

	u.set(instruments)
	return nil
}

func (u *Universe) open(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(u.source, "http://") || strings.HasPrefix(u.source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.source, nil)
		if err != nil {
			return nil, fmt.Errorf("build universe request: %w", err)
		}
		resp, err := u.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request universe: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("universe source returned %s", resp.Status)
		}
		return resp.Body, nil
	}

	f, err := os.Open(u.source)
	if err != nil {
		return nil, fmt.Errorf("open universe file: %w", err)
	}
	return f, nil
}

// Instruments returns every instrument that passes filters, in listing order.
func (u *Universe) Instruments(ctx context.Context, filters domain.Filters) ([]domain.Instrument, error) {
	if err := u.load(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.Instrument, 0, len(u.instruments))
	for _, in := range u.instruments {
		if filters.Allows(in) {
			out = append(out, in)
		}
	}
	return out, nil
}

// Lookup returns the instrument with the given symbol.
func (u *Universe) Lookup(ctx context.Context, symbol string) (domain.Instrument, bool, error) {
	if err := u.load(ctx); err != nil {
		return domain.Instrument{}, false, err
	}
	in, ok := u.bySymbol[symbol]
	return in, ok, nil
}

// Size returns the number of loaded instruments, zero before the first load.
func (u *Universe) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.instruments)
}
