package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/generation"
)

// minScreeningRequest is the smallest number of codes asked of the
// generator, so a small max_candidates still survives a few bad codes.
const minScreeningRequest = 20

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// screen produces the ordered candidate list for the task.
func (p *Pipeline) screen(ctx context.Context, task *domain.Task) ([]string, error) {
	switch task.Kind {
	case domain.KindKeywordSearch:
		return p.screenKeyword(ctx, task)
	case domain.KindMarketWide:
		return p.screenMarket(ctx, task)
	default:
		return dedupeSymbols(task.Params.Symbols), nil
	}
}

func (p *Pipeline) screenKeyword(ctx context.Context, task *domain.Task) ([]string, error) {
	instruments, err := p.deps.Universe.Instruments(ctx, task.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}
	if len(instruments) > p.cfg.ScreeningPool {
		instruments = instruments[:p.cfg.ScreeningPool]
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no instrument passes the filters", ErrScreeningEmpty)
	}

	max := task.Params.MaxCandidates
	prompt, err := p.prompts.renderScreening(screeningPromptData{
		Keyword: task.Params.Keyword,
		Count:   screeningRequestSize(max),
		Pool:    instruments,
	})
	if err != nil {
		return nil, err
	}

	text, err := generation.Collect(ctx, p.deps.Streamer, prompt, nil)
	if err != nil && text == "" {
		return nil, fmt.Errorf("screening generation failed: %w", err)
	}
	if err != nil {
		p.logger.WarnContext(ctx, "screening stream ended early, using partial output",
			"task_id", task.ID,
			"error", err)
	}

	pool := make(map[string]struct{}, len(instruments))
	for _, in := range instruments {
		pool[in.Symbol] = struct{}{}
	}

	codes := ParseCodes(text, pool, max)
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no valid code for keyword %q", ErrScreeningEmpty, task.Params.Keyword)
	}
	return codes, nil
}

func (p *Pipeline) screenMarket(ctx context.Context, task *domain.Task) ([]string, error) {
	instruments, err := p.deps.Universe.Instruments(ctx, task.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load universe: %w", err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no instrument passes the filters", ErrScreeningEmpty)
	}

	n := task.Params.MaxCandidates
	if n > len(instruments) {
		n = len(instruments)
	}

	p.rngMu.Lock()
	picks := p.rng.Perm(len(instruments))[:n]
	p.rngMu.Unlock()

	symbols := make([]string, n)
	for i, idx := range picks {
		symbols[i] = instruments[idx].Symbol
	}
	return symbols, nil
}

func screeningRequestSize(max int) int {
	if n := max * 3; n > minScreeningRequest {
		return n
	}
	return minScreeningRequest
}

// ParseCodes extracts six digit codes from generated text, one per line at
// most, keeping only members of pool. Duplicates are dropped and the result
// holds at most max codes, in order of appearance.
func ParseCodes(text string, pool map[string]struct{}, max int) []string {
	var codes []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		m := codePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		code := m[1]
		if _, ok := pool[code]; !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
		if max > 0 && len(codes) >= max {
			break
		}
	}
	return codes
}

func dedupeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
