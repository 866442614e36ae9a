package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/generation"
	"github.com/phrazzld/signal-api/internal/redact"
)

const summaryMaxRunes = 200

// analyze scores the candidates in batches of cfg.BatchSize. Cancellation
// is checked before each batch; a batch that has started always finishes.
// Results come back in candidate order.
func (p *Pipeline) analyze(ctx context.Context, task *domain.Task, candidates []string, tr Tracker) (results []*domain.Result, failed int, cancelled bool) {
	total := len(candidates)
	results = make([]*domain.Result, 0, total)
	inflight := context.WithoutCancel(ctx)

	var done atomic.Int64
	progress := func() float64 {
		if total == 0 {
			return analysisEnd
		}
		return screeningEnd + (analysisEnd-screeningEnd)*float64(done.Load())/float64(total)
	}

	for start := 0; start < total; start += p.cfg.BatchSize {
		if ctx.Err() != nil {
			return results, failed, true
		}

		end := start + p.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := candidates[start:end]
		out := make([]*domain.Result, len(batch))

		var wg sync.WaitGroup
		for i, symbol := range batch {
			wg.Add(1)
			go func(i int, symbol string) {
				defer wg.Done()
				tr.ItemStarted(inflight, symbol)
				defer func() {
					done.Add(1)
					tr.ItemFinished(inflight, symbol, out[i] != nil, progress())
				}()
				out[i] = p.safeAnalyzeItem(inflight, task, symbol, start+i, total)
			}(i, symbol)
		}
		wg.Wait()

		for _, r := range out {
			if r == nil {
				failed++
				continue
			}
			results = append(results, r)
		}
	}
	return results, failed, false
}

// safeAnalyzeItem turns a panic inside one item into an item failure so the
// rest of the batch and the process carry on.
func (p *Pipeline) safeAnalyzeItem(ctx context.Context, task *domain.Task, symbol string, index, total int) (result *domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "item analysis panicked",
				"task_id", task.ID,
				"symbol", symbol,
				"panic", r,
				"stack", string(debug.Stack()))
			result = p.itemFailed(ctx, task.ID, symbol, "panic", fmt.Errorf("%w: %v", errItemPanicked, r))
		}
	}()
	return p.analyzeItem(ctx, task, symbol, index, total)
}

// analyzeItem runs one candidate end to end. It returns nil when the item
// failed, after emitting item-failed.
func (p *Pipeline) analyzeItem(ctx context.Context, task *domain.Task, symbol string, index, total int) *domain.Result {
	logger := p.logger.With("task_id", task.ID, "symbol", symbol)

	p.emit(ctx, task.ID, domain.EventItemProgress, symbol, domain.PhaseAnalysis, map[string]any{
		"symbol": symbol,
		"index":  index + 1,
		"total":  total,
		"stage":  "fetching",
	})

	bars, err := p.deps.Fetcher.DailyBars(ctx, symbol)
	if err != nil {
		return p.itemFailed(ctx, task.ID, symbol, "fetch", err)
	}
	if len(bars) == 0 {
		return p.itemFailed(ctx, task.ID, symbol, "fetch", errEmptyBars)
	}

	indicators, err := p.deps.Scorer.Analyze(bars)
	if err != nil {
		return p.itemFailed(ctx, task.ID, symbol, "technical", err)
	}
	if indicators == nil || !validScore(indicators.Score) {
		return p.itemFailed(ctx, task.ID, symbol, "technical", errNoTechnicalScore)
	}

	var name string
	if in, ok, err := p.deps.Universe.Lookup(ctx, symbol); err == nil && ok {
		name = in.Name
	}

	prompt, err := p.prompts.renderAnalysis(analysisPromptData{
		Symbol:     symbol,
		Name:       name,
		Keyword:    task.Params.Keyword,
		Weights:    task.Weights,
		Indicators: indicators,
	})
	if err != nil {
		return p.itemFailed(ctx, task.ID, symbol, "prompt", err)
	}

	p.emit(ctx, task.ID, domain.EventItemProgress, symbol, domain.PhaseAnalysis, map[string]any{
		"symbol":          symbol,
		"index":           index + 1,
		"total":           total,
		"stage":           "generating",
		"technical_score": indicators.Score,
	})

	received := 0
	text, err := generation.Collect(ctx, p.deps.Streamer, prompt, func(chunk string) {
		received += len(chunk)
		p.emit(ctx, task.ID, domain.EventChunk, symbol, domain.PhaseAnalysis, map[string]any{
			"symbol": symbol,
			"chunk":  chunk,
			"length": received,
		})
	})
	partial := err != nil
	if partial {
		if text == "" {
			return p.itemFailed(ctx, task.ID, symbol, "generate", err)
		}
		logger.Warn("generation ended early, keeping partial output",
			"received", received,
			"error", err)
	}

	fused, confidence, ok := p.fuse(indicators.Score, text)
	if !ok {
		return p.itemFailed(ctx, task.ID, symbol, "fusion", errNoTechnicalScore)
	}
	technical := indicators.Score
	action := actionFor(fused)

	raw, err := json.Marshal(indicators)
	if err != nil {
		logger.Warn("failed to encode indicators", "error", err)
		raw = nil
	}

	result := &domain.Result{
		TaskID:         task.ID,
		Symbol:         symbol,
		Name:           name,
		TechnicalScore: &technical,
		Confidence:     confidence,
		FusedScore:     fused,
		Action:         action,
		Summary:        summarize(text),
		Rationale:      text,
		Indicators:     raw,
		AnalyzedAt:     time.Now().UTC(),
	}

	p.emit(ctx, task.ID, domain.EventItemComplete, symbol, domain.PhaseAnalysis, map[string]any{
		"symbol":          symbol,
		"name":            name,
		"technical_score": technical,
		"confidence":      confidence,
		"fused_score":     fused,
		"action":          action,
		"summary":         result.Summary,
		"partial":         partial,
	})
	logger.Debug("item analyzed", "fused_score", fused, "action", action)

	return result
}

func (p *Pipeline) itemFailed(ctx context.Context, taskID, symbol, stage string, err error) *domain.Result {
	p.logger.WarnContext(ctx, "item failed",
		"task_id", taskID,
		"symbol", symbol,
		"stage", stage,
		"error", err)
	p.emit(ctx, taskID, domain.EventItemFailed, symbol, domain.PhaseAnalysis, map[string]any{
		"symbol": symbol,
		"stage":  stage,
		"error":  redact.Error(err),
	})
	return nil
}

// summarize returns the first non-empty line of the generated text, cut to
// summaryMaxRunes.
func summarize(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > summaryMaxRunes {
			line = string([]rune(line)[:summaryMaxRunes]) + "…"
		}
		return line
	}
	return ""
}
