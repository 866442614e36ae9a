package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/phrazzld/signal-api/internal/analysis"
	"github.com/phrazzld/signal-api/internal/config"
	"github.com/phrazzld/signal-api/internal/domain"
	"github.com/phrazzld/signal-api/internal/fusion"
	"github.com/phrazzld/signal-api/internal/generation"
	"github.com/phrazzld/signal-api/internal/redact"
	"github.com/phrazzld/signal-api/internal/store"
)

// Fetcher retrieves the daily bars of one symbol, oldest first.
type Fetcher interface {
	DailyBars(ctx context.Context, symbol string) ([]domain.Bar, error)
}

// Scorer computes the technical snapshot of a bar series. The score it
// reports lies in [0,1].
type Scorer interface {
	Analyze(bars []domain.Bar) (*analysis.Indicators, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(bars []domain.Bar) (*analysis.Indicators, error)

// Analyze calls f(bars).
func (f ScorerFunc) Analyze(bars []domain.Bar) (*analysis.Indicators, error) {
	return f(bars)
}

// Universe is the authoritative set of tradable instruments.
type Universe interface {
	Instruments(ctx context.Context, filters domain.Filters) ([]domain.Instrument, error)
	Lookup(ctx context.Context, symbol string) (domain.Instrument, bool, error)
}

// Publisher persists and broadcasts progress events.
type Publisher interface {
	Publish(ctx context.Context, event *domain.ProgressEvent) error
}

// Tracker receives the run's counters. Implementations serialize the
// updates onto the task record.
type Tracker interface {
	SetPhase(ctx context.Context, phase string, progress float64)
	SetCandidates(ctx context.Context, symbols []string)
	ItemStarted(ctx context.Context, symbol string)
	ItemFinished(ctx context.Context, symbol string, ok bool, progress float64)
}

// Dependencies are the collaborators a Pipeline calls out to.
type Dependencies struct {
	Fetcher   Fetcher
	Scorer    Scorer
	Streamer  generation.Streamer
	Universe  Universe
	Publisher Publisher
	Results   store.ResultStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Fetcher == nil:
		return errors.New("fetcher cannot be nil")
	case d.Scorer == nil:
		return errors.New("scorer cannot be nil")
	case d.Streamer == nil:
		return errors.New("streamer cannot be nil")
	case d.Universe == nil:
		return errors.New("universe cannot be nil")
	case d.Publisher == nil:
		return errors.New("publisher cannot be nil")
	case d.Results == nil:
		return errors.New("result store cannot be nil")
	}
	return nil
}

// Progress bands of the three phases, in percent.
const (
	screeningEnd = 10.0
	analysisEnd  = 90.0
	rankingEnd   = 100.0
)

// Outcome summarizes a finished run.
type Outcome struct {
	Analyzed int
	Selected int
	Failed   int
}

// Pipeline executes recommendation runs. It is safe for concurrent use by
// several runs.
type Pipeline struct {
	deps    Dependencies
	cfg     config.PipelineConfig
	alpha   float64
	prompts *prompts
	logger  *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Pipeline. alpha is the technical weight used by fusion.
func New(deps Dependencies, cfg config.PipelineConfig, alpha float64, logger *slog.Logger) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.DefaultSelectRatio <= 0 || cfg.DefaultSelectRatio > 1 {
		cfg.DefaultSelectRatio = 0.5
	}
	if cfg.ScreeningPool <= 0 {
		cfg.ScreeningPool = 500
	}

	p, err := loadPrompts(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		deps:    deps,
		cfg:     cfg,
		alpha:   alpha,
		prompts: p,
		logger:  logger.With("component", "pipeline"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run executes the task's screening, analysis and ranking phases. ctx is the
// run context: cancelling it stops the run at the next checkpoint, in which
// case Run returns ErrCancelled. Items already in flight finish on a context
// detached from ctx.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, tr Tracker) (*Outcome, error) {
	started := time.Now()
	logger := p.logger.With("task_id", task.ID, "kind", string(task.Kind))
	events := context.WithoutCancel(ctx)

	p.emit(events, task.ID, domain.EventStart, "", "", map[string]any{
		"kind":     task.Kind,
		"priority": task.Priority,
	})

	// Screening
	p.enterPhase(events, task.ID, tr, domain.PhaseScreening, 0)
	candidates, err := p.screen(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("run cancelled during screening")
			return nil, ErrCancelled
		}
		p.emitError(events, task.ID, domain.PhaseScreening, err)
		return nil, err
	}
	tr.SetCandidates(events, candidates)
	logger.Info("screening complete", "candidates", len(candidates))

	if ctx.Err() != nil {
		return nil, ErrCancelled
	}

	// Analysis
	p.enterPhase(events, task.ID, tr, domain.PhaseAnalysis, screeningEnd)
	results, failed, cancelled := p.analyze(ctx, task, candidates, tr)

	// A cancel that lands during the last batch is only visible here.
	if cancelled || ctx.Err() != nil {
		if err := p.deps.Results.SaveResults(events, task.ID, results); err != nil {
			logger.Error("failed to save partial results", "error", err)
		}
		logger.Info("run cancelled during analysis",
			"analyzed", len(results),
			"failed", failed)
		return &Outcome{Analyzed: len(results), Failed: failed}, ErrCancelled
	}

	// Ranking
	p.enterPhase(events, task.ID, tr, domain.PhaseRanking, analysisEnd)
	k := SelectCount(task, len(results), p.cfg.DefaultSelectRatio)
	Rank(results, k)

	if err := p.deps.Results.SaveResults(events, task.ID, results); err != nil {
		err = fmt.Errorf("failed to save results: %w", err)
		p.emitError(events, task.ID, domain.PhaseRanking, err)
		return nil, err
	}

	outcome := &Outcome{Analyzed: len(results), Selected: k, Failed: failed}
	tr.SetPhase(events, domain.PhaseRanking, rankingEnd)

	elapsed := time.Since(started).Seconds()
	p.emit(events, task.ID, domain.EventComplete, "", domain.PhaseRanking, map[string]any{
		"analyzed":          outcome.Analyzed,
		"selected":          outcome.Selected,
		"failed":            outcome.Failed,
		"execution_seconds": elapsed,
		"top":               topSymbols(results, k),
	})
	logger.Info("run complete",
		"analyzed", outcome.Analyzed,
		"selected", outcome.Selected,
		"failed", outcome.Failed,
		"duration_seconds", elapsed)

	return outcome, nil
}

func (p *Pipeline) enterPhase(ctx context.Context, taskID string, tr Tracker, phase string, progress float64) {
	tr.SetPhase(ctx, phase, progress)
	p.emit(ctx, taskID, domain.EventPhaseChange, "", phase, map[string]any{
		"phase":    phase,
		"progress": progress,
	})
}

// emit publishes one event. Publishing failures never stop a run.
func (p *Pipeline) emit(ctx context.Context, taskID string, kind domain.EventKind, item, phase string, payload any) {
	event, err := domain.NewProgressEvent(taskID, kind, item, phase, payload)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build progress event",
			"task_id", taskID,
			"event_type", string(kind),
			"error", err)
		return
	}
	if err := p.deps.Publisher.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to publish progress event",
			"task_id", taskID,
			"event_type", string(kind),
			"error", err)
	}
}

func (p *Pipeline) emitError(ctx context.Context, taskID, phase string, err error) {
	p.emit(ctx, taskID, domain.EventError, "", phase, map[string]any{
		"phase":   phase,
		"message": redact.Error(err),
	})
}

func topSymbols(results []*domain.Result, k int) []string {
	top := make([]string, 0, k)
	for _, r := range results[:k] {
		top = append(top, r.Symbol)
	}
	return top
}

// fuse combines the technical score with the parsed confidence. ok is false
// when fusion had no usable technical score.
func (p *Pipeline) fuse(technical float64, text string) (fused float64, confidence *float64, ok bool) {
	if c, found := fusion.ParseConfidence(text); found {
		confidence = &c
	}
	score := fusion.Fuse(&technical, confidence, p.alpha)
	if score == nil {
		return 0, confidence, false
	}
	return *score, confidence, true
}

// validScore reports whether a technical score is finite and in [0,1].
func validScore(score float64) bool {
	return !math.IsNaN(score) && !math.IsInf(score, 0) && score >= 0 && score <= 1
}

func actionFor(score float64) string {
	return string(fusion.ActionFor(score))
}
