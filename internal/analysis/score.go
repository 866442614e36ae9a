package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/phrazzld/signal-api/internal/domain"
)

// Indicator windows.
const (
	ShortWindow = 20
	LongWindow  = 60
	RSIWindow   = 14
	MACDFast    = 12
	MACDSlow    = 26
	MACDSignal  = 9
)

// Technical action thresholds on the [0,1] score.
const (
	TechnicalBuy  = 0.70
	TechnicalHold = 0.50
)

// ErrInsufficientData is returned when the series is too short to produce
// every indicator.
var ErrInsufficientData = errors.New("insufficient price history")

// Indicators is the technical snapshot of one symbol at its latest bar.
type Indicators struct {
	Close    float64  `json:"close"`
	MA20     float64  `json:"ma20"`
	MA60     float64  `json:"ma60"`
	RSI14    float64  `json:"rsi14"`
	MACD     float64  `json:"macd"`
	Signal   float64  `json:"signal"`
	Change5  *float64 `json:"change_5d,omitempty"`
	Change20 *float64 `json:"change_20d,omitempty"`
	Change60 *float64 `json:"change_60d,omitempty"`

	TrendUp     bool `json:"trend_up"`
	RSIHealthy  bool `json:"rsi_healthy"`
	MACDBullish bool `json:"macd_bullish"`

	Score  float64 `json:"score"`
	Action string  `json:"action"`
	Reason string  `json:"reason"`
}

// Analyze computes the indicators and the continuous technical score in
// [0,1] from the bars, oldest first.
func Analyze(bars []domain.Bar) (*Indicators, error) {
	if len(bars) <= RSIWindow {
		return nil, fmt.Errorf("%w: %d bars", ErrInsufficientData, len(bars))
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := len(closes) - 1

	ind := &Indicators{
		Close: closes[last],
		MA20:  MovingAverage(closes, ShortWindow)[last],
		MA60:  MovingAverage(closes, LongWindow)[last],
		RSI14: RSI(closes, RSIWindow)[last],
	}
	macd := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	ind.MACD = macd.MACD[last]
	ind.Signal = macd.Signal[last]

	for _, v := range []float64{ind.MA20, ind.MA60, ind.RSI14, ind.MACD, ind.Signal} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %d bars", ErrInsufficientData, len(bars))
		}
	}

	for n, dst := range map[int]**float64{5: &ind.Change5, 20: &ind.Change20, 60: &ind.Change60} {
		if pct, ok := PercentChange(closes, n); ok {
			*dst = &pct
		}
	}

	ind.TrendUp = ind.MA20 > ind.MA60
	ind.RSIHealthy = ind.RSI14 >= 40 && ind.RSI14 <= 70
	ind.MACDBullish = ind.MACD > ind.Signal

	den := ind.MA60
	if math.Abs(den) <= 1e-6 {
		den = 1e-6
	}
	diffPct := (ind.MA20 - ind.MA60) / den
	trend := clamp01((diffPct + 0.01) / 0.06)
	rsi := clamp01(1 - math.Abs(ind.RSI14-50)/30)
	momentum := sigmoid((ind.MACD - ind.Signal) * 8)

	ind.Score = 0.45*trend + 0.30*rsi + 0.25*momentum
	ind.Action = technicalAction(ind.Score)
	ind.Reason = ind.reason()
	return ind, nil
}

func technicalAction(score float64) string {
	switch {
	case score >= TechnicalBuy:
		return "buy"
	case score >= TechnicalHold:
		return "hold"
	default:
		return "sell"
	}
}

func (ind *Indicators) reason() string {
	var parts []string

	if ind.TrendUp {
		parts = append(parts, fmt.Sprintf("MA20 (%.2f) above MA60 (%.2f), uptrend", ind.MA20, ind.MA60))
	} else {
		parts = append(parts, fmt.Sprintf("MA20 (%.2f) below MA60 (%.2f), downtrend", ind.MA20, ind.MA60))
	}

	switch {
	case ind.RSI14 < 30:
		parts = append(parts, fmt.Sprintf("RSI %.1f oversold", ind.RSI14))
	case ind.RSI14 > 70:
		parts = append(parts, fmt.Sprintf("RSI %.1f overbought", ind.RSI14))
	case ind.RSIHealthy:
		parts = append(parts, fmt.Sprintf("RSI %.1f in a healthy range", ind.RSI14))
	default:
		parts = append(parts, fmt.Sprintf("RSI %.1f outside the healthy range", ind.RSI14))
	}

	if ind.MACDBullish {
		parts = append(parts, fmt.Sprintf("MACD %.4f above signal %.4f", ind.MACD, ind.Signal))
	} else {
		parts = append(parts, fmt.Sprintf("MACD %.4f below signal %.4f", ind.MACD, ind.Signal))
	}

	return "technical " + ind.Action + ": " + strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
