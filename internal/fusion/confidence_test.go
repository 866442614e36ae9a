package fusion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfidence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		want  float64
		found bool
	}{
		{name: "chinese bracketed", text: "建议买入（信心8/10）", want: 8, found: true},
		{name: "english with colon", text: "confidence: 7.5/10", want: 7.5, found: true},
		{name: "english mixed case", text: "Final call: HOLD (Confidence 6/10)", want: 6, found: true},
		{name: "full width digits", text: "信心：９/１０", want: 9, found: true},
		{name: "full width slash", text: "信心7／10", want: 7, found: true},
		{name: "no slash", text: "confidence 4", want: 4, found: true},
		{name: "chinese numeral is not a number", text: "信心十/10", found: false},
		{name: "above range clamps", text: "信心12/10", want: 10, found: true},
		{name: "negative clamps", text: "信心-1/10", want: 0, found: true},
		{name: "unicode minus clamps", text: "confidence −3/10", want: 0, found: true},
		{name: "full width minus clamps", text: "信心－2/10", want: 0, found: true},
		{name: "empty", text: "", found: false},
		{name: "no mention", text: "the stock looks fine", found: false},
		{name: "first match wins", text: "信心3/10 ... 最终建议：买入（信心9/10）", want: 3, found: true},
		{name: "loose form", text: "confidence level is about 8/10", want: 8, found: true},
		{name: "ideographic space", text: "信心\u30008", want: 8, found: true},
		{name: "no-break space", text: "confidence:\u00a06.5", want: 6.5, found: true},
		{name: "bracketed without scale", text: "（ 信心　7 ）", want: 7, found: true},
		{name: "spaced slash", text: "confidence 5 ／ 10", want: 5, found: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseConfidence(tc.text)
			assert.Equal(t, tc.found, ok)
			if tc.found {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestParseConfidenceIsTotal(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"\xff\xfe\xfd",
		strings.Repeat("信心", 1000),
		"confidence: /10",
		"confidence: ./10",
		"(confidence",
		"信心：：：",
		"confidence 1.2.3/10",
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			v, ok := ParseConfidence(in)
			if ok {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, MaxConfidence)
			}
		})
	}
}
