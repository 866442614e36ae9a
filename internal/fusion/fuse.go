package fusion

import "math"

// DefaultAlpha is the weight given to the technical score when both inputs
// are present.
const DefaultAlpha = 0.4

// Fuse combines a technical score in [0,1] with a confidence in [0,10].
//
//   - technical == nil: nil, nothing can be fused without a technical score
//   - confidence == nil: technical*10, clamped to [0,10]
//   - both present: alpha*technical*10 + (1-alpha)*confidence, clamped to [0,10]
//
// Results are rounded to two decimals. Alpha is clamped to [0,1].
func Fuse(technical, confidence *float64, alpha float64) *float64 {
	if technical == nil || math.IsNaN(*technical) {
		return nil
	}

	tech := clamp(*technical*10, 0, MaxConfidence)
	if confidence == nil || math.IsNaN(*confidence) {
		fused := round2(tech)
		return &fused
	}

	a := clamp(alpha, 0, 1)
	conf := clamp(*confidence, 0, MaxConfidence)
	fused := round2(clamp(a*tech+(1-a)*conf, 0, MaxConfidence))
	return &fused
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
