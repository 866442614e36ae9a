// Package fusion turns generated analysis text and a technical score into a
// single ranking score.
//
// ParseConfidence extracts a "confidence N/10" style value from free text,
// Fuse blends it with a technical score in [0,1], and ActionFor maps the fused
// score onto a buy/hold/sell action. Everything here is pure: no state, no I/O.
package fusion
