// Package generation defines the boundary between the recommendation
// pipeline and external text-generation services. A Streamer yields the
// generated text incrementally so callers can forward chunks as they arrive.
// The Gemini implementation lives in internal/platform/gemini.
package generation
