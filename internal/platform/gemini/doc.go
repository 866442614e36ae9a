// Package gemini implements generation.Streamer on Google's Gemini API.
//
// The generator streams content through the google.golang.org/genai client
// and retries failed calls with exponential backoff and jitter, as long as
// nothing has been handed to the consumer yet. Once a chunk has been yielded
// a failure ends the stream, since the already delivered text cannot be
// taken back. Safety blocks and empty responses are treated as permanent.
package gemini
