// Package generation defines the machine-readable output shapes AI backends
// must produce for each result kind, the JSON schemas describing them, and the
// decoder that turns raw model text into a validated domain.Result.
//
// A response that does not decode or validate is reported as
// ErrInvalidResponse so the gateway can retry it and, once attempts run out,
// surface it as malformed output.
package generation
