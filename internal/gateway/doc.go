// Package gateway is the single point through which every generation call
// to a language-model backend passes. It owns retry with exponential
// backoff, per-call timeouts, per-backend rate limits, and validation of
// structured output, so callers never talk to a backend directly.
//
// Backend-specific request and response handling lives in the adapter
// subpackages (openai, gemini, anthropic). Each adapter makes exactly one
// call and classifies its failure; the Gateway decides whether to try again.
package gateway
