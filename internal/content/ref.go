// Package content resolves a task's payload reference into the material
// sent to an AI backend. The queue and the task store only ever carry the
// reference; loading happens inside the worker.
package content

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by loaders. Every load failure wraps ErrLoad.
var (
	ErrLoad       = errors.New("content: load failed")
	ErrInvalidRef = fmt.Errorf("%w: invalid payload reference", ErrLoad)
	ErrNotFound   = fmt.Errorf("%w: content not found", ErrLoad)
)

// Kind is the scheme of a payload reference.
type Kind string

// Reference schemes
const (
	KindDocument     Kind = "doc"
	KindText         Kind = "text"
	KindConversation Kind = "conv"
	KindAudio        Kind = "audio"
)

// Ref is a parsed payload reference of the form <kind>:<value>.
type Ref struct {
	Kind  Kind
	Value string
}

// ParseRef parses a payload reference. A reference without a recognised
// scheme is rejected rather than guessed at.
func ParseRef(s string) (Ref, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(value) == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, truncate(s, 40))
	}

	switch k := Kind(strings.ToLower(kind)); k {
	case KindDocument, KindConversation, KindAudio:
		return Ref{Kind: k, Value: strings.TrimSpace(value)}, nil
	case KindText:
		return Ref{Kind: k, Value: value}, nil
	default:
		return Ref{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidRef, kind)
	}
}

// String renders the reference in its canonical form.
func (r Ref) String() string {
	return string(r.Kind) + ":" + r.Value
}

// Multimodal reports whether the reference points at non-text material.
func (r Ref) Multimodal() bool {
	return r.Kind == KindAudio
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
