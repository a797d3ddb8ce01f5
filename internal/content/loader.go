package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Content is loaded payload material.
type Content struct {
	Ref Ref
	// Text holds textual material; empty for binary payloads.
	Text string
	// Data and MIMEType hold binary material such as audio.
	Data     []byte
	MIMEType string
}

// Size is the payload size hint in bytes.
func (c *Content) Size() int {
	if c.Text != "" {
		return len(c.Text)
	}
	return len(c.Data)
}

// Multimodal reports whether the content is binary.
func (c *Content) Multimodal() bool {
	return len(c.Data) > 0
}

// Loader resolves a reference into content.
type Loader interface {
	Load(ctx context.Context, ref Ref) (*Content, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref Ref) (*Content, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, ref Ref) (*Content, error) {
	return f(ctx, ref)
}

// InlineLoader serves text: references, whose value is the content itself.
type InlineLoader struct{}

// Load returns the inline text.
func (InlineLoader) Load(_ context.Context, ref Ref) (*Content, error) {
	if ref.Kind != KindText {
		return nil, fmt.Errorf("%w: inline loader cannot serve %s references", ErrInvalidRef, ref.Kind)
	}
	return &Content{Ref: ref, Text: ref.Value}, nil
}

// MultiLoader dispatches to a loader per reference kind.
type MultiLoader map[Kind]Loader

// Load delegates to the loader registered for ref.Kind.
func (m MultiLoader) Load(ctx context.Context, ref Ref) (*Content, error) {
	l, ok := m[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no loader for %s references", ErrLoad, ref.Kind)
	}
	return l.Load(ctx, ref)
}

// DirLoader reads documents, conversations, and audio from a directory tree:
//
//	<root>/documents/<id>.txt
//	<root>/conversations/<id>.txt
//	<root>/audio/<id>.<ext>
type DirLoader struct {
	Root string
}

var audioTypes = []struct{ ext, mime string }{
	{".mp3", "audio/mpeg"},
	{".wav", "audio/wav"},
	{".ogg", "audio/ogg"},
	{".flac", "audio/flac"},
	{".m4a", "audio/mp4"},
}

// Load reads the file for ref.
func (d DirLoader) Load(ctx context.Context, ref Ref) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if strings.ContainsAny(ref.Value, `/\`) || strings.Contains(ref.Value, "..") {
		return nil, fmt.Errorf("%w: illegal identifier", ErrInvalidRef)
	}

	switch ref.Kind {
	case KindDocument:
		return d.readText(ref, "documents")
	case KindConversation:
		return d.readText(ref, "conversations")
	case KindAudio:
		return d.readAudio(ref)
	default:
		return nil, fmt.Errorf("%w: directory loader cannot serve %s references", ErrInvalidRef, ref.Kind)
	}
}

func (d DirLoader) readText(ref Ref, sub string) (*Content, error) {
	body, err := os.ReadFile(filepath.Join(d.Root, sub, ref.Value+".txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrLoad, ref)
	}
	return &Content{Ref: ref, Text: string(body)}, nil
}

func (d DirLoader) readAudio(ref Ref) (*Content, error) {
	for _, at := range audioTypes {
		body, err := os.ReadFile(filepath.Join(d.Root, "audio", ref.Value+at.ext))
		if err == nil {
			return &Content{Ref: ref, Data: body, MIMEType: at.mime}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrLoad, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}
