package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/scry-tasks/internal/content"
	"github.com/phrazzld/scry-tasks/internal/store"
)

// DocumentLoader serves doc, conv and audio payload references from the
// documents table.
type DocumentLoader struct {
	db store.DBTX
}

var _ content.Loader = (*DocumentLoader)(nil)

// NewDocumentLoader creates a loader over db.
func NewDocumentLoader(db store.DBTX) *DocumentLoader {
	return &DocumentLoader{db: db}
}

// Load fetches the row for ref.
func (l *DocumentLoader) Load(ctx context.Context, ref content.Ref) (*content.Content, error) {
	switch ref.Kind {
	case content.KindDocument, content.KindConversation, content.KindAudio:
	default:
		return nil, fmt.Errorf("%w: database loader cannot serve %s references", content.ErrInvalidRef, ref.Kind)
	}

	var (
		mimeType string
		body     sql.NullString
		data     []byte
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT mime_type, body, data FROM documents WHERE id = $1 AND kind = $2`,
		ref.Value, string(ref.Kind),
	).Scan(&mimeType, &body, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", content.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("%w: %v", content.ErrLoad, MapError(err))
	}

	if ref.Kind == content.KindAudio {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: %s has no audio data", content.ErrLoad, ref)
		}
		return &content.Content{Ref: ref, Data: data, MIMEType: mimeType}, nil
	}

	if strings.TrimSpace(body.String) == "" {
		return nil, fmt.Errorf("%w: %s is empty", content.ErrLoad, ref)
	}
	return &content.Content{Ref: ref, Text: body.String, MIMEType: mimeType}, nil
}
