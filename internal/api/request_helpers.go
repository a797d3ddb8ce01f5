package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/api/shared"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
)

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.ErrInvalidID
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidID
	}
	return id, nil
}

// handleOwnerAndPathUUID extracts the authenticated owner and a UUID path
// parameter, writing an error response if either is missing.
func handleOwnerAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
	fallback *slog.Logger,
) (string, uuid.UUID, bool) {
	log := logger.FromContextOrDefault(r.Context(), fallback)

	ownerID, ok := shared.GetOwnerID(r.Context())
	if !ok {
		log.Warn("owner ID not found in request context")
		HandleAPIError(w, r, domain.ErrUnauthorized, "")
		return "", uuid.Nil, false
	}

	id, err := getPathUUID(r, paramName)
	if err != nil {
		log.Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return "", uuid.Nil, false
	}

	return ownerID, id, true
}
