package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/media"
)

// MaxEnrichRefs bounds a single enrichment request.
const MaxEnrichRefs = 500

type MediaHandlers struct {
	enricher *media.Enricher
}

func NewMediaHandlers(enricher *media.Enricher) *MediaHandlers {
	return &MediaHandlers{enricher: enricher}
}

type EnrichRequest struct {
	Media []media.Ref `json:"media"`
}

type EnrichResponse struct {
	Media []media.EnrichedRef `json:"media"`
}

// Enrich handles POST /api/v1/media/enrich. Content services call it while
// rendering feeds to learn which videos are playable yet.
func (h *MediaHandlers) Enrich(w http.ResponseWriter, r *http.Request) error {
	if _, err := currentUser(r); err != nil {
		return err
	}

	var req EnrichRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if len(req.Media) > MaxEnrichRefs {
		return apperrors.ValidationError(fmt.Sprintf("at most %d media refs per request", MaxEnrichRefs))
	}
	for i, ref := range req.Media {
		if ref.Kind != media.KindImage && ref.Kind != media.KindVideo {
			return apperrors.ValidationError(fmt.Sprintf("media[%d]: unknown kind %q", i, ref.Kind))
		}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, EnrichResponse{
		Media: h.enricher.Enrich(r.Context(), req.Media),
	})
	return nil
}
