package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/services"
)

type modelCatalog interface {
	FreeModels(ctx context.Context) ([]models.ModelInfo, error)
}

type CatalogHandler struct {
	catalog modelCatalog
}

func NewCatalogHandler(catalog *services.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// Models answers GET /api/ai/get-models with the free models on offer.
func (h *CatalogHandler) Models(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUserID(r.Context()) == uuid.Nil {
		writeJSON(w, http.StatusUnauthorized, models.CatalogErrorResponse{Error: "Unauthorized"})
		return
	}

	list, err := h.catalog.FreeModels(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("error fetching free models")
		writeJSON(w, http.StatusInternalServerError, models.CatalogErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, models.ModelsResponse{Models: list})
}
