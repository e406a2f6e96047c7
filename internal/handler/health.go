package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/service"
)

type HealthHandler struct {
	pairingService *service.PairingService
	store          string
}

func NewHealthHandler(pairingService *service.PairingService, store string) *HealthHandler {
	return &HealthHandler{
		pairingService: pairingService,
		store:          store,
	}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"store":     h.store,
	}

	count, err := h.pairingService.ActiveSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("health: failed to count pairing sessions")
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["sessions"] = count

	writeJSON(w, http.StatusOK, body)
}
