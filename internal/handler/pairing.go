package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/audit"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/httputil"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/service"
)

type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{
		pairingService: pairingService,
	}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.HandleAction)
	r.Get("/", h.QuerySession)

	return r
}

type pairingActionRequest struct {
	Action      model.PairingAction `json:"action"`
	Code        string              `json:"code"`
	Credentials *model.Credentials  `json:"credentials"`
}

type createPairingResponse struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

type pairingAckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type pairingStatusResponse struct {
	Success     bool                `json:"success"`
	Status      model.PairingStatus `json:"status"`
	Credentials *model.Credentials  `json:"credentials"`
}

// POST /api/tv-pair
func (h *PairingHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	var req pairingActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	switch req.Action {
	case model.PairingActionCreate:
		h.create(w, r)
	case model.PairingActionConnect:
		h.connect(w, r, req.Code)
	case model.PairingActionCredentials:
		h.submitCredentials(w, r, req.Code, req.Credentials)
	default:
		httputil.WriteError(w, apperrors.ValidationError("Invalid action"))
	}
}

func (h *PairingHandler) create(w http.ResponseWriter, r *http.Request) {
	result, err := h.pairingService.Create(r.Context())
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeGenerationExhausted {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventCodeSpaceExhausted})
		} else {
			log.Error().Err(err).Msg("failed to create pairing session")
		}
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionCreate, Code: result.Code})

	writeJSON(w, http.StatusOK, createPairingResponse{
		Success:   true,
		Code:      result.Code,
		ExpiresAt: result.ExpiresAt.UnixMilli(),
	})
}

func (h *PairingHandler) connect(w http.ResponseWriter, r *http.Request, code string) {
	if err := h.pairingService.Connect(r.Context(), code); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionConnect, Code: code})
	writeJSON(w, http.StatusOK, pairingAckResponse{Success: true})
}

func (h *PairingHandler) submitCredentials(w http.ResponseWriter, r *http.Request, code string, creds *model.Credentials) {
	if err := h.pairingService.SubmitCredentials(r.Context(), code, creds); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventCredentialsSubmit,
		Code:    code,
		Details: map[string]interface{}{"host": creds.Host},
	})
	writeJSON(w, http.StatusOK, pairingAckResponse{
		Success: true,
		Message: "Credentials sent successfully",
	})
}

// GET /api/tv-pair?code=
func (h *PairingHandler) QuerySession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	code := r.URL.Query().Get("code")
	session, err := h.pairingService.Query(r.Context(), code)
	if err != nil {
		if apperrors.IsNotFound(err) {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionQueryMiss, Code: code})
		}
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pairingStatusResponse{
		Success:     true,
		Status:      session.Status,
		Credentials: session.Credentials,
	})
}
