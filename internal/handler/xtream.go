package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/httputil"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/service"
)

type XtreamHandler struct {
	xtreamService *service.XtreamService
}

func NewXtreamHandler(xtreamService *service.XtreamService) *XtreamHandler {
	return &XtreamHandler{
		xtreamService: xtreamService,
	}
}

func (h *XtreamHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/categories", h.ListCategories)
	r.Post("/streams", h.ListStreams)

	return r
}

type streamsRequest struct {
	model.UpstreamCredentials
	CategoryID model.FlexString `json:"category_id"`
}

// POST /api/xtream/categories
func (h *XtreamHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	var req model.UpstreamCredentials
	if !decodeUpstreamRequest(w, r, &req, &req) {
		return
	}

	result, err := h.xtreamService.ListCategories(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /api/xtream/streams
func (h *XtreamHandler) ListStreams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	var req streamsRequest
	if !decodeUpstreamRequest(w, r, &req, &req.UpstreamCredentials) {
		return
	}
	if req.CategoryID == "" {
		httputil.WriteError(w, apperrors.MissingRequired("category_id"))
		return
	}

	result, err := h.xtreamService.ListStreams(r.Context(), req.UpstreamCredentials, req.CategoryID.String())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /api/accounts/verify
func (h *XtreamHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	var req model.UpstreamCredentials
	if !decodeUpstreamRequest(w, r, &req, &req) {
		return
	}

	writeJSON(w, http.StatusOK, h.xtreamService.VerifyAccount(r.Context(), req))
}

// decodeUpstreamRequest decodes the body into dst and checks that creds,
// which points into dst, is complete. It writes the error response itself.
func decodeUpstreamRequest(w http.ResponseWriter, r *http.Request, dst any, creds *model.UpstreamCredentials) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return false
	}

	creds.Host = strings.TrimSpace(creds.Host)
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Host == "" || creds.Username == "" || creds.Password == "" {
		httputil.WriteError(w, apperrors.New(apperrors.ErrCodeMissingRequired, "host, username and password are required"))
		return false
	}
	return true
}
