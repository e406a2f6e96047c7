package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iplinks/iplinks-go/internal/service"
)

func newUpstream(t *testing.T, failListings bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("action") {
		case "":
			w.Write([]byte(`{"user_info":{"auth":1,"status":"Active","exp_date":null},"server_info":{"url":"lb.panel.tv"}}`))
		case "get_live_categories":
			if failListings {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`[{"category_id":"1","category_name":"News","parent_id":0}]`))
		case "get_live_streams":
			if failListings {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`[{"stream_id":42,"name":"Channel 42","stream_icon":"http://i/42.png","num":1}]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newXtreamRouter() http.Handler {
	xtreamHandler := NewXtreamHandler(service.NewXtreamService(2 * time.Second))

	r := chi.NewRouter()
	r.Mount("/api/xtream", xtreamHandler.Routes())
	r.Post("/api/accounts/verify", xtreamHandler.VerifyAccount)
	return r
}

func TestXtreamHandler_ListCategories(t *testing.T) {
	host := newUpstream(t, false)
	h := newXtreamRouter()

	rec, body := doJSON(t, h, http.MethodPost, "/api/xtream/categories",
		`{"host":"`+host+`","username":"bob","password":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "lb.panel.tv", body["serverUrl"])

	categories := body["categories"].([]any)
	require.Len(t, categories, 1)
	first := categories[0].(map[string]any)
	assert.Equal(t, "1", first["category_id"])
	assert.Equal(t, "News", first["category_name"])
	assert.Equal(t, "0", first["parent_id"])
}

func TestXtreamHandler_ListStreams(t *testing.T) {
	host := newUpstream(t, false)
	h := newXtreamRouter()

	rec, body := doJSON(t, h, http.MethodPost, "/api/xtream/streams",
		`{"host":"`+host+`","username":"bob","password":"x","category_id":1}`)

	require.Equal(t, http.StatusOK, rec.Code)
	streams := body["streams"].([]any)
	require.Len(t, streams, 1)
	first := streams[0].(map[string]any)
	assert.Equal(t, "42", first["stream_id"])
	assert.Equal(t, "Channel 42", first["name"])
	assert.Equal(t, "http://i/42.png", first["stream_icon"])
	assert.NotContains(t, first, "num")
}

func TestXtreamHandler_UpstreamFailure(t *testing.T) {
	host := newUpstream(t, true)
	h := newXtreamRouter()

	rec, body := doJSON(t, h, http.MethodPost, "/api/xtream/categories",
		`{"host":"`+host+`","username":"bob","password":"x"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "UPSTREAM_FAILURE", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestXtreamHandler_MissingParameters(t *testing.T) {
	h := newXtreamRouter()

	tests := []struct {
		name   string
		target string
		body   string
		code   string
	}{
		{"categories without password", "/api/xtream/categories", `{"host":"a.com","username":"bob"}`, "MISSING_REQUIRED"},
		{"streams without category", "/api/xtream/streams", `{"host":"a.com","username":"bob","password":"x"}`, "MISSING_REQUIRED"},
		{"verify without host", "/api/accounts/verify", `{"username":"bob","password":"x"}`, "MISSING_REQUIRED"},
		{"malformed body", "/api/xtream/categories", `not json`, "INVALID_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, h, http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestXtreamHandler_VerifyAccount(t *testing.T) {
	host := newUpstream(t, false)
	h := newXtreamRouter()

	rec, body := doJSON(t, h, http.MethodPost, "/api/accounts/verify",
		`{"host":"`+host+`","username":"bob","password":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])
	assert.NotContains(t, body, "expiresAt")
}

func TestXtreamHandler_VerifyAccountOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()
	h := newXtreamRouter()

	rec, body := doJSON(t, h, http.MethodPost, "/api/accounts/verify",
		`{"host":"`+host+`","username":"bob","password":"x"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "offline", body["status"])
}
