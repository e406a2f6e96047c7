package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/model"
)

const (
	playerAPIPath       = "/player_api.php"
	maxUpstreamBodySize = 32 << 20
)

type authResponse struct {
	UserInfo struct {
		Auth    model.FlexString `json:"auth"`
		Status  string           `json:"status"`
		ExpDate model.FlexString `json:"exp_date"`
	} `json:"user_info"`
	ServerInfo struct {
		URL string `json:"url"`
	} `json:"server_info"`
}

// XtreamService proxies read-only queries to an Xtream-Codes panel.
type XtreamService struct {
	client *http.Client
	now    func() time.Time
}

func NewXtreamService(timeout time.Duration) *XtreamService {
	if timeout <= 0 {
		timeout = config.UpstreamTimeout
	}
	return &XtreamService{
		client: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// ResolveServerURL asks the panel for its load-balanced server address and
// falls back to the supplied host when the lookup fails or omits it.
func (s *XtreamService) ResolveServerURL(ctx context.Context, creds model.UpstreamCredentials) string {
	auth, err := s.authenticate(ctx, creds)
	if err != nil {
		log.Debug().Err(err).Str("host", creds.Host).Msg("server url lookup failed, using host")
		return creds.Host
	}
	if auth.ServerInfo.URL == "" {
		return creds.Host
	}
	return auth.ServerInfo.URL
}

func (s *XtreamService) ListCategories(ctx context.Context, creds model.UpstreamCredentials) (*model.ListCategoriesResult, error) {
	serverURL := s.ResolveServerURL(ctx, creds)

	raw, err := s.getJSON(ctx, playerAPIURL(creds, url.Values{"action": {"get_live_categories"}}))
	if err != nil {
		return nil, apperrors.Upstream("categories", err)
	}

	return &model.ListCategoriesResult{
		Success:    true,
		Categories: coerceArray[model.Category](raw),
		ServerURL:  serverURL,
	}, nil
}

func (s *XtreamService) ListStreams(ctx context.Context, creds model.UpstreamCredentials, categoryID string) (*model.ListStreamsResult, error) {
	serverURL := s.ResolveServerURL(ctx, creds)

	raw, err := s.getJSON(ctx, playerAPIURL(creds, url.Values{
		"action":      {"get_live_streams"},
		"category_id": {categoryID},
	}))
	if err != nil {
		return nil, apperrors.Upstream("channels", err)
	}

	return &model.ListStreamsResult{
		Streams:   coerceArray[model.Stream](raw),
		ServerURL: serverURL,
	}, nil
}

// VerifyAccount reports the upstream account status. It never fails: an
// unreachable panel is reported as offline.
func (s *XtreamService) VerifyAccount(ctx context.Context, creds model.UpstreamCredentials) *model.AccountInfo {
	auth, err := s.authenticate(ctx, creds)
	if err != nil {
		log.Debug().Err(err).Str("host", creds.Host).Msg("account verification failed")
		return &model.AccountInfo{Status: model.AccountStatusOffline}
	}

	info := &model.AccountInfo{
		Status:    accountStatus(auth),
		ServerURL: auth.ServerInfo.URL,
	}

	if exp := auth.UserInfo.ExpDate.Int(); exp > 0 {
		expiresAt := time.Unix(exp, 0).UTC()
		info.ExpiresAt = expiresAt.Format(time.RFC3339)
		if info.Status == model.AccountStatusActive && expiresAt.Before(s.now()) {
			info.Status = model.AccountStatusExpired
		}
	}

	return info
}

func accountStatus(auth *authResponse) model.AccountStatus {
	if auth.UserInfo.Auth != "" && auth.UserInfo.Auth.Int() == 0 {
		return model.AccountStatusDisabled
	}

	switch strings.ToLower(auth.UserInfo.Status) {
	case "active", "":
		return model.AccountStatusActive
	case "expired":
		return model.AccountStatusExpired
	case "disabled", "banned":
		return model.AccountStatusDisabled
	default:
		return model.AccountStatusOffline
	}
}

func (s *XtreamService) authenticate(ctx context.Context, creds model.UpstreamCredentials) (*authResponse, error) {
	raw, err := s.getJSON(ctx, playerAPIURL(creds, nil))
	if err != nil {
		return nil, err
	}

	var auth authResponse
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	return &auth, nil
}

func (s *XtreamService) getJSON(ctx context.Context, rawURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", config.UpstreamUserAgent)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn().
			Err(err).
			Str("host", req.URL.Host).
			Dur("elapsed", elapsed).
			Msg("upstream request error")
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().
			Str("host", req.URL.Host).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("upstream request failed")
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodySize))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned invalid json")
	}

	log.Debug().
		Str("host", req.URL.Host).
		Str("action", req.URL.Query().Get("action")).
		Int("bytes", len(body)).
		Dur("elapsed", elapsed).
		Msg("upstream request ok")

	return body, nil
}

// playerAPIURL builds the player_api.php URL for creds. Hosts without a
// scheme are reached over plain http, as Xtream panels usually are.
func playerAPIURL(creds model.UpstreamCredentials, extra url.Values) string {
	base := strings.TrimRight(creds.Host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	query := url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	}
	for k, v := range extra {
		query[k] = v
	}

	return base + playerAPIPath + "?" + query.Encode()
}

// coerceArray decodes raw as a JSON array of T. Anything else yields an
// empty slice. Only elements that are not objects are skipped; an object with
// a field of an unexpected shape keeps its other fields.
func coerceArray[T any](raw json.RawMessage) []T {
	out := make([]T, 0)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return out
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return out
	}

	for i, item := range items {
		v, err := decodeElement[T](item)
		if err != nil {
			log.Debug().Err(err).Int("index", i).Msg("upstream listing element skipped")
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeElement[T any](item json.RawMessage) (T, error) {
	var v T
	item = bytes.TrimSpace(item)
	if len(item) == 0 || item[0] != '{' {
		return v, errors.New("not an object")
	}
	if err := json.Unmarshal(item, &v); err == nil {
		return v, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return v, err
	}
	for k, field := range fields {
		field = bytes.TrimSpace(field)
		if len(field) > 0 && (field[0] == '{' || field[0] == '[') {
			delete(fields, k)
		}
	}

	cleaned, err := json.Marshal(fields)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(cleaned, &v); err != nil {
		return v, err
	}
	return v, nil
}
