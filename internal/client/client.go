// Package client talks to the pairing server's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iplinks/iplinks-go/internal/config"
	apperrors "github.com/iplinks/iplinks-go/internal/errors"
	"github.com/iplinks/iplinks-go/internal/httputil"
	"github.com/iplinks/iplinks-go/internal/model"
	"github.com/iplinks/iplinks-go/internal/util"
)

const (
	pairPath          = "/api/tv-pair"
	categoriesPath    = "/api/xtream/categories"
	streamsPath       = "/api/xtream/streams"
	verifyAccountPath = "/api/accounts/verify"

	maxResponseSize = 32 << 20
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.ClientRequestTimeout,
		},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type CreateResult struct {
	Code      string
	ExpiresAt time.Time
}

type SessionStatus struct {
	Status      model.PairingStatus `json:"status"`
	Credentials *model.Credentials  `json:"credentials"`
}

func (c *Client) Create(ctx context.Context) (*CreateResult, error) {
	var resp struct {
		Code      string `json:"code"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if err := c.post(ctx, pairPath, map[string]any{"action": model.PairingActionCreate}, &resp); err != nil {
		return nil, err
	}
	return &CreateResult{Code: resp.Code, ExpiresAt: time.UnixMilli(resp.ExpiresAt)}, nil
}

func (c *Client) Connect(ctx context.Context, code string) error {
	return c.post(ctx, pairPath, map[string]any{
		"action": model.PairingActionConnect,
		"code":   code,
	}, nil)
}

func (c *Client) SubmitCredentials(ctx context.Context, code string, creds model.Credentials) error {
	return c.post(ctx, pairPath, map[string]any{
		"action":      model.PairingActionCredentials,
		"code":        code,
		"credentials": creds,
	}, nil)
}

// Query returns the session state. An unknown or expired code yields an
// error for which apperrors.IsNotFound is true.
func (c *Client) Query(ctx context.Context, code string) (*SessionStatus, error) {
	var resp SessionStatus
	if err := c.do(ctx, http.MethodGet, pairPath+"?code="+url.QueryEscape(code), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Categories(ctx context.Context, creds model.UpstreamCredentials) (*model.ListCategoriesResult, error) {
	var resp model.ListCategoriesResult
	if err := c.post(ctx, categoriesPath, creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Streams(ctx context.Context, creds model.UpstreamCredentials, categoryID string) (*model.ListStreamsResult, error) {
	body := struct {
		model.UpstreamCredentials
		CategoryID string `json:"category_id"`
	}{creds, categoryID}

	var resp model.ListStreamsResult
	if err := c.post(ctx, streamsPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) VerifyAccount(ctx context.Context, creds model.UpstreamCredentials) (*model.AccountInfo, error) {
	var resp model.AccountInfo
	if err := c.post(ctx, verifyAccountPath, creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's AppError so callers can branch on its
// code. Bodies that are not error envelopes fall back to the HTTP status.
func decodeError(status int, data []byte) error {
	var envelope httputil.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Code != "" {
		return apperrors.New(envelope.Code, envelope.Error)
	}

	log.Debug().Int("status", status).Str("body", util.MaskSecret(string(data))).Msg("non-envelope error response")

	switch {
	case status == http.StatusNotFound:
		return apperrors.PairingExpired()
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimitExceeded()
	case status >= 400 && status < 500:
		return apperrors.ValidationError(fmt.Sprintf("request rejected with status %d", status))
	default:
		return apperrors.Internal(fmt.Sprintf("server returned status %d", status))
	}
}
