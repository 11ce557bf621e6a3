package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	syncdomain "or3sync/internal/domain/sync"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsResync reports whether err tells the device to rebuild its replica.
func IsResync(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusGone
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	token     string
	userAgent string
}

func NewHTTPClient(serverAddress string, timeout time.Duration, log *slog.Logger) *httpClient {
	baseURL := strings.TrimRight(serverAddress, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &httpClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		log:       log.With("component", "http_client"),
		baseURL:   baseURL,
		userAgent: "or3sync-client/1.0",
	}
}

func (h *httpClient) SetToken(token string) {
	h.token = token
}

func (h *httpClient) HealthCheck(ctx context.Context) error {
	return h.call(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

func (h *httpClient) Register(ctx context.Context, login, password string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := h.call(ctx, http.MethodPost, "/user/register", map[string]string{"login": login, "password": password}, &out)
	return out.ID, err
}

// Login returns the session token and the user id it belongs to.
func (h *httpClient) Login(ctx context.Context, login, password string) (string, string, error) {
	var out struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	err := h.call(ctx, http.MethodPost, "/user/login", map[string]string{"login": login, "password": password}, &out)
	return out.Token, out.UserID, err
}

func (h *httpClient) CreateWorkspace(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := h.call(ctx, http.MethodPost, "/api/workspaces", map[string]string{"name": name}, &out)
	return out.ID, err
}

// Workspace is one membership of the current user.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (h *httpClient) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	err := h.call(ctx, http.MethodGet, "/api/workspaces", nil, &out)
	return out.Workspaces, err
}

func (h *httpClient) AddMember(ctx context.Context, workspaceID, userID, role string) error {
	return h.call(ctx, http.MethodPost, "/api/workspaces/"+workspaceID+"/members",
		map[string]string{"user_id": userID, "role": role}, nil)
}

func (h *httpClient) Push(ctx context.Context, req syncdomain.PushRequest) (*syncdomain.PushResponse, error) {
	var out syncdomain.PushResponse
	if err := h.call(ctx, http.MethodPost, "/api/sync/push", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *httpClient) Pull(ctx context.Context, req syncdomain.PullRequest) (*syncdomain.PullResponse, error) {
	var out syncdomain.PullResponse
	if err := h.call(ctx, http.MethodPost, "/api/sync/pull", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *httpClient) UpdateCursor(ctx context.Context, req syncdomain.CursorRequest) error {
	return h.call(ctx, http.MethodPost, "/api/sync/cursor", req, nil)
}

func (h *httpClient) Snapshot(ctx context.Context, req syncdomain.SnapshotRequest) (*syncdomain.SnapshotResponse, error) {
	var out syncdomain.SnapshotResponse
	if err := h.call(ctx, http.MethodPost, "/api/sync/snapshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *httpClient) call(ctx context.Context, method, path string, body, result any) error {
	resp, err := h.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, result)
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	h.log.Debug("sending request", "method", method, "url", req.URL.String())

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (h *httpClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	h.log.Debug("received response", "status", resp.StatusCode, "bytes", len(body))

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			switch {
			case errResp.Detail != "":
				apiErr.Message = errResp.Detail
			case errResp.Error != "":
				apiErr.Message = errResp.Error
			}
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
