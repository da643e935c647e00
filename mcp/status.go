package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusRunning is the status a healthy evaluation server reports.
const StatusRunning = "running"

// ServerStatus is the evaluation server's health report
type ServerStatus struct {
	Status            string `json:"status"`
	AgentConnected    bool   `json:"agent_connected"`
	ActiveConnections int    `json:"active_connections"`
}

// Healthy reports whether the server says it is running.
func (s *ServerStatus) Healthy() bool { return s.Status == StatusRunning }

// StatusChecker queries the server's HTTP status endpoint, which is served
// from the same host as the WebSocket endpoint.
type StatusChecker struct {
	url    string
	client *http.Client
}

// NewStatusChecker derives the status URL from a ws:// or wss:// server URL.
// A nil httpClient uses one with a ten second timeout.
func NewStatusChecker(serverURL string, httpClient *http.Client) (*StatusChecker, error) {
	base, err := wsToHTTPURL(serverURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &StatusChecker{url: base + "/status", client: httpClient}, nil
}

// URL returns the status endpoint.
func (s *StatusChecker) URL() string { return s.url }

// Check fetches the current status.
func (s *StatusChecker) Check(ctx context.Context) (*ServerStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status endpoint returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status ServerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// wsToHTTPURL maps ws(s)://host/ws/... to http(s)://host, dropping the path.
func wsToHTTPURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("server url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q: missing host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
