package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWsToHTTPURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ws://localhost:5001/ws", want: "http://localhost:5001"},
		{in: "wss://eval.example.com/ws/abc", want: "https://eval.example.com"},
		{in: "http://localhost:5001", want: "http://localhost:5001"},
		{in: "ftp://localhost", wantErr: true},
		{in: "ws:///ws", wantErr: true},
	}

	for _, tt := range tests {
		got, err := wsToHTTPURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("wsToHTTPURL(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("wsToHTTPURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestStatusChecker_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "running", "agent_connected": true, "active_connections": 3}`))
	}))
	defer srv.Close()

	checker, err := NewStatusChecker("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", srv.Client())
	if err != nil {
		t.Fatalf("NewStatusChecker failed: %v", err)
	}

	status, err := checker.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !status.Healthy() || !status.AgentConnected || status.ActiveConnections != 3 {
		t.Errorf("status = %+v", status)
	}
}

func TestStatusChecker_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker, _ := NewStatusChecker(srv.URL, nil)
	_, err := checker.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want HTTP 503", err)
	}
}

func TestStatusChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	checker, _ := NewStatusChecker(url, nil)
	_, err := checker.Check(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("err = %v, want ErrConnectionFailed", err)
	}
}

func TestServerStatus_Healthy(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: "running", want: true},
		{status: "ok", want: false},
		{status: "stopping", want: false},
		{status: "", want: false},
	}

	for _, tt := range tests {
		s := &ServerStatus{Status: tt.status}
		if got := s.Healthy(); got != tt.want {
			t.Errorf("Healthy() for %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}
