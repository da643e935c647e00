package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newMessageServer serves POST /mcp/message with handle and returns a
// ws:// base URL pointing at it.
func newMessageServer(t *testing.T, handle func(w http.ResponseWriter, req *Envelope)) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(MessagePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			http.Error(w, "bad content type "+ct, http.StatusUnsupportedMediaType)
			return
		}
		data, _ := io.ReadAll(r.Body)
		req, err := DecodeEnvelope(data)
		if err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"detail": "invalid envelope"}`))
			return
		}
		handle(w, req)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func writeReply(w http.ResponseWriter, req *Envelope, msgType MessageType, content any) {
	raw, _ := json.Marshal(content)
	data, _ := Encode(&Envelope{Context: req.Context, MessageType: msgType, Content: raw})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func newTestHTTPClient(t *testing.T, serverURL string) *HTTPClient {
	t.Helper()
	settings := DefaultSettings()
	settings.ServerURL = serverURL
	h, err := NewHTTPClient(settings, nil)
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHTTPClient_EvaluateSuggestion(t *testing.T) {
	received := make(chan *Envelope, 1)
	url := newMessageServer(t, func(w http.ResponseWriter, req *Envelope) {
		received <- req
		writeReply(w, req, MessageTypeEvaluation, acceptEvaluation)
	})
	h := newTestHTTPClient(t, url)
	h.ContextStore().Set("ticket", "DEV-9")

	eval, err := h.EvaluateSuggestion(context.Background(), SuggestionRequest{
		OriginalCode:    "a",
		ProposedChanges: "b",
		TaskDescription: "change a to b",
	}, WithMetadata(map[string]any{"editor": "vim"}))
	if err != nil {
		t.Fatalf("EvaluateSuggestion failed: %v", err)
	}
	if !eval.Accept || eval.Reason != "looks right" {
		t.Errorf("Evaluation = %+v", eval)
	}
	gotReq := <-received
	var got SuggestionContent
	if err := gotReq.DecodeContent(&got); err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if eval.Reply.Context.MessageID != gotReq.Context.MessageID {
		t.Errorf("reply id = %q, want request id %q", eval.Reply.Context.MessageID, gotReq.Context.MessageID)
	}

	if gotReq.MessageType != MessageTypeSuggestion || gotReq.Context.ConversationID != h.ConversationID() {
		t.Errorf("request = %+v", gotReq)
	}
	if gotReq.Context.Metadata["editor"] != "vim" {
		t.Errorf("metadata = %v, want editor=vim", gotReq.Context.Metadata)
	}
	if got.ProposedChanges != "b" || got.Context["ticket"] != "DEV-9" {
		t.Errorf("suggestion = %+v", got)
	}
}

func TestHTTPClient_SendContinue(t *testing.T) {
	url := newMessageServer(t, func(w http.ResponseWriter, req *Envelope) {
		var c ContinueRequest
		req.DecodeContent(&c)
		writeReply(w, req, MessageTypeContinuation, Continuation{Response: "resumed: " + c.Prompt, Success: true})
	})
	h := newTestHTTPClient(t, url)

	cont, err := h.SendContinue(context.Background(), ContinueRequest{Prompt: "go on"})
	if err != nil {
		t.Fatalf("SendContinue failed: %v", err)
	}
	if cont.Response != "resumed: go on" || !cont.Success {
		t.Errorf("Continuation = %+v", cont)
	}
}

func TestHTTPClient_ServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		handle func(w http.ResponseWriter, req *Envelope)
		want   string
	}{
		{
			name: "http detail",
			handle: func(w http.ResponseWriter, req *Envelope) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"detail": "Failed to connect to LLM"}`))
			},
			want: "HTTP 500: Failed to connect to LLM",
		},
		{
			name: "error envelope",
			handle: func(w http.ResponseWriter, req *Envelope) {
				data, _ := Encode(&Envelope{Context: req.Context, MessageType: MessageTypeError, Error: "model offline"})
				w.Write(data)
			},
			want: "model offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHTTPClient(t, newMessageServer(t, tt.handle))

			_, err := h.SendContinue(context.Background(), ContinueRequest{Prompt: "x"})
			if !errors.Is(err, ErrServer) {
				t.Fatalf("err = %v, want ErrServer", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	url := newMessageServer(t, func(w http.ResponseWriter, req *Envelope) {
		time.Sleep(500 * time.Millisecond)
		writeReply(w, req, MessageTypeContinuation, Continuation{})
	})
	h := newTestHTTPClient(t, url)

	_, err := h.SendContinue(context.Background(), ContinueRequest{Prompt: "x"}, WithTimeout(20*time.Millisecond))
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if timeout.MessageType != MessageTypeContinue || timeout.After != 20*time.Millisecond {
		t.Errorf("TimeoutError = %+v", timeout)
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	h := newTestHTTPClient(t, url)
	if h.URL() != "http"+strings.TrimPrefix(srv.URL, "http")+MessagePath {
		t.Errorf("URL() = %q", h.URL())
	}
	_, err := h.SendContinue(context.Background(), ContinueRequest{Prompt: "x"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("err = %v, want ErrConnectionFailed", err)
	}
}
