package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/zhubert/devmonitor/logger"
)

// MessagePath is the server's HTTP endpoint for single envelopes.
const MessagePath = "/mcp/message"

// HTTPClient posts envelopes to the server's message endpoint for callers
// that cannot hold a WebSocket open. Every request is one round trip: there
// is no connection state, heartbeat or reconnect.
type HTTPClient struct {
	settings       Settings
	url            string
	conversationID string
	client         *http.Client
	contextStore   *ContextStore
	log            *slog.Logger
}

// NewHTTPClient derives the message URL from the configured WebSocket URL.
// A nil httpClient uses http.DefaultClient; request deadlines come from
// Settings.RequestTimeout or WithTimeout.
func NewHTTPClient(settings Settings, httpClient *http.Client) (*HTTPClient, error) {
	settings = settings.withDefaults()
	base, err := wsToHTTPURL(settings.ServerURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	id := uuid.NewString()
	return &HTTPClient{
		settings:       settings,
		url:            base + MessagePath,
		conversationID: id,
		client:         httpClient,
		contextStore:   NewContextStore(),
		log:            logger.WithConversation(id).With("component", "mcp-http"),
	}, nil
}

// URL returns the message endpoint.
func (h *HTTPClient) URL() string { return h.url }

// ConversationID returns the id sent in every envelope.
func (h *HTTPClient) ConversationID() string { return h.conversationID }

// ContextStore returns the enrichment store embedded in suggestions.
func (h *HTTPClient) ContextStore() *ContextStore { return h.contextStore }

// Close releases idle connections.
func (h *HTTPClient) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// Request posts one envelope and returns the server's reply. It reports
// failures with the same error types as Client.Request.
func (h *HTTPClient) Request(ctx context.Context, msgType MessageType, content any, opts ...RequestOption) (*Envelope, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", msgType, err)
	}
	env := newEnvelope(h.conversationID, msgType, payload, ro.metadata)
	body, err := Encode(env)
	if err != nil {
		return nil, err
	}

	timeout := ro.timeout
	if timeout <= 0 {
		timeout = h.settings.RequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", msgType, err)
	}
	req.Header.Set("Content-Type", "application/json")

	h.log.Debug("posting message", "type", msgType, "messageID", env.Context.MessageID)
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{MessageType: msgType, MessageID: env.Context.MessageID, After: timeout}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMessageSize))
	if err != nil {
		return nil, &ConnectionError{Err: fmt.Errorf("read reply: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpServerError(resp.StatusCode, data, env.Context.MessageID)
	}

	reply, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if reply.Context.MessageID != env.Context.MessageID && reply.ParentIDValue() != env.Context.MessageID {
		h.log.Warn("reply does not reference the request", "messageID", env.Context.MessageID, "replyID", reply.Context.MessageID)
	}
	if reply.MessageType == MessageTypeError {
		return nil, serverErrorFrom(reply)
	}
	return reply, nil
}

// httpServerError turns a non-200 reply into a ServerError. The server
// reports failures as {"detail": "..."}.
func httpServerError(status int, body []byte, messageID string) *ServerError {
	var detail struct {
		Detail string `json:"detail"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
		msg = detail.Detail
	}
	return &ServerError{
		Message:   fmt.Sprintf("HTTP %d: %s", status, msg),
		MessageID: messageID,
	}
}

// EvaluateSuggestion posts a suggestion and decodes the evaluation.
func (h *HTTPClient) EvaluateSuggestion(ctx context.Context, req SuggestionRequest, opts ...RequestOption) (*Evaluation, error) {
	reply, err := h.Request(ctx, MessageTypeSuggestion, req.content(h.contextStore), opts...)
	if err != nil {
		return nil, err
	}
	return evaluationFrom(reply, h.log)
}

// SendContinue posts a continue request and decodes the continuation.
func (h *HTTPClient) SendContinue(ctx context.Context, req ContinueRequest, opts ...RequestOption) (*Continuation, error) {
	reply, err := h.Request(ctx, MessageTypeContinue, req, opts...)
	if err != nil {
		return nil, err
	}
	return continuationFrom(reply, h.log)
}
