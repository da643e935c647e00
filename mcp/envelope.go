package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
)

// MessageType identifies the kind of envelope exchanged with the evaluation server
type MessageType string

const (
	MessageTypeSuggestion   MessageType = "suggestion"
	MessageTypeContinue     MessageType = "continue"
	MessageTypeError        MessageType = "error"
	MessageTypeEvaluation   MessageType = "evaluation"
	MessageTypeContinuation MessageType = "continuation"
)

// MessageContext carries the identity fields of an envelope
type MessageContext struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	ParentID       *string        `json:"parent_id"`
	Metadata       map[string]any `json:"metadata"`
}

// Envelope is one frame on the wire. Content is kept raw so that unknown
// server-defined reply types pass through untouched.
type Envelope struct {
	Context     MessageContext  `json:"context"`
	MessageType MessageType     `json:"message_type"`
	Content     json.RawMessage `json:"content"`
	Error       string          `json:"error,omitempty"`
}

// ParentIDValue returns the parent id or "" when the envelope is not a reply.
func (e *Envelope) ParentIDValue() string {
	if e.Context.ParentID == nil {
		return ""
	}
	return *e.Context.ParentID
}

// DecodeContent unmarshals the envelope payload into v.
func (e *Envelope) DecodeContent(v any) error {
	if len(e.Content) == 0 || bytes.Equal(e.Content, []byte("null")) {
		return fmt.Errorf("%s envelope has no content", e.MessageType)
	}
	if err := json.Unmarshal(e.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", e.MessageType, err)
	}
	return nil
}

// newEnvelope builds an outbound request with a fresh message id. Metadata
// is copied and never nil, so it encodes as an object.
func newEnvelope(conversationID string, msgType MessageType, content json.RawMessage, metadata map[string]any) *Envelope {
	md := make(map[string]any, len(metadata))
	maps.Copy(md, metadata)
	return &Envelope{
		Context: MessageContext{
			ConversationID: conversationID,
			MessageID:      uuid.NewString(),
			Metadata:       md,
		},
		MessageType: msgType,
		Content:     content,
	}
}

// Encode serializes an envelope into a single wire frame.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("encode: nil envelope")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.MessageType, err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. Frames that are not JSON objects, or
// that lack a message id or message type, are rejected with a
// *MalformedMessageError and must not reach correlation.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Salvage the declared type so context-less error frames can still be reported.
		var declared struct {
			MessageType MessageType `json:"message_type"`
			Error       string      `json:"error"`
		}
		_ = json.Unmarshal(data, &declared)
		return nil, &MalformedMessageError{
			Reason:      "invalid JSON",
			MessageType: declared.MessageType,
			ServerError: declared.Error,
			Err:         err,
		}
	}

	if env.Context.MessageID == "" {
		return nil, &MalformedMessageError{
			Reason:      "missing message_id",
			MessageType: env.MessageType,
			ServerError: env.Error,
		}
	}
	if env.MessageType == "" {
		return nil, &MalformedMessageError{Reason: "missing message_type"}
	}

	env.Content = compactContent(env.Content)
	return &env, nil
}

// compactContent returns raw in compact form, or nil for an absent or null
// payload. Encode always writes compact content, so decoded envelopes compare
// equal to the ones that were encoded.
func compactContent(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// SuggestionRequest describes a proposed code change to be evaluated
type SuggestionRequest struct {
	OriginalCode    string
	ProposedChanges string
	TaskDescription string
	FilePath        string
	Language        string
}

// SuggestionContent is the payload of a suggestion envelope
type SuggestionContent struct {
	OriginalCode    string         `json:"original_code"`
	ProposedChanges string         `json:"proposed_changes"`
	TaskDescription string         `json:"task_description"`
	FilePath        string         `json:"file_path,omitempty"`
	Language        string         `json:"language,omitempty"`
	Context         map[string]any `json:"context,omitempty"` // Snapshot of the ContextStore
}

// Evaluation is the server's assessment of a suggestion
type Evaluation struct {
	Accept            bool     `json:"accept"`
	HallucinationRisk float64  `json:"hallucination_risk"`
	RecursiveRisk     float64  `json:"recursive_risk"`
	AlignmentScore    float64  `json:"alignment_score"`
	IssuesDetected    []string `json:"issues_detected"`
	Recommendations   []string `json:"recommendations"`
	Reason            string   `json:"reason"`

	Reply *Envelope `json:"-"`
}

// ContinueRequest is the payload of a continue envelope
type ContinueRequest struct {
	Prompt          string `json:"prompt"`
	TimeoutOccurred bool   `json:"timeout_occurred"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// Continuation is the server's reply to a continue request
type Continuation struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
	Model    string `json:"model"`

	Reply *Envelope `json:"-"`
}

func (r SuggestionRequest) content(store *ContextStore) SuggestionContent {
	return SuggestionContent{
		OriginalCode:    r.OriginalCode,
		ProposedChanges: r.ProposedChanges,
		TaskDescription: r.TaskDescription,
		FilePath:        r.FilePath,
		Language:        r.Language,
		Context:         store.Snapshot(),
	}
}

func evaluationFrom(reply *Envelope, log *slog.Logger) (*Evaluation, error) {
	if reply.MessageType != MessageTypeEvaluation {
		log.Warn("unexpected reply type for suggestion", "type", reply.MessageType)
	}
	var eval Evaluation
	if err := reply.DecodeContent(&eval); err != nil {
		return nil, err
	}
	eval.Reply = reply
	return &eval, nil
}

func continuationFrom(reply *Envelope, log *slog.Logger) (*Continuation, error) {
	if reply.MessageType != MessageTypeContinuation {
		log.Warn("unexpected reply type for continue", "type", reply.MessageType)
	}
	var cont Continuation
	if err := reply.DecodeContent(&cont); err != nil {
		return nil, err
	}
	cont.Reply = reply
	return &cont, nil
}
