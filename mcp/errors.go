package mcp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedMessage matches inbound frames that could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrTimeout matches requests that got no correlated reply in time.
	ErrTimeout = errors.New("request timed out")
	// ErrConnectionFailed matches requests that could not reach the server.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrReconnectExhausted is reported once the reconnect attempts run out.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrDisposed is returned for work cut short by Client.Close.
	ErrDisposed = errors.New("client disposed")
	// ErrServer matches error envelopes sent by the evaluation server.
	ErrServer = errors.New("server error")
	// ErrDuplicateMessageID is returned when a message id is already pending.
	ErrDuplicateMessageID = errors.New("message id already pending")
)

// MalformedMessageError describes an inbound frame that was dropped
type MalformedMessageError struct {
	Reason      string
	MessageType MessageType // Declared type, if it could be read
	ServerError string      // "error" field, if it could be read
	Err         error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// TimeoutError is delivered to the caller of a request whose deadline passed
type TimeoutError struct {
	MessageType MessageType
	MessageID   string
	After       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request %s timed out after %s", e.MessageType, e.MessageID, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConnectionError wraps the transport failure that kept a request from being served
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError is an error envelope received from the evaluation server
type ServerError struct {
	Message   string
	MessageID string // Empty for context-less error frames
	ParentID  string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return "server error: " + e.Message
}

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// serverErrorFrom builds a ServerError from an error envelope.
func serverErrorFrom(env *Envelope) *ServerError {
	msg := env.Error
	if msg == "" {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if env.DecodeContent(&body) == nil {
			msg = body.Error
			if msg == "" {
				msg = body.Message
			}
		}
	}
	return &ServerError{
		Message:   msg,
		MessageID: env.Context.MessageID,
		ParentID:  env.ParentIDValue(),
	}
}
