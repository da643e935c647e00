package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/zhubert/devmonitor/logger"
)

var (
	errNotConnected      = errors.New("not connected")
	errAttemptSuperseded = errors.New("connection attempt superseded")
)

type transition struct {
	from, to ConnectionState
}

// Client is a duplex connection to the evaluation server. Requests are
// correlated to replies by message id; a dropped connection is reestablished
// with bounded backoff while the heartbeat watches for half-open sockets.
// All methods are safe for concurrent use.
type Client struct {
	settings       Settings
	conversationID string
	endpoint       string
	header         http.Header

	clock        clock.Clock
	dialer       Dialer
	log          *slog.Logger
	notifier     Notifier
	metrics      *Metrics
	contextStore *ContextStore
	listener     StateListener

	table     *PendingTable
	backoff   *Backoff
	heartbeat *Heartbeat
	connects  singleflight.Group

	mu             sync.Mutex
	state          ConnectionState
	changed        chan struct{} // Closed and replaced on every transition
	conn           Conn
	epoch          uint64 // Incremented per established connection
	reconnectTimer *clock.Timer
	lastErr        error
	closed         bool
	transitions    []transition

	listenerMu sync.Mutex // Serializes listener delivery
	writeMu    sync.Mutex
}

// New creates a disconnected client. Nothing is dialed until the first
// request or an explicit Connect.
func New(settings Settings, opts ...Option) (*Client, error) {
	settings = settings.withDefaults()

	u, err := url.Parse(settings.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("server url %q: scheme must be ws or wss", settings.ServerURL)
	}

	c := &Client{
		settings: settings,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.conversationID == "" {
		c.conversationID = uuid.NewString()
	}
	c.endpoint, err = url.JoinPath(settings.ServerURL, c.conversationID)
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}

	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(settings.HandshakeTimeout)
	}
	if c.log == nil {
		c.log = logger.WithConversation(c.conversationID).With("component", "mcp-client")
	}
	if c.notifier == nil {
		c.notifier = discardNotifier{}
	}
	if c.contextStore == nil {
		c.contextStore = NewContextStore()
	}

	c.table = NewPendingTable(c.clock, settings.RequestTimeout)
	c.table.onExpire = func(mt MessageType) {
		c.log.Warn("request timed out", "type", mt)
		c.metrics.setPending(c.table.Len())
	}
	c.backoff = &Backoff{
		Base:        settings.ReconnectBaseDelay,
		Factor:      settings.ReconnectFactor,
		MaxAttempts: settings.MaxReconnectAttempts,
	}
	c.heartbeat = NewHeartbeat(c.clock, settings.HeartbeatInterval, settings.HeartbeatStale, c.log)
	c.metrics.setState(StateDisconnected)

	return c, nil
}

// ConversationID returns the id sent in every envelope and in the endpoint path.
func (c *Client) ConversationID() string { return c.conversationID }

// Endpoint returns the WebSocket URL the client dials.
func (c *Client) Endpoint() string { return c.endpoint }

// ContextStore returns the enrichment store embedded in suggestions.
func (c *Client) ContextStore() *ContextStore { return c.contextStore }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of requests awaiting a reply.
func (c *Client) Pending() int { return c.table.Len() }

// ReconnectAttempts returns the attempts made since the last healthy connection.
func (c *Client) ReconnectAttempts() int { return c.backoff.Attempts() }

// Connect ensures the client is connected. Concurrent callers share a single
// dial. A caller that waits through a reconnect cycle which gives up receives
// a ConnectionError wrapping ErrReconnectExhausted; a later Connect starts a
// fresh cycle.
func (c *Client) Connect(ctx context.Context) error {
	waited := false
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrDisposed
		}
		state, wait, lastErr := c.state, c.changed, c.lastErr
		c.mu.Unlock()

		switch state {
		case StateConnected:
			return nil

		case StateDisconnected:
			if waited && lastErr != nil {
				return &ConnectionError{Err: lastErr}
			}
			ch := c.connects.DoChan("connect", c.connectOnce)
			select {
			case res := <-ch:
				if errors.Is(res.Err, errAttemptSuperseded) {
					continue
				}
				return res.Err
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			waited = true
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// connectOnce performs an explicit connection attempt from Disconnected.
func (c *Client) connectOnce() (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisposed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil, errAttemptSuperseded
	}
	c.backoff.Reset()
	c.lastErr = nil
	c.setStateLocked(StateConnecting)
	c.unlockAndFlush()

	c.log.Info("connecting", "endpoint", c.endpoint)
	ctx, cancel := context.WithTimeout(context.Background(), c.settings.HandshakeTimeout)
	defer cancel()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		if !c.closed && c.state == StateConnecting {
			c.lastErr = err
			c.setStateLocked(StateDisconnected)
		}
		c.unlockAndFlush()
		c.log.Error("connection failed", "endpoint", c.endpoint, "error", err)
		return nil, &ConnectionError{Err: err}
	}
	return nil, nil
}

// dial opens a transport and, if the client is still Connecting, installs it
// as the live connection.
func (c *Client) dial(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, c.endpoint, c.header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.state != StateConnecting {
		closed := c.closed
		c.mu.Unlock()
		conn.Close()
		if closed {
			return ErrDisposed
		}
		return errAttemptSuperseded
	}
	c.epoch++
	epoch := c.epoch
	c.conn = conn
	c.lastErr = nil
	c.backoff.Reset()

	conn.SetReadLimit(MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		if c.currentEpoch() == epoch {
			c.heartbeat.Pong()
		}
		return nil
	})
	c.heartbeat.Start(
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout))
		},
		func(reason error) {
			c.metrics.heartbeatFailed()
			c.handleDrop(epoch, reason)
		},
	)
	c.setStateLocked(StateConnected)
	c.unlockAndFlush()

	c.log.Info("connected", "endpoint", c.endpoint)
	go c.readLoop(conn, epoch)
	return nil
}

func (c *Client) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *Client) readLoop(conn Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(epoch, fmt.Errorf("read: %w", err))
			return
		}
		c.handleInbound(data)
	}
}

// handleInbound routes one inbound frame. Malformed frames never reach
// correlation and never close the connection.
func (c *Client) handleInbound(data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		c.metrics.malformedMessage()
		c.log.Warn("dropping malformed message", "error", err, "bytes", len(data))

		var malformed *MalformedMessageError
		if errors.As(err, &malformed) && malformed.MessageType == MessageTypeError && malformed.ServerError != "" {
			c.notifier.Notify(&ServerError{Message: malformed.ServerError})
		}
		return
	}

	if c.table.Resolve(env) {
		c.metrics.setPending(c.table.Len())
		c.log.Debug("reply correlated", "type", env.MessageType, "messageID", env.Context.MessageID)
		return
	}

	if env.MessageType == MessageTypeError {
		serr := serverErrorFrom(env)
		c.log.Warn("unmatched server error", "error", serr, "messageID", env.Context.MessageID)
		c.notifier.Notify(serr)
		return
	}
	c.log.Debug("dropping unmatched reply", "type", env.MessageType, "messageID", env.Context.MessageID)
}

// handleDrop reacts to the loss of the connection identified by epoch. Events
// from connections that are no longer current are ignored.
func (c *Client) handleDrop(epoch uint64, cause error) {
	c.mu.Lock()
	if c.closed || epoch != c.epoch || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.log.Warn("connection lost", "error", cause)
	c.heartbeat.Stop()
	conn := c.conn
	c.conn = nil
	exhausted := c.scheduleReconnectLocked(cause)
	c.unlockAndFlush()

	if conn != nil {
		conn.Close()
	}
	if exhausted != nil {
		c.reconnectGaveUp(exhausted)
	}
}

// scheduleReconnectLocked arms the next reconnect attempt. When the attempts
// are exhausted it fails every pending request and leaves the client
// Disconnected, both under c.mu, and returns the terminal error.
func (c *Client) scheduleReconnectLocked(cause error) error {
	delay, ok := c.backoff.Next()
	if !ok {
		exhausted := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, c.backoff.MaxAttempts, cause)
		n := c.table.FailAll(&ConnectionError{Err: exhausted})
		c.log.Error("giving up on reconnect", "attempts", c.backoff.MaxAttempts, "failedPending", n)
		c.lastErr = exhausted
		c.setStateLocked(StateDisconnected)
		return exhausted
	}
	c.setStateLocked(StateReconnecting)
	c.metrics.reconnectScheduled()
	c.log.Info("reconnect scheduled", "attempt", c.backoff.Attempts(), "delay", delay)
	c.reconnectTimer = c.clock.AfterFunc(delay, c.reconnect)
	return nil
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	attempt := c.backoff.Attempts()
	c.setStateLocked(StateConnecting)
	c.unlockAndFlush()

	ctx, cancel := context.WithTimeout(context.Background(), c.settings.HandshakeTimeout)
	defer cancel()

	err := c.dial(ctx)
	if err == nil {
		c.log.Info("reconnected", "attempt", attempt)
		return
	}
	c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)

	c.mu.Lock()
	if c.closed || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	exhausted := c.scheduleReconnectLocked(err)
	c.unlockAndFlush()

	if exhausted != nil {
		c.reconnectGaveUp(exhausted)
	}
}

// reconnectGaveUp reports an exhausted reconnect cycle to the user.
func (c *Client) reconnectGaveUp(cause error) {
	c.metrics.reconnectExhausted()
	c.metrics.setPending(c.table.Len())
	c.notifier.Notify(cause)
}

// setStateLocked is the only writer of c.state. Listener delivery is queued
// and drained by unlockAndFlush.
func (c *Client) setStateLocked(next ConnectionState) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	close(c.changed)
	c.changed = make(chan struct{})
	c.metrics.setState(next)
	c.log.Debug("state transition", "from", prev, "to", next)
	if c.listener != nil {
		c.transitions = append(c.transitions, transition{from: prev, to: next})
	}
}

func (c *Client) unlockAndFlush() {
	c.mu.Unlock()
	if c.listener == nil {
		return
	}

	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.mu.Lock()
	queued := c.transitions
	c.transitions = nil
	c.mu.Unlock()

	for _, t := range queued {
		c.listener(t.from, t.to)
	}
}

// send writes one envelope on the live connection. A write failure is
// treated as a dropped connection.
func (c *Client) send(env *Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrDisposed
	}
	conn, epoch, state := c.conn, c.epoch, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return &ConnectionError{Err: errNotConnected}
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.handleDrop(epoch, fmt.Errorf("write: %w", err))
		return &ConnectionError{Err: err}
	}
	return nil
}

// sendConnected sends env, waiting out one reconnect if the connection
// dropped after the caller's Connect returned.
func (c *Client) sendConnected(ctx context.Context, env *Envelope) error {
	err := c.send(env)
	if !errors.Is(err, errNotConnected) {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.send(env)
}

func (c *Client) newEnvelope(msgType MessageType, content json.RawMessage, metadata map[string]any) *Envelope {
	return newEnvelope(c.conversationID, msgType, content, metadata)
}

// Request sends an envelope of msgType carrying content and waits for the
// correlated reply. It connects first if needed. An error reply is returned
// as a *ServerError.
func (c *Client) Request(ctx context.Context, msgType MessageType, content any, opts ...RequestOption) (*Envelope, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	start := c.clock.Now()
	reply, err := c.request(ctx, msgType, content, ro)
	c.metrics.observeRequest(msgType, err, c.clock.Since(start))
	return reply, err
}

func (c *Client) request(ctx context.Context, msgType MessageType, content any, ro requestOptions) (*Envelope, error) {
	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", msgType, err)
	}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	env := c.newEnvelope(msgType, payload, ro.metadata)
	id := env.Context.MessageID

	done, err := c.table.Register(id, msgType, ro.timeout)
	if err != nil {
		return nil, err
	}
	c.metrics.setPending(c.table.Len())

	if err := c.sendConnected(ctx, env); err != nil {
		c.table.Fail(id, err)
		c.metrics.setPending(c.table.Len())
		return nil, err
	}
	c.log.Debug("request sent", "type", msgType, "messageID", id)

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		if c.table.Fail(id, ctx.Err()) {
			c.metrics.setPending(c.table.Len())
			return nil, ctx.Err()
		}
		// Settled concurrently; the delivered result wins.
		res = <-done
	}
	c.metrics.setPending(c.table.Len())

	if res.Err != nil {
		return nil, res.Err
	}
	if res.Envelope.MessageType == MessageTypeError {
		return nil, serverErrorFrom(res.Envelope)
	}
	return res.Envelope, nil
}

// EvaluateSuggestion asks the server to assess a proposed change. The current
// ContextStore snapshot travels with the request.
func (c *Client) EvaluateSuggestion(ctx context.Context, req SuggestionRequest, opts ...RequestOption) (*Evaluation, error) {
	reply, err := c.Request(ctx, MessageTypeSuggestion, req.content(c.contextStore), opts...)
	if err != nil {
		return nil, err
	}
	return evaluationFrom(reply, c.log)
}

// SendContinue asks the server to drive the conversation forward, typically
// after the assistant stalled or timed out.
func (c *Client) SendContinue(ctx context.Context, req ContinueRequest, opts ...RequestOption) (*Continuation, error) {
	reply, err := c.Request(ctx, MessageTypeContinue, req, opts...)
	if err != nil {
		return nil, err
	}
	return continuationFrom(reply, c.log)
}

// Close disposes the client: the heartbeat and any scheduled reconnect stop,
// the transport closes, and every pending request fails with ErrDisposed.
// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.heartbeat.Stop()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.unlockAndFlush()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	n := c.table.FailAll(ErrDisposed)
	c.metrics.setPending(0)
	c.log.Info("client closed", "failedPending", n)
	return err
}
