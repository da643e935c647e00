package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory Conn. Frames the client writes appear on sent;
// frames pushed with deliver are returned by ReadMessage.
type fakeConn struct {
	inbound   chan []byte
	sent      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	autoPong    bool
	pings       int
	writeErr    error
	pingErr     error
	pongHandler func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		sent:     make(chan []byte, 16),
		closed:   make(chan struct{}),
		autoPong: true,
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	writeErr := f.writeErr
	f.mu.Unlock()

	if f.isClosed() {
		return errFakeClosed
	}
	if writeErr != nil {
		return writeErr
	}
	if messageType == websocket.TextMessage {
		f.sent <- data
	}
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	f.pings++
	pingErr, autoPong, handler := f.pingErr, f.autoPong, f.pongHandler
	f.mu.Unlock()

	if pingErr != nil {
		return pingErr
	}
	if autoPong && handler != nil {
		return handler("")
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) SetReadLimit(int64) {}

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeConn) setAutoPong(v bool) {
	f.mu.Lock()
	f.autoPong = v
	f.mu.Unlock()
}

func (f *fakeConn) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeConn) deliver(data []byte) { f.inbound <- data }

// nextSent returns the next envelope the client wrote.
func (f *fakeConn) nextSent(t *testing.T) *Envelope {
	t.Helper()
	select {
	case data := <-f.sent:
		env, err := DecodeEnvelope(data)
		if err != nil {
			t.Fatalf("client sent undecodable frame %s: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for client frame")
		return nil
	}
}

// reply answers req the way the evaluation server does: same context,
// new type and content.
func (f *fakeConn) reply(t *testing.T, req *Envelope, msgType MessageType, content any) {
	t.Helper()
	f.replyWithContext(t, req.Context, msgType, content)
}

func (f *fakeConn) replyWithContext(t *testing.T, ctx MessageContext, msgType MessageType, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal reply content: %v", err)
	}
	data, err := Encode(&Envelope{Context: ctx, MessageType: msgType, Content: raw})
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	f.deliver(data)
}

// fakeDialer hands out fakeConns. fail, when set, decides per dial number
// (starting at 1) whether the dial errors. gate, when set, blocks every dial
// until it is closed.
type fakeDialer struct {
	mu    sync.Mutex
	dials int
	urls  []string
	conns []*fakeConn
	fail  func(n int) error
	gate  chan struct{}
}

func (d *fakeDialer) DialContext(ctx context.Context, urlStr string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.urls = append(d.urls, urlStr)
	fail, gate := d.fail, d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(fail func(n int) error) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

// lastConn returns the most recently established connection.
func (d *fakeDialer) lastConn(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		t.Fatal("no connection established")
	}
	return d.conns[len(d.conns)-1]
}

func failAlways(err error) func(int) error {
	return func(int) error { return err }
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

type recordingNotifier struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingNotifier) Notify(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}
