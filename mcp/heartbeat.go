package mcp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Heartbeat defaults
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatStale    = 30 * time.Second
)

// Heartbeat pings a live connection at a fixed interval and declares it dead
// when no pong arrives within the stale threshold or a ping cannot be sent.
// The threshold runs on its own timer, rearmed by every pong, so a silent
// connection is reported staleAfter past the last pong rather than on the
// next ping. A monitor reports death at most once per Start.
type Heartbeat struct {
	clock      clock.Clock
	interval   time.Duration
	staleAfter time.Duration
	log        *slog.Logger

	mu       sync.Mutex
	lastPong time.Time
	ticker   *clock.Ticker
	deadline *clock.Timer
	stop     chan struct{}
}

// NewHeartbeat creates a stopped monitor. Zero durations select the defaults.
func NewHeartbeat(clk clock.Clock, interval, staleAfter time.Duration, log *slog.Logger) *Heartbeat {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if staleAfter <= 0 {
		staleAfter = 2 * interval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Heartbeat{
		clock:      clk,
		interval:   interval,
		staleAfter: staleAfter,
		log:        log,
	}
}

// Start begins pinging. ping sends one control frame; onDead is called at most once,
// after which the monitor has already stopped itself. Starting a running
// monitor restarts it.
func (h *Heartbeat) Start(ping func() error, onDead func(reason error)) {
	h.mu.Lock()
	h.stopLocked()
	h.lastPong = h.clock.Now()
	stop := make(chan struct{})
	ticker := h.clock.Ticker(h.interval)
	h.stop = stop
	h.ticker = ticker
	h.deadline = h.clock.AfterFunc(h.staleAfter, func() {
		silence := h.clock.Since(h.LastPong())
		h.log.Warn("heartbeat stale, forcing reconnect", "silence", silence)
		h.die(stop, onDead, fmt.Errorf("no pong for %s", silence))
	})
	h.mu.Unlock()

	go h.loop(ticker, stop, ping, onDead)
}

// Stop halts probing. Safe to call repeatedly and from inside onDead.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *Heartbeat) stopLocked() {
	if h.stop == nil {
		return
	}
	close(h.stop)
	h.ticker.Stop()
	h.deadline.Stop()
	h.stop = nil
	h.ticker = nil
	h.deadline = nil
}

// Pong records a liveness acknowledgment.
func (h *Heartbeat) Pong() {
	h.mu.Lock()
	h.lastPong = h.clock.Now()
	if h.deadline != nil {
		h.deadline.Reset(h.staleAfter)
	}
	h.mu.Unlock()
}

// LastPong returns the time of the last acknowledgment (or of Start).
func (h *Heartbeat) LastPong() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPong
}

// running reports whether the monitor is active.
func (h *Heartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop != nil
}

func (h *Heartbeat) loop(ticker *clock.Ticker, stop chan struct{}, ping func() error, onDead func(error)) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// A tick may race with Stop; never act for a stopped monitor.
		select {
		case <-stop:
			return
		default:
		}

		if err := ping(); err != nil {
			h.log.Warn("heartbeat ping failed, forcing reconnect", "error", err)
			h.die(stop, onDead, fmt.Errorf("ping: %w", err))
			return
		}
		h.log.Debug("heartbeat ping sent")
	}
}

// die stops the monitor if it is still the run identified by stop, then
// reports. A run that was already stopped or restarted reports nothing.
func (h *Heartbeat) die(stop chan struct{}, onDead func(error), reason error) {
	h.mu.Lock()
	if h.stop != stop {
		h.mu.Unlock()
		return
	}
	h.stopLocked()
	h.mu.Unlock()

	onDead(reason)
}
