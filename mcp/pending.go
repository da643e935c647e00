package mcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultRequestTimeout is how long a request waits for its correlated reply
// unless the caller overrides it.
const DefaultRequestTimeout = 30 * time.Second

// Result is the outcome delivered to a pending request. Exactly one of
// Envelope or Err is set.
type Result struct {
	Envelope *Envelope
	Err      error
}

type pendingEntry struct {
	messageType MessageType
	createdAt   time.Time
	timeout     time.Duration
	timer       *clock.Timer
	done        chan Result // Buffered(1); written exactly once
}

// PendingTable correlates outbound requests with inbound replies. Every
// registered entry leaves the table exactly once: resolved, expired, or failed.
type PendingTable struct {
	clock          clock.Clock
	defaultTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*pendingEntry

	onExpire func(MessageType) // Metrics hook; called outside mu
}

// NewPendingTable creates an empty table. A zero defaultTimeout selects
// DefaultRequestTimeout.
func NewPendingTable(clk clock.Clock, defaultTimeout time.Duration) *PendingTable {
	if clk == nil {
		clk = clock.New()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultRequestTimeout
	}
	return &PendingTable{
		clock:          clk,
		defaultTimeout: defaultTimeout,
		entries:        make(map[string]*pendingEntry),
	}
}

// Register stores a pending entry and arms its timeout. The returned channel
// receives exactly one Result.
func (t *PendingTable) Register(messageID string, messageType MessageType, timeout time.Duration) (<-chan Result, error) {
	if messageID == "" {
		return nil, fmt.Errorf("register: empty message id")
	}
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[messageID]; exists {
		return nil, fmt.Errorf("register %s: %w", messageID, ErrDuplicateMessageID)
	}

	entry := &pendingEntry{
		messageType: messageType,
		createdAt:   t.clock.Now(),
		timeout:     timeout,
		done:        make(chan Result, 1),
	}
	t.entries[messageID] = entry
	entry.timer = t.clock.AfterFunc(timeout, func() { t.expire(messageID, entry) })

	return entry.done, nil
}

// Resolve delivers a reply to the pending entry keyed by its message id,
// falling back to its parent id. Returns false when neither matches.
func (t *PendingTable) Resolve(env *Envelope) bool {
	if env == nil {
		return false
	}

	t.mu.Lock()
	key := env.Context.MessageID
	entry, ok := t.entries[key]
	if !ok {
		key = env.ParentIDValue()
		if key != "" {
			entry, ok = t.entries[key]
		}
	}
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, key)
	t.mu.Unlock()

	entry.timer.Stop()
	entry.done <- Result{Envelope: env}
	return true
}

// expire fails the entry with a TimeoutError if it is still the one that was
// registered under messageID.
func (t *PendingTable) expire(messageID string, entry *pendingEntry) {
	t.mu.Lock()
	current, ok := t.entries[messageID]
	if !ok || current != entry {
		t.mu.Unlock()
		return
	}
	delete(t.entries, messageID)
	onExpire := t.onExpire
	t.mu.Unlock()

	entry.done <- Result{Err: &TimeoutError{
		MessageType: entry.messageType,
		MessageID:   messageID,
		After:       entry.timeout,
	}}
	if onExpire != nil {
		onExpire(entry.messageType)
	}
}

// Fail removes a single entry and delivers err to its waiter.
func (t *PendingTable) Fail(messageID string, err error) bool {
	t.mu.Lock()
	entry, ok := t.entries[messageID]
	if ok {
		delete(t.entries, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.done <- Result{Err: err}
	return true
}

// FailAll empties the table, delivering err to every waiter. Returns the
// number of entries failed.
func (t *PendingTable) FailAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.done <- Result{Err: err}
	}
	return len(entries)
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Age returns how long the entry has been pending.
func (t *PendingTable) Age(messageID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[messageID]
	if !ok {
		return 0, false
	}
	return t.clock.Since(entry.createdAt), true
}
