package mcp

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func replyTo(messageID string, parentID *string) *Envelope {
	return &Envelope{
		Context:     MessageContext{ConversationID: "c", MessageID: messageID, ParentID: parentID},
		MessageType: MessageTypeEvaluation,
	}
}

func receive(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for pending result")
		return Result{}
	}
}

func TestPendingTable_ResolveByMessageID(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)

	done, err := table.Register("m1", MessageTypeSuggestion, 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !table.Resolve(replyTo("m1", nil)) {
		t.Fatal("Resolve should match by message id")
	}
	res := receive(t, done)
	if res.Err != nil || res.Envelope == nil {
		t.Fatalf("Result = %+v, want envelope", res)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestPendingTable_ResolveByParentID(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)

	done, _ := table.Register("m1", MessageTypeSuggestion, 0)
	parent := "m1"
	if !table.Resolve(replyTo("m2", &parent)) {
		t.Fatal("Resolve should fall back to parent id")
	}
	if res := receive(t, done); res.Envelope.Context.MessageID != "m2" {
		t.Errorf("delivered message id = %q, want 'm2'", res.Envelope.Context.MessageID)
	}
}

func TestPendingTable_UnmatchedReply(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)
	table.Register("m1", MessageTypeSuggestion, 0)

	other := "zzz"
	if table.Resolve(replyTo("m9", &other)) {
		t.Error("Resolve should not match unknown ids")
	}
	if table.Len() != 1 {
		t.Errorf("Len() = %d, want 1", table.Len())
	}
}

func TestPendingTable_ResolvesAtMostOnce(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)
	done, _ := table.Register("m1", MessageTypeSuggestion, 0)

	if !table.Resolve(replyTo("m1", nil)) {
		t.Fatal("first Resolve should match")
	}
	if table.Resolve(replyTo("m1", nil)) {
		t.Error("second Resolve should not match")
	}
	if table.Fail("m1", errors.New("late")) {
		t.Error("Fail after resolve should not match")
	}
	receive(t, done)
	select {
	case res := <-done:
		t.Errorf("unexpected second result %+v", res)
	default:
	}
}

func TestPendingTable_Expire(t *testing.T) {
	mock := clock.NewMock()
	table := NewPendingTable(mock, 0)

	expired := make(chan MessageType, 1)
	table.onExpire = func(mt MessageType) { expired <- mt }

	done, _ := table.Register("m1", MessageTypeContinue, 0)

	mock.Add(DefaultRequestTimeout - time.Millisecond)
	if table.Len() != 1 {
		t.Fatalf("entry expired early")
	}

	mock.Add(time.Millisecond)
	res := receive(t, done)

	var timeoutErr *TimeoutError
	if !errors.As(res.Err, &timeoutErr) {
		t.Fatalf("Err = %v, want *TimeoutError", res.Err)
	}
	if !errors.Is(res.Err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
	if timeoutErr.MessageType != MessageTypeContinue || timeoutErr.After != DefaultRequestTimeout {
		t.Errorf("TimeoutError = %+v, want continue after %s", timeoutErr, DefaultRequestTimeout)
	}
	if mt := <-expired; mt != MessageTypeContinue {
		t.Errorf("onExpire type = %q, want 'continue'", mt)
	}

	// A late reply finds nothing
	if table.Resolve(replyTo("m1", nil)) {
		t.Error("late reply should be dropped")
	}
}

func TestPendingTable_CustomTimeout(t *testing.T) {
	mock := clock.NewMock()
	table := NewPendingTable(mock, 0)

	done, _ := table.Register("m1", MessageTypeSuggestion, 5*time.Second)
	mock.Add(5 * time.Second)

	if res := receive(t, done); !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("Err = %v, want timeout", res.Err)
	}
}

func TestPendingTable_ResolveStopsTimer(t *testing.T) {
	mock := clock.NewMock()
	table := NewPendingTable(mock, time.Second)

	done, _ := table.Register("m1", MessageTypeSuggestion, 0)
	table.Resolve(replyTo("m1", nil))
	receive(t, done)

	mock.Add(time.Minute)
	select {
	case res := <-done:
		t.Errorf("timer fired after resolve: %+v", res)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPendingTable_DuplicateID(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)
	table.Register("m1", MessageTypeSuggestion, 0)

	_, err := table.Register("m1", MessageTypeSuggestion, 0)
	if !errors.Is(err, ErrDuplicateMessageID) {
		t.Errorf("err = %v, want ErrDuplicateMessageID", err)
	}
	if _, err := table.Register("", MessageTypeSuggestion, 0); err == nil {
		t.Error("empty id should be rejected")
	}
}

func TestPendingTable_FailAll(t *testing.T) {
	table := NewPendingTable(clock.NewMock(), 0)
	b, _ := table.Register("b", MessageTypeSuggestion, 0)
	c, _ := table.Register("c", MessageTypeContinue, 0)

	if n := table.FailAll(ErrDisposed); n != 2 {
		t.Errorf("FailAll() = %d, want 2", n)
	}
	for _, ch := range []<-chan Result{b, c} {
		if res := receive(t, ch); !errors.Is(res.Err, ErrDisposed) {
			t.Errorf("Err = %v, want ErrDisposed", res.Err)
		}
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestPendingTable_Age(t *testing.T) {
	mock := clock.NewMock()
	table := NewPendingTable(mock, 0)
	table.Register("m1", MessageTypeSuggestion, 0)

	mock.Add(3 * time.Second)
	age, ok := table.Age("m1")
	if !ok || age != 3*time.Second {
		t.Errorf("Age() = %v, %v; want 3s, true", age, ok)
	}
	if _, ok := table.Age("nope"); ok {
		t.Error("Age of unknown id should report false")
	}
}
