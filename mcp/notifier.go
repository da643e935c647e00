package mcp

// Notifier is the user-facing error sink. The client calls it only when
// reconnect attempts are exhausted and for server errors that match no
// pending request.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

// Notify implements Notifier.
func (f NotifierFunc) Notify(err error) { f(err) }

type discardNotifier struct{}

func (discardNotifier) Notify(error) {}
