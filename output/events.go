package output

import "sync"

// Code is the integer result delivered with a Start event. CodeSuccess is
// emitted by BeginCapture; any other code reaches listeners only through
// SignalStartFailure.
type Code int

// Start event result codes.
const (
	CodeSuccess       Code = 0
	CodeError         Code = -1
	CodeBadPath       Code = -2
	CodeConnectFailed Code = -3
	CodeDisconnected  Code = -4
)

// EventKind distinguishes the two lifecycle notifications an output emits.
type EventKind int

// The two event kinds.
const (
	EventStart EventKind = iota
	EventStop
)

// Event carries one lifecycle notification. Code is meaningful only for
// EventStart.
type Event struct {
	Kind   EventKind
	Output *Output
	Code   Code
}

// ListenerFunc receives lifecycle events. Listeners are invoked
// synchronously on the goroutine that triggered the event and must not
// block.
type ListenerFunc func(Event)

// notifier fans lifecycle events out to registered listeners.
type notifier struct {
	mu        sync.RWMutex
	listeners []ListenerFunc
}

func (n *notifier) subscribe(fn ListenerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *notifier) emit(ev Event) {
	n.mu.RLock()
	fns := n.listeners
	n.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
