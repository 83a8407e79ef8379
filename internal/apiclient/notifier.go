package apiclient

import "sync"

// Notifier holds a single session-expiry subscriber. Registering replaces
// the previous one. The client calls Notify on every terminal 401 and every
// 403 without de-duplicating, so subscribers must be idempotent.
type Notifier struct {
	mu sync.Mutex
	fn func()
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Register installs fn as the subscriber. A nil fn unsubscribes.
func (n *Notifier) Register(fn func()) {
	n.mu.Lock()
	n.fn = fn
	n.mu.Unlock()
}

// Notify invokes the current subscriber, if any.
func (n *Notifier) Notify() {
	n.mu.Lock()
	fn := n.fn
	n.mu.Unlock()
	if fn != nil {
		fn()
	}
}
