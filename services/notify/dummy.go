package notifysvc

import (
	"context"
	"sync"

	"github.com/trezcool/elimu/core"
)

// DummyNotifier records notifications in memory. For use in tests only.
type DummyNotifier struct {
	mutex sync.Mutex
	sent  []core.Notification
}

var _ core.Notifier = (*DummyNotifier)(nil)

func NewDummyNotifier() *DummyNotifier { return &DummyNotifier{} }

func (n *DummyNotifier) Notify(_ context.Context, notif core.Notification) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.sent = append(n.sent, notif)
}

func (n *DummyNotifier) Sent() []core.Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	out := make([]core.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// SentTo returns the notifications addressed to the given recipient.
func (n *DummyNotifier) SentTo(recipient string) []core.Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	var out []core.Notification
	for _, notif := range n.sent {
		if notif.Recipient == recipient {
			out = append(out, notif)
		}
	}
	return out
}

func (n *DummyNotifier) Clear() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.sent = nil
}
