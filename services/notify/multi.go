package notifysvc

import (
	"context"
	"sync"

	"github.com/trezcool/elimu/core"
)

// MultiNotifier fans a notification out to every registered channel.
// Channels can be added after construction.
type MultiNotifier struct {
	mutex    sync.RWMutex
	channels []core.Notifier
}

var _ core.Notifier = (*MultiNotifier)(nil)

func NewMultiNotifier(channels ...core.Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

func (n *MultiNotifier) Add(channel core.Notifier) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.channels = append(n.channels, channel)
}

func (n *MultiNotifier) Notify(ctx context.Context, notif core.Notification) {
	n.mutex.RLock()
	channels := make([]core.Notifier, len(n.channels))
	copy(channels, n.channels)
	n.mutex.RUnlock()
	for _, ch := range channels {
		ch.Notify(ctx, notif)
	}
}
