package telegrambot

import "sync"

// ChatRegistry maps domain user IDs to Telegram chat IDs. Links are
// established by the /login flow and consumed by the notifier.
type ChatRegistry interface {
	Link(userID string, chatID int64)
	Unlink(chatID int64)
	UserByChat(chatID int64) (string, bool)
	ChatByUser(userID string) (int64, bool)
}

type memoryRegistry struct {
	mut    sync.RWMutex
	byChat map[int64]string
	byUser map[string]int64
}

var _ ChatRegistry = (*memoryRegistry)(nil)

func NewMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{
		byChat: make(map[int64]string),
		byUser: make(map[string]int64),
	}
}

// Link records a two-way mapping, replacing any previous link held by
// either side.
func (r *memoryRegistry) Link(userID string, chatID int64) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if prevUsr, ok := r.byChat[chatID]; ok {
		delete(r.byUser, prevUsr)
	}
	if prevChat, ok := r.byUser[userID]; ok {
		delete(r.byChat, prevChat)
	}
	r.byChat[chatID] = userID
	r.byUser[userID] = chatID
}

func (r *memoryRegistry) Unlink(chatID int64) {
	r.mut.Lock()
	defer r.mut.Unlock()

	if usrID, ok := r.byChat[chatID]; ok {
		delete(r.byUser, usrID)
		delete(r.byChat, chatID)
	}
}

func (r *memoryRegistry) UserByChat(chatID int64) (string, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	usrID, ok := r.byChat[chatID]
	return usrID, ok
}

func (r *memoryRegistry) ChatByUser(userID string) (int64, bool) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	chatID, ok := r.byUser[userID]
	return chatID, ok
}
