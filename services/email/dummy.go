package emailsvc

import (
	"sync"

	"github.com/trezcool/elimu/core"
)

// dummyService collects messages in memory. For use in tests only.
type dummyService struct {
	mutex        sync.Mutex
	sentMessages []core.EmailMessage
}

var _ core.EmailService = (*dummyService)(nil)

func NewDummyService() *dummyService {
	return &dummyService{}
}

func (svc *dummyService) SendMessages(messages ...*core.EmailMessage) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	for _, msg := range messages {
		if msg.HasRecipients() && msg.HasContent() {
			svc.sentMessages = append(svc.sentMessages, *msg)
		}
	}
}

func (svc *dummyService) SentMessages() []core.EmailMessage {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	out := make([]core.EmailMessage, len(svc.sentMessages))
	copy(out, svc.sentMessages)
	return out
}

func (svc *dummyService) Clear() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	svc.sentMessages = nil
}
