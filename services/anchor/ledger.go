package anchorsvc

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/elimu/core"
)

// LedgerService is an append-only in-process anchor. References are
// deterministic over the anchored content so re-anchoring identical bytes
// yields the same ref.
type LedgerService struct {
	mutex   sync.RWMutex
	entries map[string]core.AnchorEntry
}

var _ core.AnchorService = (*LedgerService)(nil)

func NewLedgerService() *LedgerService {
	return &LedgerService{entries: make(map[string]core.AnchorEntry)}
}

func (svc *LedgerService) Anchor(_ context.Context, subject, metadata []byte) (core.AnchorEntry, error) {
	subjectHash := core.Hash(subject)
	metadataHash := core.Hash(metadata)
	ref := "demo" + core.Hash(append(subject, metadata...))[:40]

	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	if entry, ok := svc.entries[ref]; ok {
		return entry, nil
	}
	entry := core.AnchorEntry{
		SubjectHash:  subjectHash,
		MetadataHash: metadataHash,
		Ref:          ref,
		CreatedAt:    time.Now().UTC(),
	}
	svc.entries[ref] = entry
	return entry, nil
}

func (svc *LedgerService) Lookup(_ context.Context, ref string) (core.AnchorEntry, error) {
	svc.mutex.RLock()
	defer svc.mutex.RUnlock()
	entry, ok := svc.entries[ref]
	if !ok {
		return core.AnchorEntry{}, core.ErrAnchorNotFound
	}
	return entry, nil
}
