package anchorsvc

import (
	"context"
	"time"

	"github.com/trezcool/elimu/core"
)

// NoopService hashes but never stores. Used when anchoring is disabled;
// lifecycle events still carry content hashes, lookups always miss.
type NoopService struct{}

var _ core.AnchorService = (*NoopService)(nil)

func NewNoopService() *NoopService { return &NoopService{} }

func (svc *NoopService) Anchor(_ context.Context, subject, metadata []byte) (core.AnchorEntry, error) {
	return core.AnchorEntry{
		SubjectHash:  core.Hash(subject),
		MetadataHash: core.Hash(metadata),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (svc *NoopService) Lookup(_ context.Context, _ string) (core.AnchorEntry, error) {
	return core.AnchorEntry{}, core.ErrAnchorNotFound
}
