package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

var ErrAnchorNotFound = errors.New("anchor entry not found")

type (
	// AnchorEntry is content-addressed and immutable once written.
	AnchorEntry struct {
		SubjectHash  string    `json:"subject_hash"`
		MetadataHash string    `json:"metadata_hash"`
		Ref          string    `json:"ref"` // external transaction/storage reference
		CreatedAt    time.Time `json:"created_at"`
	}

	// AnchorService records immutable proof that a transition occurred,
	// independent of the primary data store. Implementations must be
	// treated as fallible and latency-bearing: callers anchor best-effort
	// and never fail the transition the anchor accompanies.
	AnchorService interface {
		Anchor(ctx context.Context, subject, metadata []byte) (AnchorEntry, error)
		Lookup(ctx context.Context, ref string) (AnchorEntry, error)
	}
)

// Hash returns the hex sha256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
