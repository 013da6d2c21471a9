package core

import (
	"context"

	"github.com/pkg/errors"
)

var ErrFileNotFound = errors.New("file not found")

// FileStore is a content-addressed blob store. It holds evidentiary
// documents and verification-result payloads; refs embed the content
// hash so the same bytes always yield the same ref.
type FileStore interface {
	Store(ctx context.Context, name string, data []byte) (ref string, err error)
	Open(ctx context.Context, ref string) ([]byte, error)
}
