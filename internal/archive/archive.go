// Package archive keeps a raw HTML snapshot of every indexed page in a blob
// store, grouped by the seed's namespace.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/index"
)

const htmlContentType = "text/html; charset=utf-8"

// BlobStore persists an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, objectPath string, contentType string, data io.Reader) (string, error)
}

// Archiver writes page snapshots.
type Archiver struct {
	blobs  BlobStore
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. prefix is prepended to every object path.
func New(blobs BlobStore, prefix string, logger *zap.Logger) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{blobs: blobs, prefix: prefix, logger: logger.Named("archive")}, nil
}

// ObjectPath returns <prefix>/<namespace>/<sha256(pageURL)>.html. Re-archiving
// a page overwrites its previous snapshot.
func ObjectPath(prefix, sourceURL, pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return path.Join(prefix, index.DeriveNamespace(sourceURL), hex.EncodeToString(sum[:])+".html")
}

// Archive stores html for pageURL and returns the object URI.
func (a *Archiver) Archive(ctx context.Context, sourceURL, pageURL string, html []byte) (string, error) {
	if len(html) == 0 {
		return "", fmt.Errorf("archive %s: empty document", pageURL)
	}
	objectPath := ObjectPath(a.prefix, sourceURL, pageURL)
	uri, err := a.blobs.PutObject(ctx, objectPath, htmlContentType, bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", pageURL, err)
	}
	a.logger.Debug("page archived", zap.String("page_url", pageURL), zap.String("uri", uri))
	return uri, nil
}
