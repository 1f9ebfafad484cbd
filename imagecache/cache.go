// Package imagecache picks a representative product image from a gallery and
// stores it once under a content-addressed name.
package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// DefaultPublicPrefix is the URL prefix cache entries are served under.
const DefaultPublicPrefix = "/cache/"

// Cache is a content-addressed image store.
type Cache struct {
	store   BlobStore
	prefix  string
	metrics *Metrics
}

// NewCache wraps store. An empty prefix falls back to DefaultPublicPrefix.
func NewCache(store BlobStore, prefix string, metrics *Metrics) *Cache {
	if prefix == "" {
		prefix = DefaultPublicPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Cache{store: store, prefix: prefix, metrics: metrics}
}

// Name returns the object name for data: the hex SHA-256 digest plus ext.
func Name(data []byte, ext string) (hash, name string) {
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return hash, hash + "." + ext
}

// Put stores data unless an object with the same hash already exists.
// Storing the same bytes twice returns the same entry and writes once.
func (c *Cache) Put(ctx context.Context, data []byte, ext string) (models.CacheEntry, error) {
	hash, name := Name(data, ext)
	entry := models.CacheEntry{
		Hash: hash,
		Ext:  strings.TrimPrefix(path.Ext(name), "."),
		Name: name,
		Path: c.prefix + name,
		Size: int64(len(data)),
	}
	exists, err := c.store.Exists(ctx, name)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("stat cache object %s: %w", name, err)
	}
	if exists {
		c.metrics.IncImage("reused")
		return entry, nil
	}
	if err := c.store.Put(ctx, name, data, mime.TypeByExtension("."+entry.Ext)); err != nil {
		return models.CacheEntry{}, err
	}
	c.metrics.IncImage("cached")
	return entry, nil
}

// ServeHTTP serves cache objects; mount it with the public prefix stripped.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Base(path.Clean("/" + r.URL.Path))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	obj, err := c.store.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "cache unavailable", http.StatusBadGateway)
		return
	}
	defer obj.Close()
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, obj)
}

// GalleryDigest fingerprints a gallery so callers can skip re-resolution when
// it has not changed.
func GalleryDigest(gallery []string) string {
	if len(gallery) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(gallery, "\n")))
	return hex.EncodeToString(sum[:])
}
