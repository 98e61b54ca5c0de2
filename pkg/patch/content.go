package patch

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io/fs"

	"github.com/wpkernel/wpkernel-sub000/pkg/workspace"
)

// hashThreshold is the size from which contents are compared by digest.
const hashThreshold = 64 << 10

// content is one snapshot of a file. A missing file has exists=false.
type content struct {
	data   []byte
	exists bool
	digest *[sha256.Size]byte
}

func (c *content) sum() [sha256.Size]byte {
	if c.digest == nil {
		d := sha256.Sum256(c.data)
		c.digest = &d
	}
	return *c.digest
}

// same reports whether a and b are both present with identical bytes.
func same(a, b *content) bool {
	if !a.exists || !b.exists || len(a.data) != len(b.data) {
		return false
	}
	if len(a.data) < hashThreshold {
		return bytes.Equal(a.data, b.data)
	}
	return a.sum() == b.sum()
}

// contentCache reads each workspace path at most once per apply run.
type contentCache struct {
	fs      workspace.FS
	entries map[string]*content
}

func newContentCache(w workspace.FS) *contentCache {
	return &contentCache{fs: w, entries: make(map[string]*content)}
}

// load returns the snapshot of p. An empty p is a missing file.
func (c *contentCache) load(p string) (*content, error) {
	if p == "" {
		return &content{}, nil
	}
	if cached, ok := c.entries[p]; ok {
		return cached, nil
	}
	data, err := c.fs.Read(p)
	switch {
	case err == nil:
		entry := &content{data: data, exists: true}
		c.entries[p] = entry
		return entry, nil
	case errors.Is(err, fs.ErrNotExist):
		entry := &content{}
		c.entries[p] = entry
		return entry, nil
	default:
		return nil, err
	}
}

// forget drops p after the applier changed it.
func (c *contentCache) forget(p string) {
	delete(c.entries, p)
}
