package document

import (
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/crypto/blake2b"
)

// Digest identifies content by extension and bytes, so the same payload
// uploaded as .txt and .pdf is not confused.
func Digest(name string, data []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(strings.ToLower(filepath.Ext(name))))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Cache memoizes extraction results by digest. A nil *Cache is a valid
// cache that stores nothing.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
}

func NewCache(maxEntries int) *Cache {
	return &Cache{lru: lru.New(maxEntries)}
}

func (c *Cache) Get(digest string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(digest)
	if !ok {
		return Result{}, false
	}
	return v.(Result), true
}

func (c *Cache) Put(digest string, res Result) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(digest, res)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
}
