package consensus

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

// Fingerprint returns a deterministic hash of a request's type and payload.
func Fingerprint(t RequestType, payload []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(string(t))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(payload)

	var sum [8]byte
	return hex.EncodeToString(d.Sum(sum[:0]))
}

// History is a bounded record of past results keyed by fingerprint. When
// full, the least recently used entry is evicted.
type History struct {
	cache *lru.Cache
	mu    sync.Mutex
}

// NewHistory creates a history holding at most capacity results.
func NewHistory(capacity int) (*History, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create history cache: %w", err)
	}
	return &History{cache: cache}, nil
}

// Put stores a copy of result under fingerprint. It reports whether an
// older entry was evicted.
func (h *History) Put(fingerprint string, result *ConsensusResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Add(fingerprint, result.Clone())
}

// Get returns a copy of the result stored under fingerprint.
func (h *History) Get(fingerprint string) (ConsensusResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.cache.Get(fingerprint)
	if !ok {
		return ConsensusResult{}, false
	}
	r := v.(ConsensusResult)
	return r.Clone(), true
}

// Len returns the number of stored results.
func (h *History) Len() int {
	return h.cache.Len()
}

// Keys returns fingerprints from least to most recently used.
func (h *History) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := h.cache.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}

// Snapshot returns a copy of all stored results. It does not affect recency.
func (h *History) Snapshot() map[string]ConsensusResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]ConsensusResult, h.cache.Len())
	for _, k := range h.cache.Keys() {
		v, ok := h.cache.Peek(k)
		if !ok {
			continue
		}
		r := v.(ConsensusResult)
		out[k.(string)] = r.Clone()
	}
	return out
}
