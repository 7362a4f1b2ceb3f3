package narrative

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"climascope/internal/types"
)

// hashInputs is the canonical form hashed to produce a narrative content hash.
// Fields are a fixed-order struct, not a map, so the JSON encoding is stable.
// The prompt is itself a pure function of the document's numeric inputs, so
// hashing it captures every figure the provider sees.
type hashInputs struct {
	Section     types.SectionID `json:"section"`
	CountyID    string          `json:"county_id"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	Prompt      string          `json:"prompt"`
}

// contentHash computes the cache key for one section of one document.
func contentHash(doc *types.WeatherDataDocument, sectionID types.SectionID, prompt string) string {
	canonical, _ := json.Marshal(hashInputs{
		Section:     sectionID,
		CountyID:    doc.CountyID,
		PeriodStart: doc.Period.Start.String(),
		PeriodEnd:   doc.Period.End.String(),
		Prompt:      prompt,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// cache is a process-local narrative cache keyed by content hash. Entries are
// never invalidated: identical inputs must produce identical narratives for
// the lifetime of the process, and documents are small enough that eviction
// has not been needed.
type cache struct {
	mu      sync.RWMutex
	entries map[string]types.Narrative
}

func newCache() *cache {
	return &cache{entries: make(map[string]types.Narrative)}
}

func (c *cache) get(hash string) (types.Narrative, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.entries[hash]
	return n, ok
}

func (c *cache) put(hash string, n types.Narrative) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = n
}
