// Package catalog loads and serves the model catalog: the mapping from the
// model ids this gateway advertises to the upstream endpoint and model
// identifier each one is served by.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// thinkingSuffix marks model id variants that request the upstream's
// reasoning channel.
const thinkingSuffix = "-thinking"

// Model describes one advertised model id and its upstream binding.
type Model struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	Description string `json:"description,omitempty"`

	// UpstreamModelID is the identifier sent to the upstream.
	UpstreamModelID string `json:"vertical_model_id"`
	// UpstreamURL is the upstream route (endpoint identity) serving this model.
	UpstreamURL string `json:"vertical_model_url"`
	// Reasoning reports whether this id variant requests the reasoning channel.
	Reasoning bool `json:"-"`
}

// catalogFile is the preferred on-disk format.
type catalogFile struct {
	Data []Model `json:"data"`
	// Models is the legacy format: plain upstream entries that are expanded
	// into a base and a -thinking variant at load time.
	Models []legacyModel `json:"models"`
}

type legacyModel struct {
	ModelID string `json:"modelId"`
	URL     string `json:"url"`
}

// Catalog is a read-mostly view of the model catalog. Replace swaps the
// whole catalog atomically, so hot reloads never expose a partial state.
type Catalog struct {
	mu     sync.RWMutex
	models []Model
	byID   map[string]Model
}

// New returns an empty catalog. An empty catalog rejects every model lookup;
// requests then surface a service-unavailable condition rather than failing
// the process.
func New() *Catalog {
	return &Catalog{byID: make(map[string]Model)}
}

// Load reads the catalog file at path and replaces the current contents.
// Both the {"data": [...]} format and the legacy {"models": [...]} format
// are accepted; legacy entries are normalized into a base variant and a
// -thinking variant. On error the previous contents are kept.
func (c *Catalog) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading model catalog: %w", err)
	}

	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing model catalog: %w", err)
	}

	models := file.Data
	if len(models) == 0 && len(file.Models) > 0 {
		models = expandLegacy(file.Models)
	}

	now := time.Now().Unix()
	for i := range models {
		models[i].Object = "model"
		models[i].Reasoning = strings.HasSuffix(models[i].ID, thinkingSuffix)
		if models[i].Created == 0 {
			models[i].Created = now
		}
		if models[i].OwnedBy == "" {
			models[i].OwnedBy = "vertical-studio"
		}
	}

	byID := make(map[string]Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}

	c.mu.Lock()
	c.models = models
	c.byID = byID
	c.mu.Unlock()
	return nil
}

// expandLegacy turns each legacy entry into a final-answer-only variant and
// a -thinking variant sharing the same upstream binding.
func expandLegacy(legacy []legacyModel) []Model {
	models := make([]Model, 0, 2*len(legacy))
	for _, lm := range legacy {
		base := Model{
			ID:              lm.ModelID,
			Description:     lm.ModelID + " (final answer only)",
			UpstreamModelID: lm.ModelID,
			UpstreamURL:     lm.URL,
		}
		thinking := base
		thinking.ID = lm.ModelID + thinkingSuffix
		thinking.Description = lm.ModelID + " (with thinking steps)"
		models = append(models, base, thinking)
	}
	return models
}

// Lookup returns the model registered under id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	return m, ok
}

// List returns all models in catalog order.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Model(nil), c.models...)
}

// Len reports the number of registered models.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}
