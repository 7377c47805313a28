package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ClientKeys is the set of API keys inbound callers may authenticate with.
// An empty set means the gateway is not configured; requests are then
// rejected as service-unavailable rather than unauthorized.
type ClientKeys struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewClientKeys returns an empty key set.
func NewClientKeys() *ClientKeys {
	return &ClientKeys{keys: make(map[string]struct{})}
}

// Load reads a JSON array of keys from path and replaces the set. On error
// the previous contents are kept.
func (c *ClientKeys) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading client key file: %w", err)
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("parsing client key file (expected a JSON array of keys): %w", err)
	}

	keys := make(map[string]struct{}, len(list))
	for _, k := range list {
		if k != "" {
			keys[k] = struct{}{}
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.mu.Unlock()
	return nil
}

// Empty reports whether no keys are configured.
func (c *ClientKeys) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys) == 0
}

// Valid reports whether key is a configured client key.
func (c *ClientKeys) Valid(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[key]
	return ok
}
