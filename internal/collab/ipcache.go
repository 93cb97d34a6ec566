package collab

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ipCache persists the last successfully-resolved ip per hostname so a
// reconnect attempt during a transient DNS outage can still fall back to a
// recently-known-good address. It never substitutes for resolution — the
// resolver is always tried first (see NetDial.Resolve).
type ipCache struct {
	path string
	mu   sync.Mutex
}

func newIPCache(dataDir string) *ipCache {
	return &ipCache{path: filepath.Join(dataDir, "resolved-ip-cache.json")}
}

func (c *ipCache) get(host string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false
	}
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warnf("Failed to parse ip cache: %v", err)
		return "", false
	}
	ip, ok := entries[host]
	return ip, ok
}

func (c *ipCache) put(host string, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := map[string]string{}
	if data, err := os.ReadFile(c.path); err == nil {
		json.Unmarshal(data, &entries)
	}
	entries[host] = ip

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Warnf("Failed to marshal ip cache: %v", err)
		return
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Warnf("Failed to create ip cache dir: %v", err)
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warnf("Failed to write ip cache tmp: %v", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warnf("Failed to rename ip cache: %v", err)
		os.Remove(tmp)
	}
}
