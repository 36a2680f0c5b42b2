package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alienxp03/deepdiscussion/provider"
)

const (
	// HealthCacheFile is the cache file name inside the data directory.
	HealthCacheFile = "provider-health.json"
	// HealthCacheTTL is how long a passing check is reused.
	HealthCacheTTL = 30 * time.Minute
)

// healthKey names one binding. An empty model is the provider default.
type healthKey struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func (k healthKey) String() string {
	if k.Model == "" {
		return k.Provider
	}
	return k.Provider + "/" + k.Model
}

type healthRecord struct {
	healthKey
	Status provider.HealthStatus `json:"status"`
}

// healthCache remembers passing provider checks across server restarts.
// Failed checks are stored for display but are never served as fresh.
type healthCache struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	records map[healthKey]provider.HealthStatus
	loaded  bool
}

func newHealthCache(path string, ttl time.Duration) *healthCache {
	if ttl <= 0 {
		ttl = HealthCacheTTL
	}
	return &healthCache{
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		records: make(map[healthKey]provider.HealthStatus),
	}
}

// Fresh returns the cached status for a binding if it passed within the TTL.
func (c *healthCache) Fresh(providerName, model string) (provider.HealthStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	status, ok := c.records[healthKey{providerName, model}]
	if !ok || !status.Available || status.CheckedAt.IsZero() {
		return provider.HealthStatus{}, false
	}
	if c.now().Sub(status.CheckedAt) > c.ttl {
		return provider.HealthStatus{}, false
	}
	return status, true
}

// Store records the outcome of a check and rewrites the cache file.
func (c *healthCache) Store(providerName, model string, status provider.HealthStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	c.records[healthKey{providerName, model}] = status
	if err := c.save(); err != nil {
		slog.Warn("Failed to save provider health cache", "path", c.path, "error", err)
	}
}

// Forget drops every record for a provider.
func (c *healthCache) Forget(providerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.load()

	for k := range c.records {
		if k.Provider == providerName {
			delete(c.records, k)
		}
	}
	if err := c.save(); err != nil {
		slog.Warn("Failed to save provider health cache", "path", c.path, "error", err)
	}
}

func (c *healthCache) load() {
	if c.loaded || c.path == "" {
		return
	}
	c.loaded = true

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		slog.Warn("Failed to read provider health cache", "path", c.path, "error", err)
		return
	}

	var records []healthRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("Ignoring corrupt provider health cache", "path", c.path, "error", err)
		return
	}
	for _, r := range records {
		c.records[r.healthKey] = r.Status
	}
}

// save writes through a temporary file so a crash never leaves half a cache.
func (c *healthCache) save() error {
	if c.path == "" {
		return nil
	}

	records := make([]healthRecord, 0, len(c.records))
	for k, s := range c.records {
		records = append(records, healthRecord{healthKey: k, Status: s})
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".provider-health-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}
