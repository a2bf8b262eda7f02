package config

import (
	"fmt"
	"sync"
)

// Holder provides thread-safe access to a mutable *Config and an immutable
// config file path. Readers take a snapshot with Config; reloads swap the
// pointer so a snapshot never changes underneath its reader.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// ReloadPolicy re-reads the config file and swaps in its [policy] section.
// Every other section keeps its running value, since listeners, secrets,
// and stores are bound at startup. An invalid file leaves the config
// untouched.
func (h *Holder) ReloadPolicy() (PolicyConfig, error) {
	loaded, err := LoadOrDefault(h.path)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("config: reloading %s: %w", h.path, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	next := *h.cfg
	next.Policy = loaded.Policy
	h.cfg = &next

	return next.Policy, nil
}
