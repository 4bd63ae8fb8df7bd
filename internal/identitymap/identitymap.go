// Package identitymap links the shared subscriber UUIDs to Marzban's native
// usernames. The mapping lives in a JSON side file maintained out of band
// and can be reloaded at runtime.
package identitymap

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nzrmohammad/panelbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the identity map loaded from the configured side file.
var Module = fx.Provide(New)

// Map is a bidirectional uuid <-> marzban-username lookup, safe for
// concurrent readers while a reload swaps the maps.
type Map struct {
	mu     sync.RWMutex
	path   string
	log    *zap.Logger
	byUUID map[string]string
	byName map[string]string
}

func New(cfg config.Config, log *zap.Logger) *Map {
	m := &Map{
		path:   cfg.IdentityMapPath,
		log:    log.Named("identitymap"),
		byUUID: map[string]string{},
		byName: map[string]string{},
	}
	if err := m.Reload(); err != nil {
		// A missing side file only degrades Marzban lookups by UUID; the
		// process must still come up.
		m.log.Warn("identity map not loaded", zap.String("path", cfg.IdentityMapPath), zap.Error(err))
	}
	return m
}

// Reload re-reads the side file and atomically swaps both directions.
func (m *Map) Reload() error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read identity map: %w", err)
	}

	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse identity map: %w", err)
	}

	byUUID := make(map[string]string, len(entries))
	byName := make(map[string]string, len(entries))
	for uuid, name := range entries {
		uuid = strings.ToLower(strings.TrimSpace(uuid))
		name = strings.TrimSpace(name)
		if uuid == "" || name == "" {
			continue
		}
		byUUID[uuid] = name
		byName[name] = uuid
	}

	m.mu.Lock()
	m.byUUID = byUUID
	m.byName = byName
	m.mu.Unlock()

	m.log.Info("identity map loaded", zap.Int("entries", len(byUUID)))
	return nil
}

// NameFor returns the Marzban username registered for the UUID.
func (m *Map) NameFor(uuid string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byUUID[strings.ToLower(uuid)]
	return name, ok
}

// UUIDFor returns the shared UUID registered for the Marzban username.
func (m *Map) UUIDFor(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uuid, ok := m.byName[name]
	return uuid, ok
}

// Len reports the number of linked identities.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUUID)
}
