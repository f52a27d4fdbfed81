package entity

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]Definition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if an entity with the same tag is already registered.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Tag]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Tag))
	}

	registry[def.Tag] = def
}

// Get returns an entity definition by tag.
// Returns false if not found.
func Get(tag string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[tag]
	return def, ok
}

// All returns all registered entity definitions, sorted by tag.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Definition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Tag < result[j].Tag
	})

	return result
}

// Classify matches a source hint (feed label, blob name, or data URL)
// against the registered entity tags. The hint matches a tag when the
// tag appears as a substring of the lowercased hint. If several tags
// match, the longest match wins so "chargingstations" is never shadowed
// by a shorter tag.
func Classify(hint string) (Definition, bool) {
	lower := strings.ToLower(hint)

	var best Definition
	found := false
	for _, def := range All() {
		if !strings.Contains(lower, def.Tag) {
			continue
		}
		if !found || len(def.Tag) > len(best.Tag) {
			best = def
			found = true
		}
	}
	return best, found
}

// Count returns the number of registered entity types.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Definition)
}
