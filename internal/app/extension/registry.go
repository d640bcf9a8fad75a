package extension

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = make(map[string]Extension)
	mu       sync.RWMutex
)

// Info describes a registered extension for listings.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Register adds an extension to the registry. Built-ins call this from
// their init function. Panics if the ID is already taken.
func Register(ext Extension) {
	mu.Lock()
	defer mu.Unlock()

	id := ext.ID()
	if _, exists := registry[id]; exists {
		panic(fmt.Sprintf("extension: %q already registered", id))
	}
	registry[id] = ext
}

// Get returns an extension by ID.
func Get(id string) (Extension, bool) {
	mu.RLock()
	defer mu.RUnlock()

	ext, ok := registry[id]
	return ext, ok
}

// List returns all registered extension IDs in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllInfo returns Info for every registered extension, sorted by ID.
func AllInfo() []Info {
	mu.RLock()
	defer mu.RUnlock()

	infos := make([]Info, 0, len(registry))
	for _, ext := range registry {
		infos = append(infos, Info{ID: ext.ID(), Title: ext.Title()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of registered extensions.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(registry)
}
