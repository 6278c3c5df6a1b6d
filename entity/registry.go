package entity

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultExtractorName is the name the rule-based extractor registers
// under.
const DefaultExtractorName = "rules"

// Registry manages named extraction functions so alternative extractors
// can be selected by configuration.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]ExtractFunc
}

// NewRegistry creates a registry preloaded with the rule-based extractor.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]ExtractFunc)}
	r.Register(DefaultExtractorName, NewExtractor().Extract)
	return r
}

// Register adds an extraction function under a name, replacing any
// previous registration.
func (r *Registry) Register(name string, fn ExtractFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[name] = fn
}

// Get returns the extraction function registered under name.
func (r *Registry) Get(name string) (ExtractFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("extractor %q not registered", name)
	}
	return fn, nil
}

// Names returns all registered extractor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
