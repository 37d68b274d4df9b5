package engine

import (
	"os"
	"path/filepath"
	"sync"

	"flowsentinel.dev/definition"
	"flowsentinel.dev/flowerr"
)

// DefinitionProvider resolves a definition name to a FlowDefinition. Missing
// names return ok=false with no error; a parse failure raises a definition
// error. Implementations must be safe for concurrent readers.
type DefinitionProvider interface {
	Definition(name string) (def definition.FlowDefinition, ok bool, err error)
}

// Loader loads and parses the FlowDefinition for name, returning ok=false if
// no such definition exists.
type Loader func(name string) (definition.FlowDefinition, bool, error)

// CachingProvider wraps a Loader with a concurrent, write-once-per-name
// cache: a definition is parsed at most once, then served from memory for
// the lifetime of the provider.
type CachingProvider struct {
	mu    sync.RWMutex
	cache map[string]definition.FlowDefinition
	load  Loader
}

// NewCachingProvider constructs a CachingProvider backed by load.
func NewCachingProvider(load Loader) *CachingProvider {
	return &CachingProvider{cache: make(map[string]definition.FlowDefinition), load: load}
}

// Definition implements DefinitionProvider.
func (p *CachingProvider) Definition(name string) (definition.FlowDefinition, bool, error) {
	p.mu.RLock()
	if def, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return def, true, nil
	}
	p.mu.RUnlock()

	def, ok, err := p.load(name)
	if err != nil {
		return definition.FlowDefinition{}, false, flowerr.Wrap(flowerr.KindDefinition, err, "failed to load definition %q", name)
	}
	if !ok {
		return definition.FlowDefinition{}, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, exists := p.cache[name]; exists {
		return cached, true, nil
	}
	p.cache[name] = def
	return def, true, nil
}

// FileDefinitionProvider loads "<name>.json" files from a directory,
// parsing each with the supplied parser function and caching the result.
// Supplements §4.2, which leaves the loading strategy to implementations.
type FileDefinitionProvider struct {
	*CachingProvider
}

// ParseFunc parses a FlowDefinition from raw JSON bytes.
type ParseFunc func(data []byte) (definition.FlowDefinition, error)

// NewFileDefinitionProvider constructs a provider that loads "<name>.json"
// from dir using parse.
func NewFileDefinitionProvider(dir string, parse ParseFunc) *FileDefinitionProvider {
	loader := func(name string) (definition.FlowDefinition, bool, error) {
		path := filepath.Join(dir, name+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return definition.FlowDefinition{}, false, nil
			}
			return definition.FlowDefinition{}, false, err
		}
		def, err := parse(data)
		if err != nil {
			return definition.FlowDefinition{}, false, err
		}
		return def, true, nil
	}
	return &FileDefinitionProvider{CachingProvider: NewCachingProvider(loader)}
}
