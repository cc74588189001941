package upstream

import (
	"fmt"
	"sync"

	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/util"
)

// Factory builds a SeriesSource for one site from its resolved
// credential context.
type Factory func(cred *credentials.Context, opts Options) (SeriesSource, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register adds a named source factory. Source names are normalized;
// duplicate registration is a programming error.
func Register(name string, factory Factory) {
	normalized := util.NormalizeKey(name)
	if normalized == "" {
		panic("upstream: empty source name")
	}
	if factory == nil {
		panic("upstream: nil factory")
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[normalized]; exists {
		panic(fmt.Sprintf("upstream: source %q already registered", name))
	}

	registry[normalized] = factory
}

// Get builds the named source for a site.
func Get(name string, cred *credentials.Context, opts Options) (SeriesSource, error) {
	mu.RLock()
	factory, ok := registry[util.NormalizeKey(name)]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("upstream: unknown source %q", name)
	}
	return factory(cred, opts)
}

// Reset clears the source registry. Intended for use in tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Factory{}
}

// List returns the registered source names.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RegisterDefaults registers the two production sources.
func RegisterDefaults() {
	Register(SourceInsight, func(cred *credentials.Context, opts Options) (SeriesSource, error) {
		return NewInsightClient(cred, opts)
	})
	Register(SourceKTWatch, func(cred *credentials.Context, opts Options) (SeriesSource, error) {
		return NewKTCloudClient(cred, opts)
	})
}
