// Package app maps application entry identifiers to HTTP handlers. The
// arbiter treats the hosted application as opaque: a worker resolves the
// snapshot's app name against this registry and serves whatever handler the
// factory returns.
package app

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Factory builds the application handler once per worker process.
type Factory func() (http.Handler, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register associates name with a handler factory. Registering the same name
// twice returns an error; apps are wired once at program init.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("app: empty name")
	}
	if f == nil {
		return fmt.Errorf("app: nil factory for %q", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		return fmt.Errorf("app: %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve builds the handler for name.
func Resolve(name string) (http.Handler, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("app: unknown entry %q (registered: %v)", name, Names())
	}
	return f()
}

// Names lists registered entries, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
