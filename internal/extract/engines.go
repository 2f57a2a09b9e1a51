package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/document/parser"
	"golang.org/x/sync/singleflight"
)

// Loader builds a parsing engine. It runs at most once per successful load.
type Loader func(ctx context.Context) (parser.Parser, error)

// Engines caches lazily loaded parsing engines. Concurrent requests for an
// engine that is still loading share the in-flight load; failed loads are
// not cached so the next request tries again.
type Engines struct {
	mu      sync.Mutex
	loaders map[EngineKind]Loader
	loaded  map[EngineKind]parser.Parser
	loads   map[EngineKind]int
	group   singleflight.Group
}

type EnginesOption func(*Engines)

// WithLoader replaces the loader for one engine.
func WithLoader(kind EngineKind, loader Loader) EnginesOption {
	return func(e *Engines) {
		e.loaders[kind] = loader
	}
}

func NewEngines(opts ...EnginesOption) *Engines {
	e := &Engines{
		loaders: map[EngineKind]Loader{
			EngineXLSX: loadXLSXEngine,
			EnginePDF:  loadPDFEngine,
		},
		loaded: make(map[EngineKind]parser.Parser),
		loads:  make(map[EngineKind]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get returns the engine, loading it on first use.
func (e *Engines) Get(ctx context.Context, kind EngineKind) (parser.Parser, error) {
	e.mu.Lock()
	if p, ok := e.loaded[kind]; ok {
		e.mu.Unlock()
		return p, nil
	}
	loader, ok := e.loaders[kind]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no loader for engine %q", kind)
	}

	v, err, _ := e.group.Do(string(kind), func() (any, error) {
		e.mu.Lock()
		if p, ok := e.loaded[kind]; ok {
			e.mu.Unlock()
			return p, nil
		}
		e.loads[kind]++
		e.mu.Unlock()

		// one caller going away must not fail the load for the others
		p, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("load %s engine: %w", kind, err)
		}
		e.mu.Lock()
		e.loaded[kind] = p
		e.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(parser.Parser), nil
}

// Loads reports how many times the loader for kind has been invoked.
func (e *Engines) Loads(kind EngineKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads[kind]
}

// Reset drops every loaded engine and the load counters.
func (e *Engines) Reset() {
	e.mu.Lock()
	e.loaded = make(map[EngineKind]parser.Parser)
	e.loads = make(map[EngineKind]int)
	e.mu.Unlock()
}
