package datasource

import (
	"context"
	"fmt"
	"log"
	"sync"

	"ai-trade-finder/database"
)

// Registry maps each category to exactly one adapter.
// It is built once at startup and read-only afterwards.
type Registry struct {
	sources map[Category]Source
	order   []Category
}

// SourceInfo describes a registered adapter
type SourceInfo struct {
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// NewRegistry registers the given adapters in order.
// A second adapter for an already registered category is a configuration defect:
// it is logged and ignored, the first registration wins.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[Category]Source, len(sources))}
	for _, s := range sources {
		if s == nil {
			continue
		}
		cat := s.Category()
		if _, exists := r.sources[cat]; exists {
			log.Printf("⚠️  Duplicate data source for %s ignored (keeping first registration)", cat)
			continue
		}
		r.sources[cat] = s
		r.order = append(r.order, cat)
	}
	log.Printf("✅ Data source registry initialized with %d sources", len(r.order))
	return r
}

// Get returns the adapter for a category
func (r *Registry) Get(category Category) (Source, error) {
	s, ok := r.sources[category]
	if !ok {
		return nil, database.NewNotFoundErrorWithID("data source", category)
	}
	return s, nil
}

// GetByCode resolves a category code and returns its adapter
func (r *Registry) GetByCode(code string) (Source, error) {
	category, err := ParseCategory(code)
	if err != nil {
		return nil, database.NewNotFoundErrorWithID("data source", code)
	}
	return r.Get(category)
}

// Has reports whether a category is registered
func (r *Registry) Has(category Category) bool {
	_, ok := r.sources[category]
	return ok
}

// Categories returns the registered categories in registration order
func (r *Registry) Categories() []Category {
	return append([]Category(nil), r.order...)
}

// Describe lists the registered adapters
func (r *Registry) Describe() []SourceInfo {
	infos := make([]SourceInfo, 0, len(r.order))
	for _, cat := range r.order {
		infos = append(infos, SourceInfo{Category: cat, Description: r.sources[cat].Describe()})
	}
	return infos
}

// SupportingSymbol lists categories whose adapter supports the symbol
func (r *Registry) SupportingSymbol(symbol string) []Category {
	var out []Category
	for _, cat := range r.order {
		if r.sources[cat].SupportsSymbol(symbol) {
			out = append(out, cat)
		}
	}
	return out
}

// SupportingTimeframe lists categories whose adapter supports the timeframe
func (r *Registry) SupportingTimeframe(timeframe string) []Category {
	var out []Category
	for _, cat := range r.order {
		if r.sources[cat].SupportsTimeframe(timeframe) {
			out = append(out, cat)
		}
	}
	return out
}

// Health probes every adapter concurrently.
// A probe that panics degrades only its own entry to false.
func (r *Registry) Health(ctx context.Context) map[Category]bool {
	health := make(map[Category]bool, len(r.order))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, cat := range r.order {
		wg.Add(1)
		go func(cat Category, s Source) {
			defer wg.Done()
			healthy := probe(ctx, s)
			mu.Lock()
			health[cat] = healthy
			mu.Unlock()
		}(cat, r.sources[cat])
	}

	wg.Wait()
	return health
}

func probe(ctx context.Context, s Source) bool {
	return guardHealth(s.Category(), func() bool { return s.HealthCheck(ctx) })
}

// Fetch looks up the adapter, checks its capabilities and retrieves data.
// It always returns a result; lookup failures, unsupported symbols and adapter panics
// come back as unsuccessful results.
func (r *Registry) Fetch(ctx context.Context, category Category, symbol, timeframe string, cfg FetchConfig) (res *Result) {
	s, err := r.Get(category)
	if err != nil {
		return newResult(category, symbol, timeframe, cfg).fail(err)
	}
	if !s.SupportsSymbol(symbol) {
		return newResult(category, symbol, timeframe, cfg).fail(fmt.Errorf("%s does not support symbol %s", category, symbol))
	}
	if timeframe != "" && !s.SupportsTimeframe(timeframe) {
		return newResult(category, symbol, timeframe, cfg).fail(fmt.Errorf("%s does not support timeframe %s", category, timeframe))
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ %s fetch for %s panicked: %v", category, symbol, rec)
			res = newResult(category, symbol, timeframe, cfg).fail(fmt.Errorf("fetch panicked: %v", rec))
		}
	}()
	return s.Fetch(ctx, symbol, timeframe, cfg)
}
