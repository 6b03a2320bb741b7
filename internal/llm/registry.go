package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/worker_pool"
)

// Registry holds providers keyed by id
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	defaultID  string
	logger     *logging.Logger
	maxWorkers int
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		providers:  make(map[string]Provider),
		logger:     logger,
		maxWorkers: 4,
	}
}

// Register adds p. Registering an id twice is a configuration error.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; exists {
		return errors.NewConfigurationError(fmt.Sprintf("provider %s registered twice", p.ID()))
	}
	r.providers[p.ID()] = p
	if r.defaultID == "" {
		r.defaultID = p.ID()
	}
	r.logger.Debug("Provider registered", logging.String("provider", p.ID()))
	return nil
}

// SetDefault selects the provider used when a caller names none
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return errors.NewProviderNotFoundError(id)
	}
	r.defaultID = id
	return nil
}

// DefaultID returns the default provider id
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Get returns the provider registered under id. An empty id selects the default.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.defaultID
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, errors.NewProviderNotFoundError(id)
	}
	return p, nil
}

// List returns provider metadata sorted by id
func (r *Registry) List() []llmtypes.ProviderMetadata {
	r.mu.RLock()
	out := make([]llmtypes.ProviderMetadata, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p.Metadata())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Chat looks up id and runs a non-streamed completion
func (r *Registry) Chat(ctx context.Context, id string, req llmtypes.ChatRequest) (llmtypes.ChatResponse, error) {
	p, err := r.Get(id)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}
	return p.Chat(ctx, req)
}

// ChatStream looks up id and starts a streamed completion
func (r *Registry) ChatStream(ctx context.Context, id string, req llmtypes.ChatRequest) (*ChatStream, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return p.ChatStream(ctx, req)
}

// ValidationResult is the outcome of validating one provider
type ValidationResult struct {
	ID       string
	Err      error
	Duration time.Duration
}

// ValidateAll validates every provider concurrently, each bounded by perProvider
func (r *Registry) ValidateAll(ctx context.Context, perProvider time.Duration) []ValidationResult {
	r.mu.RLock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	providers := make([]Provider, 0, len(ids))
	sort.Strings(ids)
	for _, id := range ids {
		providers = append(providers, r.providers[id])
	}
	r.mu.RUnlock()

	tasks := make([]worker_pool.Task[struct{}], len(providers))
	for i, p := range providers {
		p := p
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.Validate(ctx)
		}
	}

	pool := worker_pool.NewWorkerPool(r.maxWorkers).WithTaskTimeout(perProvider)
	results := worker_pool.Run(ctx, pool, tasks)

	out := make([]ValidationResult, len(results))
	for i, res := range results {
		out[i] = ValidationResult{ID: ids[i], Err: res.Error, Duration: res.Duration}
		if res.Error != nil {
			r.logger.Warn("Provider validation failed",
				logging.String("provider", ids[i]),
				logging.Error(res.Error))
		}
	}
	return out
}
