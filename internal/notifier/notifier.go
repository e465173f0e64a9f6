// Package notifier provides notification delivery for alerts.
package notifier

import (
	"context"
	"sync"

	"github.com/good-yellow-bee/alertflow/internal/models"
)

// Provider is the interface for all notification channels.
type Provider interface {
	// Name returns the channel name (e.g. "slack", "webhook").
	Name() string
	// Send delivers an alert. recipient overrides the provider's default
	// destination when non-empty. Remote failures return errors into the
	// retry path; Send never panics.
	Send(ctx context.Context, alert *models.Alert, recipient string) error
	// HealthCheck reports whether the provider is ready to deliver.
	HealthCheck(ctx context.Context) bool
}

// Registry holds the configured providers by channel name.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	recipients map[string]string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers:  make(map[string]Provider),
		recipients: make(map[string]string),
	}
}

// Register adds a provider with its default recipient.
func (r *Registry) Register(p Provider, recipient string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.recipients[p.Name()] = recipient
}

// Get returns a provider by channel name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Recipient returns the default recipient for a channel.
func (r *Registry) Recipient(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipients[name]
}

// Names returns all registered channel names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// HealthCheck probes every registered provider.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	r.mu.RLock()
	providers := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.RUnlock()

	health := make(map[string]bool, len(providers))
	for name, p := range providers {
		health[name] = p.HealthCheck(ctx)
	}
	return health
}
