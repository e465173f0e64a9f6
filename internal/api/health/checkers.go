package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by stores that expose a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker checks alert store connectivity.
type StorageChecker struct {
	pinger Pinger
}

// NewStorageChecker creates a storage health checker.
func NewStorageChecker(p Pinger) *StorageChecker {
	return &StorageChecker{pinger: p}
}

// Name returns the checker name.
func (c *StorageChecker) Name() string {
	return "storage"
}

// Check verifies the database is accessible.
func (c *StorageChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("storage not initialized")
	}
	return c.pinger.Ping(ctx)
}

// ProvidersChecker reports the readiness of notification providers.
// A single unhealthy provider degrades readiness; alerts still flow to
// the remaining channels.
type ProvidersChecker struct {
	probe func(ctx context.Context) map[string]bool
}

// NewProvidersChecker creates a notification provider checker.
func NewProvidersChecker(probe func(ctx context.Context) map[string]bool) *ProvidersChecker {
	return &ProvidersChecker{probe: probe}
}

// Name returns the checker name.
func (c *ProvidersChecker) Name() string {
	return "providers"
}

// Check verifies every registered provider reports healthy.
func (c *ProvidersChecker) Check(ctx context.Context) error {
	if c.probe == nil {
		return fmt.Errorf("no providers configured")
	}
	var unhealthy []string
	for name, ok := range c.probe(ctx) {
		if !ok {
			unhealthy = append(unhealthy, name)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy providers: %v", unhealthy)
	}
	return nil
}
