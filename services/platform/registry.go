package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrDispatcherNotFound is returned when a dispatcher is not registered
	ErrDispatcherNotFound = errors.New("dispatcher not found")

	// ErrDispatcherAlreadyRegistered is returned when trying to register a duplicate dispatcher
	ErrDispatcherAlreadyRegistered = errors.New("dispatcher already registered")
)

// DispatcherRegistry manages notification dispatcher instances. It satisfies
// NotificationDispatcher itself by fanning a notification out to every
// registered dispatcher, so callers hold one dependency regardless of how
// many delivery channels are configured.
type DispatcherRegistry struct {
	mu          sync.RWMutex
	dispatchers map[string]NotificationDispatcher
}

// NewDispatcherRegistry creates a new dispatcher registry
func NewDispatcherRegistry() *DispatcherRegistry {
	return &DispatcherRegistry{
		dispatchers: make(map[string]NotificationDispatcher),
	}
}

// Register registers a dispatcher instance
func (r *DispatcherRegistry) Register(dispatcher NotificationDispatcher) error {
	if dispatcher == nil {
		return errors.New("dispatcher cannot be nil")
	}

	name := dispatcher.Name()
	if name == "" {
		return errors.New("dispatcher name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dispatchers[name]; exists {
		return ErrDispatcherAlreadyRegistered
	}

	r.dispatchers[name] = dispatcher
	return nil
}

// Unregister removes a dispatcher from the registry
func (r *DispatcherRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.dispatchers[name]; !exists {
		return ErrDispatcherNotFound
	}

	delete(r.dispatchers, name)
	return nil
}

// Get retrieves a dispatcher by name
func (r *DispatcherRegistry) Get(name string) (NotificationDispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dispatcher, exists := r.dispatchers[name]
	if !exists {
		return nil, ErrDispatcherNotFound
	}

	return dispatcher, nil
}

// List returns all registered dispatcher names
func (r *DispatcherRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dispatchers))
	for name := range r.dispatchers {
		names = append(names, name)
	}

	return names
}

// Count returns the number of registered dispatchers
func (r *DispatcherRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.dispatchers)
}

// Name implements NotificationDispatcher
func (r *DispatcherRegistry) Name() string {
	return "broadcast"
}

// Dispatch delivers the notification through every registered dispatcher.
// Each dispatcher gets its attempt even when an earlier one fails; the
// returned error names every channel that failed.
func (r *DispatcherRegistry) Dispatch(ctx context.Context, notification BreachNotification) error {
	r.mu.RLock()
	dispatchers := make([]NotificationDispatcher, 0, len(r.dispatchers))
	for _, d := range r.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	r.mu.RUnlock()

	var failed []string
	var lastErr error
	for _, d := range dispatchers {
		if err := d.Dispatch(ctx, notification); err != nil {
			failed = append(failed, d.Name())
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("dispatch failed via %s: %w", strings.Join(failed, ", "), lastErr)
	}

	return nil
}
