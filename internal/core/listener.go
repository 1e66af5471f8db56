package core

import "context"

// Clearer is the registry surface the Listener needs.
type Clearer interface {
	Clear() error
}

// Listener clears a registry when the hosting process shuts down.
type Listener struct {
	registry Clearer
}

// NewListener binds a listener to registry.
func NewListener(registry Clearer) *Listener {
	return &Listener{registry: registry}
}

// ContainerDestroyed clears the registry and returns its error unchanged.
func (l *Listener) ContainerDestroyed(_ context.Context) error {
	return l.registry.Clear()
}

// Watch blocks until ctx is done and then runs ContainerDestroyed.
func (l *Listener) Watch(ctx context.Context) error {
	<-ctx.Done()
	return l.ContainerDestroyed(context.WithoutCancel(ctx))
}
