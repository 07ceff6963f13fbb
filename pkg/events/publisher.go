package events

import "context"

// EventPublisher is the interface for publishing peer change events.
type EventPublisher interface {
	PublishPeerChanged(ctx context.Context, event *PeerChangedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing.
type NoOpPublisher struct{}

// PublishPeerChanged is a no-op.
func (p *NoOpPublisher) PublishPeerChanged(_ context.Context, _ *PeerChangedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *PeerChangedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *PeerChangedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishPeerChanged calls the callback.
func (p *CallbackPublisher) PublishPeerChanged(ctx context.Context, event *PeerChangedEvent) error {
	return p.callback(ctx, event)
}
