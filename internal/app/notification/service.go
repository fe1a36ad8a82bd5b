package notification

import (
	"context"

	domain "github.com/scanwarden/scanwarden/internal/domain/notification"
)

// Service binds a Dispatcher to the channel set configured at startup. It is
// the orchestrator-facing notification entry point.
type Service struct {
	dispatcher *Dispatcher
	channels   []domain.ChannelAdapter
}

// NewService creates a notification service over a fixed channel set.
func NewService(dispatcher *Dispatcher, channels []domain.ChannelAdapter) *Service {
	return &Service{dispatcher: dispatcher, channels: channels}
}

// Notify dispatches the envelope to every configured channel.
func (s *Service) Notify(ctx context.Context, envelope domain.Envelope) domain.DispatchReport {
	return s.dispatcher.Dispatch(ctx, envelope, s.channels)
}

// TestConnections runs the startup connectivity diagnostics over the
// configured channel set.
func (s *Service) TestConnections(ctx context.Context) map[string]bool {
	return s.dispatcher.TestConnections(ctx, s.channels)
}
