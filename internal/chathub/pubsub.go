package chathub

import (
	"context"

	"github.com/rs/zerolog/log"
)

func (m *ManagerService) publishPresence(ctx context.Context) {
	if err := m.Storage.PublishPresenceChange(ctx, m.InstanceID); err != nil {
		log.Warn().Err(err).Msg("presence change not published")
	}
}

// Run listens for presence changes announced by other instances and pushes
// the shared online set to local connections. It returns when ctx ends.
func (m *ManagerService) Run(ctx context.Context) {
	changes, closeSub := m.Storage.SubscribePresence(ctx)
	defer func() {
		if err := closeSub(); err != nil {
			log.Warn().Err(err).Msg("closing presence subscription")
		}
	}()
	log.Info().Str("instance_id", m.InstanceID).Msg("presence listener started")

	for {
		select {
		case <-ctx.Done():
			return
		case origin, ok := <-changes:
			if !ok {
				return
			}
			if origin == m.InstanceID {
				continue
			}
			m.Registry.BroadcastOnline(ctx)
		}
	}
}
