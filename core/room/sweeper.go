package room

import (
	"context"
	"time"

	"VoteFM/logger"
)

// Sweep closes connections idle for longer than the stale timeout and, when
// enabled, advances rooms whose current track has finished.
func (m *Manager) Sweep(ctx context.Context) {
	if m.cfg.StaleTimeout > 0 {
		stale := m.registry.Stale(m.now().Add(-m.cfg.StaleTimeout))
		for _, c := range stale {
			logger.Info("closing stale connection",
				logger.String("conn", c.ID),
				logger.Int64("user", c.UserID()),
				logger.Duration("idle", m.now().Sub(c.LastActive())))
			m.Disconnect(c)
		}
	}
	if m.cfg.AutoAdvance {
		if n := m.AutoAdvance(ctx); n > 0 {
			logger.Debug("auto advanced rooms", logger.Int("rooms", n))
		}
	}
}

// RunSweeper runs Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Shutdown closes every live connection.
func (m *Manager) Shutdown() {
	conns := m.registry.All()
	for _, c := range conns {
		m.Disconnect(c)
	}
	logger.Info("room manager stopped", logger.Int("connections", len(conns)))
}
