package heartbeat

import (
	"context"
	"time"

	"marketmux/internal/stream"
	"marketmux/logger"
)

// Connector is the slice of a venue connection the monitor needs.
type Connector interface {
	Name() string
	State() stream.State
	Ping() error
	Kick()
}

// Monitor is a coarse second safety net over each connector's own retry
// loop. On a fixed interval it pings live connections (best effort) and
// kicks connections observed dead, covering the case where a connector's
// internal reconnect schedule stalls.
type Monitor struct {
	interval   time.Duration
	connectors []Connector
	log        *logger.Entry
}

func NewMonitor(interval time.Duration, connectors ...Connector) *Monitor {
	return &Monitor{
		interval:   interval,
		connectors: connectors,
		log:        logger.GetLogger().WithComponent("heartbeat"),
	}
}

// Run sweeps until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.WithFields(logger.Fields{
		"interval":   m.interval.String(),
		"connectors": len(m.connectors),
	}).Info("liveness monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	for _, c := range m.connectors {
		switch c.State() {
		case stream.Streaming:
			if err := c.Ping(); err != nil {
				m.log.WithFields(logger.Fields{"venue": c.Name()}).WithError(err).Debug("heartbeat ping failed")
			}
		case stream.Disconnected, stream.Closing:
			m.log.WithFields(logger.Fields{"venue": c.Name()}).Warn("connector down, kicking")
			c.Kick()
		}
	}
}
