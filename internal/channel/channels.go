package channel

import (
	"context"
	"sync"
	"time"

	"marketmux/logger"
	"marketmux/models"
)

type Stats struct {
	RawSent    int64
	OutSent    int64
	RawDropped int64
	OutDropped int64
}

// Channels carries updates between pipeline stages: Raw from venue readers
// to the processor, Out from the processor to the broadcast hub.
type Channels struct {
	Raw chan models.TickUpdate
	Out chan models.MarketTick

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBufferSize, outBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw: make(chan models.TickUpdate, rawBufferSize),
		Out: make(chan models.MarketTick, outBufferSize),
		log: log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size": rawBufferSize,
		"out_buffer_size": outBufferSize,
	}).Info("channels initialized")

	return c
}

// Close logs the final counters at shutdown. The underlying channels stay
// open: reader goroutines may still be inside a send while the process winds
// down, and closing under them would panic. Process exit reclaims them.
func (c *Channels) Close() {
	stats := c.Stats()
	c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":    stats.RawSent,
		"out_sent":    stats.OutSent,
		"raw_dropped": stats.RawDropped,
		"out_dropped": stats.OutDropped,
	}).Info("channels closed")
}

// SendRaw delivers a normalized update without blocking the reader. A full
// buffer drops the update; venue streams resend state quickly enough that
// backpressure is worse than loss here.
func (c *Channels) SendRaw(ctx context.Context, u models.TickUpdate) bool {
	select {
	case c.Raw <- u:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		logger.IncrementRawDrop()
		return false
	}
}

// SendOut delivers a merged tick toward the hub without blocking the
// processor.
func (c *Channels) SendOut(ctx context.Context, t models.MarketTick) bool {
	select {
	case c.Out <- t:
		c.statsMutex.Lock()
		c.stats.OutSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.OutDropped++
		c.statsMutex.Unlock()
		logger.IncrementOutDrop()
		return false
	}
}

func (c *Channels) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel occupancy and counters periodically.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.Stats()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"raw_len":     len(c.Raw),
				"raw_cap":     cap(c.Raw),
				"out_len":     len(c.Out),
				"out_cap":     cap(c.Out),
				"raw_sent":    stats.RawSent,
				"out_sent":    stats.OutSent,
				"raw_dropped": stats.RawDropped,
				"out_dropped": stats.OutDropped,
			}).Info("channel metrics")
		}
	}
}
