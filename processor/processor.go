package processor

import (
	"context"

	"marketmux/internal/cache"
	"marketmux/internal/channel"
	"marketmux/logger"
	"marketmux/models"
)

// Processor is the single consumer of the raw channel. Every venue update is
// merged into the market cache, validated, arbitrated and, when publishable,
// forwarded to the out channel. Because one goroutine performs the cache
// write before the forward, a subscriber observing a broadcast can read the
// cache and see at least that update.
type Processor struct {
	channels *channel.Channels
	cache    *cache.MarketCache
	log      *logger.Entry
}

func New(channels *channel.Channels, c *cache.MarketCache) *Processor {
	return &Processor{
		channels: channels,
		cache:    c,
		log:      logger.GetLogger().WithComponent("processor"),
	}
}

// Run consumes raw updates until the context ends or the channel closes.
func (p *Processor) Run(ctx context.Context) {
	p.log.Info("processor started")
	for {
		select {
		case <-ctx.Done():
			p.log.Info("processor stopped")
			return
		case u, ok := <-p.channels.Raw:
			if !ok {
				p.log.Info("raw channel closed")
				return
			}
			p.handle(ctx, u)
		}
	}
}

func (p *Processor) handle(ctx context.Context, u models.TickUpdate) {
	switch u.Kind {
	case models.KindPrice:
		p.publish(ctx, p.cache.UpsertPrice(u))

	case models.KindVolume:
		if tick, ok := p.cache.UpsertVolume(u); ok {
			p.publish(ctx, tick)
		}

	case models.KindBook:
		tick, ok, err := p.cache.UpsertBook(u)
		if err != nil {
			p.log.WithFields(logger.Fields{
				"venue":  u.Exchange,
				"symbol": u.Symbol,
			}).WithError(err).Warn("dropping corrupt book update")
			return
		}

		// Book feeds that derive a mid-price carry it on the same update;
		// the price write follows the book write so the merged record holds
		// both.
		if u.Price.Sign() > 0 {
			pu := u
			pu.Kind = models.KindPrice
			tick = p.cache.UpsertPrice(pu)
		} else if !ok {
			return
		}
		p.publish(ctx, tick)
	}
}

func (p *Processor) publish(ctx context.Context, tick models.MarketTick) {
	if !p.cache.Publishable(tick.Symbol) {
		return
	}
	p.channels.SendOut(ctx, tick)
}
