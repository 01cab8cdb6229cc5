package processor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmux/internal/cache"
	"marketmux/internal/channel"
	"marketmux/models"
)

func startProcessor(t *testing.T) (*channel.Channels, *cache.MarketCache, context.CancelFunc) {
	t.Helper()
	channels := channel.NewChannels(64, 64)
	c := cache.NewMarketCache(500)
	ctx, cancel := context.WithCancel(context.Background())
	go New(channels, c).Run(ctx)
	return channels, c, cancel
}

func expectTick(t *testing.T, out <-chan models.MarketTick) models.MarketTick {
	t.Helper()
	select {
	case tick := <-out:
		return tick
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick published")
		return models.MarketTick{}
	}
}

func expectSilence(t *testing.T, out <-chan models.MarketTick) {
	t.Helper()
	select {
	case tick := <-out:
		t.Fatalf("unexpected tick published: %+v", tick)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCrossVenueScenario(t *testing.T) {
	channels, _, cancel := startProcessor(t)
	defer cancel()
	ctx := context.Background()

	// Lighter alone: BTC is single-venue, nothing is published.
	channels.SendRaw(ctx, models.TickUpdate{
		Exchange: models.ExchangeLighter,
		Symbol:   "BTC",
		Kind:     models.KindPrice,
		Price:    decimal.NewFromInt(50000),
	})
	expectSilence(t, channels.Out)

	// Extended's book feed arrives with bid 49990 / ask 50010 and the
	// derived midpoint. Now two venues report BTC.
	channels.SendRaw(ctx, models.TickUpdate{
		Exchange: models.ExchangeExtended,
		Symbol:   "BTC",
		Kind:     models.KindBook,
		TopOnly:  true,
		Price:    decimal.NewFromInt(50000),
		Bids:     []models.Level{{Price: decimal.NewFromInt(49990), Size: decimal.NewFromInt(1)}},
		Asks:     []models.Level{{Price: decimal.NewFromInt(50010), Size: decimal.NewFromInt(1)}},
	})

	tick := expectTick(t, channels.Out)
	if tick.Exchange != models.ExchangeExtended || tick.Symbol != "BTC" {
		t.Fatalf("unexpected tick: %+v", tick)
	}
	if tick.Price != "50000" {
		t.Fatalf("price = %q, want midpoint 50000", tick.Price)
	}
	if tick.Spread != "20" {
		t.Fatalf("spread = %q, want 20", tick.Spread)
	}

	// From here on Lighter's ticks are deliverable too.
	channels.SendRaw(ctx, models.TickUpdate{
		Exchange: models.ExchangeLighter,
		Symbol:   "BTC",
		Kind:     models.KindPrice,
		Price:    decimal.NewFromInt(50001),
	})
	tick = expectTick(t, channels.Out)
	if tick.Exchange != models.ExchangeLighter || tick.Price != "50001" {
		t.Fatalf("unexpected tick: %+v", tick)
	}
}

func TestBookOnlyTickTagged(t *testing.T) {
	channels, _, cancel := startProcessor(t)
	defer cancel()
	ctx := context.Background()

	// Make ETH publishable via two price venues first.
	for _, ex := range []string{models.ExchangeLighter, models.ExchangeParadex} {
		channels.SendRaw(ctx, models.TickUpdate{
			Exchange: ex,
			Symbol:   "ETH",
			Kind:     models.KindPrice,
			Price:    decimal.NewFromInt(3000),
		})
	}
	expectTick(t, channels.Out)

	// A third venue knows only the book: its tick goes out tagged.
	channels.SendRaw(ctx, models.TickUpdate{
		Exchange: models.ExchangeGRVT,
		Symbol:   "ETH",
		Kind:     models.KindBook,
		TopOnly:  true,
		Bids:     []models.Level{{Price: decimal.NewFromInt(2999), Size: decimal.NewFromInt(1)}},
		Asks:     []models.Level{{Price: decimal.NewFromInt(3001), Size: decimal.NewFromInt(1)}},
	})

	var tick models.MarketTick
	for {
		tick = expectTick(t, channels.Out)
		if tick.Exchange == models.ExchangeGRVT {
			break
		}
	}
	if tick.Type != models.TickTypeOrderbook {
		t.Fatalf("book-only tick not tagged: %+v", tick)
	}
	if tick.Price != "" {
		t.Fatalf("book-only tick carries a price: %+v", tick)
	}
}

func TestCorruptBookDropped(t *testing.T) {
	channels, c, cancel := startProcessor(t)
	defer cancel()
	ctx := context.Background()

	for _, ex := range []string{models.ExchangeLighter, models.ExchangePacifica} {
		channels.SendRaw(ctx, models.TickUpdate{
			Exchange: ex,
			Symbol:   "SOL",
			Kind:     models.KindPrice,
			Price:    decimal.NewFromInt(100),
		})
	}
	expectTick(t, channels.Out)

	// Inverted book: rejected, nothing published, prior state kept.
	channels.SendRaw(ctx, models.TickUpdate{
		Exchange: models.ExchangePacifica,
		Symbol:   "SOL",
		Kind:     models.KindBook,
		TopOnly:  true,
		Bids:     []models.Level{{Price: decimal.NewFromInt(102), Size: decimal.NewFromInt(1)}},
		Asks:     []models.Level{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	})
	expectSilence(t, channels.Out)

	for _, tick := range c.Prices() {
		if tick.Exchange == models.ExchangePacifica && tick.BestBid != "" {
			t.Fatalf("corrupt book reached the cache: %+v", tick)
		}
	}
}

func TestVolumeOnlyUpdate(t *testing.T) {
	channels, _, cancel := startProcessor(t)
	defer cancel()
	ctx := context.Background()

	for _, ex := range []string{models.ExchangeReya, models.ExchangeLighter} {
		channels.SendRaw(ctx, models.TickUpdate{
			Exchange: ex,
			Symbol:   "AVAX",
			Kind:     models.KindPrice,
			Price:    decimal.NewFromInt(30),
		})
	}
	expectTick(t, channels.Out)

	channels.SendRaw(ctx, models.TickUpdate{
		Exchange:  models.ExchangeReya,
		Symbol:    "AVAX",
		Kind:      models.KindVolume,
		HasVolume: true,
		VolumeUSD: decimal.NewFromInt(7500000),
	})

	var tick models.MarketTick
	for {
		tick = expectTick(t, channels.Out)
		if tick.Exchange == models.ExchangeReya && tick.Volume != "" {
			break
		}
	}
	if tick.Volume != "7500000" || tick.Price != "30" {
		t.Fatalf("volume not merged onto existing record: %+v", tick)
	}
}
