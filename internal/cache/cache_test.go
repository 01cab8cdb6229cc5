package cache

import (
	"testing"

	"github.com/shopspring/decimal"

	"marketmux/models"
)

func priceUpdate(exchange, symbol string, price int64) models.TickUpdate {
	return models.TickUpdate{
		Exchange: exchange,
		Symbol:   symbol,
		Kind:     models.KindPrice,
		Price:    decimal.NewFromInt(price),
	}
}

func topUpdate(exchange, symbol string, bid, ask int64) models.TickUpdate {
	return models.TickUpdate{
		Exchange: exchange,
		Symbol:   symbol,
		Kind:     models.KindBook,
		TopOnly:  true,
		Bids:     []models.Level{lvl(bid, 1)},
		Asks:     []models.Level{lvl(ask, 1)},
	}
}

func TestMergeCommutative(t *testing.T) {
	price := priceUpdate(models.ExchangeLighter, "BTC", 50000)
	book := topUpdate(models.ExchangeLighter, "BTC", 49990, 50010)

	a := NewMarketCache(100)
	a.UpsertPrice(price)
	a.UpsertBook(book)

	b := NewMarketCache(100)
	b.UpsertBook(book)
	b.UpsertPrice(price)

	ta := a.Prices()[0]
	tb := b.Prices()[0]
	ta.Timestamp, tb.Timestamp = 0, 0
	if ta != tb {
		t.Fatalf("merge order changed the record:\n%+v\n%+v", ta, tb)
	}
	if ta.Price != "50000" || ta.BestBid != "49990" || ta.BestAsk != "50010" || ta.Spread != "20" {
		t.Fatalf("unexpected merged record: %+v", ta)
	}
}

func TestBookRejectedOnNegativeSpread(t *testing.T) {
	c := NewMarketCache(100)
	c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50000))
	if _, ok, err := c.UpsertBook(topUpdate(models.ExchangeLighter, "BTC", 49990, 50010)); err != nil || !ok {
		t.Fatalf("valid book rejected: ok=%v err=%v", ok, err)
	}

	_, ok, err := c.UpsertBook(topUpdate(models.ExchangeLighter, "BTC", 50020, 50010))
	if err != ErrNegativeSpread || ok {
		t.Fatalf("inverted book accepted: ok=%v err=%v", ok, err)
	}

	// Prior valid state is retained.
	tick := c.Prices()[0]
	if tick.BestBid != "49990" || tick.BestAsk != "50010" {
		t.Fatalf("prior state lost after rejection: %+v", tick)
	}
}

func TestBookChangeSuppression(t *testing.T) {
	c := NewMarketCache(100)
	c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50000))

	if _, ok, _ := c.UpsertBook(topUpdate(models.ExchangeLighter, "BTC", 49990, 50010)); !ok {
		t.Fatalf("first book update suppressed")
	}
	if _, ok, _ := c.UpsertBook(topUpdate(models.ExchangeLighter, "BTC", 49990, 50010)); ok {
		t.Fatalf("identical best quote not suppressed")
	}
	if _, ok, _ := c.UpsertBook(topUpdate(models.ExchangeLighter, "BTC", 49995, 50010)); !ok {
		t.Fatalf("changed best bid suppressed")
	}
}

func TestSyntheticBookOnlyTick(t *testing.T) {
	c := NewMarketCache(100)
	tick, ok, err := c.UpsertBook(topUpdate(models.ExchangeExtended, "ETH", 3000, 3002))
	if !ok || err != nil {
		t.Fatalf("book-only update failed: ok=%v err=%v", ok, err)
	}
	if tick.Type != models.TickTypeOrderbook {
		t.Fatalf("synthetic tick not tagged: %+v", tick)
	}
	if tick.Price != "" {
		t.Fatalf("synthetic tick must not carry a price: %+v", tick)
	}
}

func TestVolumeRequiresExistingRecord(t *testing.T) {
	c := NewMarketCache(100)
	u := models.TickUpdate{
		Exchange:  models.ExchangeExtended,
		Symbol:    "BTC",
		Kind:      models.KindVolume,
		HasVolume: true,
		VolumeUSD: decimal.NewFromInt(1000000),
	}
	if _, ok := c.UpsertVolume(u); ok {
		t.Fatalf("volume update created a record")
	}

	c.UpsertPrice(priceUpdate(models.ExchangeExtended, "BTC", 50000))
	tick, ok := c.UpsertVolume(u)
	if !ok || tick.Volume != "1000000" {
		t.Fatalf("volume not merged: ok=%v tick=%+v", ok, tick)
	}
	if tick.Price != "50000" {
		t.Fatalf("volume write clobbered price: %+v", tick)
	}
}

func TestPriceChange(t *testing.T) {
	c := NewMarketCache(100)

	tick := c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50000))
	if tick.PriceChange != "" {
		t.Fatalf("change reported without a previous price: %+v", tick)
	}

	tick = c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50500))
	if tick.PriceChange != "+1.00" {
		t.Fatalf("priceChange = %q, want +1.00", tick.PriceChange)
	}

	tick = c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50096))
	if tick.PriceChange != "-0.80" {
		t.Fatalf("priceChange = %q, want -0.80", tick.PriceChange)
	}
}

func TestBoundedStoreEvictsOldest(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 11; i++ {
		key := models.CacheKey(models.ExchangeLighter, symbolN(i))
		evicted := s.Put(key, models.MarketTick{Symbol: symbolN(i)})
		if i < 10 && len(evicted) != 0 {
			t.Fatalf("eviction before cap at write %d", i)
		}
	}
	// Crossing the cap drops the oldest 20% in one batch.
	if s.Len() != 9 {
		t.Fatalf("store size after eviction = %d, want 9", s.Len())
	}
	if _, ok := s.Get(models.CacheKey(models.ExchangeLighter, symbolN(0))); ok {
		t.Fatalf("oldest entry survived eviction")
	}
	if _, ok := s.Get(models.CacheKey(models.ExchangeLighter, symbolN(10))); !ok {
		t.Fatalf("newest entry evicted")
	}
}

func TestCacheNeverExceedsCap(t *testing.T) {
	c := NewMarketCache(20)
	for i := 0; i < 100; i++ {
		c.UpsertPrice(priceUpdate(models.ExchangeLighter, symbolN(i), int64(i+1)))
		if n := len(c.Prices()); n > 21 {
			t.Fatalf("cache grew to %d entries with cap 20", n)
		}
	}
}

func TestSweepHealsArbitrator(t *testing.T) {
	c := NewMarketCache(2)
	c.UpsertPrice(priceUpdate(models.ExchangeLighter, "BTC", 50000))
	c.UpsertPrice(priceUpdate(models.ExchangeExtended, "BTC", 50001))
	if !c.Publishable("BTC") {
		t.Fatalf("BTC should be publishable on two exchanges")
	}

	// Push both BTC records out of the price store, then sweep.
	c.UpsertPrice(priceUpdate(models.ExchangeParadex, "SOL", 100))
	c.UpsertPrice(priceUpdate(models.ExchangeReya, "SOL", 101))
	c.UpsertPrice(priceUpdate(models.ExchangeGRVT, "AVAX", 30))
	c.Sweep()

	if c.Publishable("BTC") {
		t.Fatalf("rebuild kept evicted symbol publishable")
	}
}

func symbolN(i int) string {
	return "SYM" + string(rune('A'+i%26)) + string(rune('A'+(i/26)%26))
}
