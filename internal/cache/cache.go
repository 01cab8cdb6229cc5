package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmux/logger"
	"marketmux/models"
)

// ErrNegativeSpread marks a book update that would invert bid over ask. The
// update is treated as corrupt and the prior state is kept.
var ErrNegativeSpread = errors.New("orderbook update would produce negative spread")

// MarketCache holds the current best-known facts per (exchange, symbol) key:
// a price store, an orderbook store, the accumulated book levels behind each
// orderbook record, and the previous price per key for change-percent
// computation. Writes come from the single processor goroutine; snapshot
// reads may happen concurrently from the HTTP layer.
type MarketCache struct {
	mu      sync.RWMutex
	prices  *Store
	books   *Store
	ledgers map[string]*BookLedger
	prev    map[string]decimal.Decimal
	arb     *Arbitrator
	log     *logger.Log
}

func NewMarketCache(capacity int) *MarketCache {
	return &MarketCache{
		prices:  NewStore(capacity),
		books:   NewStore(capacity),
		ledgers: make(map[string]*BookLedger),
		prev:    make(map[string]decimal.Decimal),
		arb:     NewArbitrator(),
		log:     logger.GetLogger(),
	}
}

// UpsertPrice shallow-merges a price update into the combined record for its
// key, creating the record if absent. Orderbook fields already present are
// preserved; when the very first price write follows an earlier book-only
// write, the book fields are pulled forward from the orderbook store. The
// change percent is computed against the previous stored price.
func (c *MarketCache) UpsertPrice(u models.TickUpdate) models.MarketTick {
	key := u.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	tick, ok := c.prices.Get(key)
	if !ok {
		tick = models.MarketTick{Exchange: u.Exchange, Symbol: u.Symbol}
		if book, found := c.books.Get(key); found {
			mergeQuote(&tick, book)
		}
	}

	tick.Price = u.Price.String()
	if change, has := c.priceChangeLocked(key, u.Price); has {
		tick.PriceChange = change
	}
	if u.HasVolume {
		tick.Volume = u.VolumeUSD.String()
	}
	tick.Timestamp = stamp(u.Received)

	c.dropEvicted(c.prices.Put(key, tick))
	c.arb.Observe(u.Symbol, u.Exchange)
	return tick
}

// UpsertVolume sets the USD volume on an existing record. Volume-only feeds
// never create a record; the update waits until a price or book write has
// established the key.
func (c *MarketCache) UpsertVolume(u models.TickUpdate) (models.MarketTick, bool) {
	key := u.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	tick, ok := c.prices.Get(key)
	if !ok {
		return models.MarketTick{}, false
	}
	tick.Volume = u.VolumeUSD.String()
	tick.Timestamp = stamp(u.Received)

	c.dropEvicted(c.prices.Put(key, tick))
	c.arb.Observe(u.Symbol, u.Exchange)
	return tick, true
}

// UpsertBook applies a book update to the key's level ledger and merges the
// resulting best-of-book forward into the combined price record. Returns the
// record to publish; ok is false when the update was suppressed because the
// best quote did not change. A quote that inverts the book is rejected with
// ErrNegativeSpread and the prior state retained.
func (c *MarketCache) UpsertBook(u models.TickUpdate) (models.MarketTick, bool, error) {
	key := u.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	ledger, ok := c.ledgers[key]
	if !ok {
		ledger = NewBookLedger()
	}
	// Top-of-book feeds always deliver a complete best quote, so they
	// replace rather than accumulate.
	if u.TopOnly {
		u.Snapshot = true
	}

	next := cloneLedger(ledger)
	next.Apply(u)
	q := next.Quote()
	if NegativeSpread(q) {
		return models.MarketTick{}, false, ErrNegativeSpread
	}
	c.ledgers[key] = next

	if prior, found := c.books.Get(key); found &&
		prior.BestBid == q.BestBid && prior.BestAsk == q.BestAsk {
		return models.MarketTick{}, false, nil
	}

	book := models.MarketTick{Exchange: u.Exchange, Symbol: u.Symbol, Timestamp: stamp(u.Received)}
	mergeQuote(&book, models.MarketTick{
		BestBid: q.BestBid,
		BestAsk: q.BestAsk,
		BidSize: q.BidSize,
		AskSize: q.AskSize,
		Spread:  q.Spread,
	})
	for _, evicted := range c.books.Put(key, book) {
		delete(c.ledgers, evicted)
	}
	c.arb.Observe(u.Symbol, u.Exchange)

	if tick, found := c.prices.Get(key); found {
		mergeQuote(&tick, book)
		tick.Timestamp = book.Timestamp
		c.dropEvicted(c.prices.Put(key, tick))
		return tick, true, nil
	}

	// No trade price known for this key yet: publish a synthetic book-only
	// tick, tagged so subscribers do not mistake it for a trade price.
	book.Type = models.TickTypeOrderbook
	return book, true, nil
}

// Publishable reports whether a symbol is currently reported by at least two
// exchanges.
func (c *MarketCache) Publishable(symbol string) bool {
	return c.arb.Publishable(symbol)
}

// Prices returns the combined price records in insertion order.
func (c *MarketCache) Prices() []models.MarketTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices.Values()
}

// PublishablePrices returns the price records whose symbol passes
// arbitration, for snapshot queries and subscriber replay.
func (c *MarketCache) PublishablePrices() []models.MarketTick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.MarketTick, 0, c.prices.Len())
	for _, t := range c.prices.Values() {
		if c.arb.Publishable(t.Symbol) {
			out = append(out, t)
		}
	}
	return out
}

// Merged returns the combined price records plus book-only records for keys
// that have no price yet.
func (c *MarketCache) Merged() []models.MarketTick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.prices.Values()
	for _, key := range c.books.Keys() {
		if _, ok := c.prices.Get(key); ok {
			continue
		}
		book, _ := c.books.Get(key)
		book.Type = models.TickTypeOrderbook
		out = append(out, book)
	}
	return out
}

// Sweep trims both stores to their caps, discards per-key state for keys no
// longer held anywhere, and rebuilds the arbitrator's membership sets from
// the surviving records.
func (c *MarketCache) Sweep() {
	c.mu.Lock()

	evictedPrices := c.prices.Trim()
	for _, key := range evictedPrices {
		delete(c.prev, key)
	}
	evictedBooks := c.books.Trim()
	for _, key := range evictedBooks {
		delete(c.ledgers, key)
	}
	for key := range c.ledgers {
		if _, ok := c.books.Get(key); !ok {
			delete(c.ledgers, key)
		}
	}
	for key := range c.prev {
		if _, ok := c.prices.Get(key); !ok {
			delete(c.prev, key)
		}
	}

	prices := c.prices.Values()
	books := c.books.Values()
	c.mu.Unlock()

	c.arb.Rebuild(prices, books)

	if len(evictedPrices) > 0 || len(evictedBooks) > 0 {
		c.log.WithComponent("cache").WithFields(logger.Fields{
			"evicted_prices": len(evictedPrices),
			"evicted_books":  len(evictedBooks),
		}).Info("cache sweep evicted entries")
	}
}

// StartSweeper runs Sweep on a fixed interval until the context ends.
func (c *MarketCache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// priceChangeLocked computes the signed change percent against the previous
// stored price and records the new one. No change is reported until a
// positive previous price exists.
func (c *MarketCache) priceChangeLocked(key string, price decimal.Decimal) (string, bool) {
	prev, ok := c.prev[key]
	if price.Sign() > 0 {
		c.prev[key] = price
	}
	if !ok || prev.Sign() <= 0 {
		return "", false
	}

	pct := price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
	s := pct.StringFixed(2)
	if pct.Sign() >= 0 {
		s = "+" + s
	}
	return s, true
}

func (c *MarketCache) dropEvicted(keys []string) {
	for _, key := range keys {
		delete(c.prev, key)
	}
}

func mergeQuote(dst *models.MarketTick, src models.MarketTick) {
	dst.BestBid = src.BestBid
	dst.BestAsk = src.BestAsk
	dst.BidSize = src.BidSize
	dst.AskSize = src.AskSize
	dst.Spread = src.Spread
}

func cloneLedger(src *BookLedger) *BookLedger {
	dst := NewBookLedger()
	for k, v := range src.bids {
		dst.bids[k] = v
	}
	for k, v := range src.asks {
		dst.asks[k] = v
	}
	return dst
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.UnixMilli()
}
