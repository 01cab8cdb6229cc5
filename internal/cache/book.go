package cache

import (
	"sort"

	"github.com/shopspring/decimal"

	"marketmux/models"
)

// BookLedger accumulates orderbook levels for one (exchange, symbol) key.
// Venues that send explicit snapshots reset it wholesale; venues that send
// deltas mutate individual levels. Best bid/ask are recomputed by a full
// re-sort on every read because delta venues can touch any level.
type BookLedger struct {
	bids map[string]models.Level // keyed by price string
	asks map[string]models.Level
}

func NewBookLedger() *BookLedger {
	return &BookLedger{
		bids: make(map[string]models.Level),
		asks: make(map[string]models.Level),
	}
}

// Apply merges one book update into the ledger. A snapshot clears all
// accumulated levels before applying its own; a delta removes levels with
// size <= 0 and upserts the rest.
func (b *BookLedger) Apply(u models.TickUpdate) {
	if u.Snapshot {
		b.bids = make(map[string]models.Level)
		b.asks = make(map[string]models.Level)
	}
	applyLevels(b.bids, u.Bids)
	applyLevels(b.asks, u.Asks)
}

func applyLevels(side map[string]models.Level, levels []models.Level) {
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Size.Sign() <= 0 {
			delete(side, key)
			continue
		}
		side[key] = lvl
	}
}

// Best returns the highest bid and lowest ask currently in the ledger. Either
// may be absent after an empty snapshot.
func (b *BookLedger) Best() (bid, ask models.Level, hasBid, hasAsk bool) {
	if bids := sortSide(b.bids, true); len(bids) > 0 {
		bid, hasBid = bids[0], true
	}
	if asks := sortSide(b.asks, false); len(asks) > 0 {
		ask, hasAsk = asks[0], true
	}
	return
}

func sortSide(side map[string]models.Level, descending bool) []models.Level {
	levels := make([]models.Level, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

// Quote converts the current best levels into the published string form.
// Spread is ask minus bid when both sides exist.
func (b *BookLedger) Quote() models.Quote {
	bid, ask, hasBid, hasAsk := b.Best()

	var q models.Quote
	if hasBid {
		q.BestBid = bid.Price.String()
		q.BidSize = bid.Size.String()
	}
	if hasAsk {
		q.BestAsk = ask.Price.String()
		q.AskSize = ask.Size.String()
	}
	if hasBid && hasAsk {
		q.Spread = ask.Price.Sub(bid.Price).String()
	}
	return q
}

// NegativeSpread reports whether the quote inverts the book.
func NegativeSpread(q models.Quote) bool {
	if q.BestBid == "" || q.BestAsk == "" {
		return false
	}
	bid, err := decimal.NewFromString(q.BestBid)
	if err != nil {
		return false
	}
	ask, err := decimal.NewFromString(q.BestAsk)
	if err != nil {
		return false
	}
	return ask.LessThan(bid)
}
