package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange display names as published to subscribers.
const (
	ExchangeLighter  = "Lighter"
	ExchangeExtended = "Extended"
	ExchangeParadex  = "Paradex"
	ExchangeGRVT     = "GRVT"
	ExchangeReya     = "Reya"
	ExchangePacifica = "Pacifica"
	ExchangeNado     = "NADO"
)

// Exchanges lists every supported venue in publication order.
var Exchanges = []string{
	ExchangeLighter,
	ExchangeExtended,
	ExchangeParadex,
	ExchangeGRVT,
	ExchangeReya,
	ExchangePacifica,
	ExchangeNado,
}

// TickTypeOrderbook marks a synthetic book-only tick, published when an
// orderbook update arrives for a key that has no trade price yet.
const TickTypeOrderbook = "orderbook"

// MarketTick is the canonical published record for one (exchange, symbol)
// key. All numeric fields are decimal strings; absent optional fields are
// omitted from the wire format.
type MarketTick struct {
	Type        string `json:"type,omitempty"`
	Exchange    string `json:"exchange"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price,omitempty"`
	BestBid     string `json:"bestBid,omitempty"`
	BestAsk     string `json:"bestAsk,omitempty"`
	BidSize     string `json:"bidSize,omitempty"`
	AskSize     string `json:"askSize,omitempty"`
	Spread      string `json:"spread,omitempty"`
	PriceChange string `json:"priceChange,omitempty"`
	Volume      string `json:"volume,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Quote is a best-of-book view for one key.
type Quote struct {
	BestBid string
	BestAsk string
	BidSize string
	AskSize string
	Spread  string
}

// Empty reports whether the quote carries no book data at all.
func (q Quote) Empty() bool {
	return q.BestBid == "" && q.BestAsk == ""
}

// Level is a single price level of an order book.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// UpdateKind discriminates the normalized updates emitted by venue decoders.
type UpdateKind int

const (
	// KindPrice carries a mark/mid/last price and optionally volume.
	KindPrice UpdateKind = iota
	// KindBook carries orderbook levels or a precomputed best-of-book.
	KindBook
	// KindVolume carries only a USD volume for an already known key.
	KindVolume
)

// TickUpdate is the normalized output of every venue decoder, consumed by
// the processor. Exactly one live subscription produces updates for a given
// (Exchange, Symbol) pair at a time.
type TickUpdate struct {
	Exchange string
	Symbol   string // canonical, already normalized
	Kind     UpdateKind

	// Price fields (KindPrice).
	Price     decimal.Decimal
	HasVolume bool
	VolumeUSD decimal.Decimal

	// Book fields (KindBook). When TopOnly is set Bids/Asks hold at most one
	// already-best level and no accumulation is required. Snapshot clears any
	// accumulated levels for the key before applying.
	Bids     []Level
	Asks     []Level
	Snapshot bool
	TopOnly  bool

	Received time.Time
}

// Key returns the cache key for an update, e.g. "lighter_BTC".
func (u TickUpdate) Key() string {
	return CacheKey(u.Exchange, u.Symbol)
}

// CacheKey builds the store key for an (exchange, symbol) pair. The exchange
// part is lowercased so the key is stable across display-name changes.
func CacheKey(exchange, symbol string) string {
	return strings.ToLower(exchange) + "_" + symbol
}
