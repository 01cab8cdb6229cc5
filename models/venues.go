package models

import "encoding/json"

// Venue wire payload shapes. These mirror the schemas observed on each feed;
// upstream schemas are undocumented and drift, so every struct keeps the
// alternative field spellings the feeds have been seen to use. The per-venue
// decoders in reader/* are the only places that interpret them.

// LighterEnvelope frames every Lighter stream message.
type LighterEnvelope struct {
	Type        string          `json:"type"`
	Channel     string          `json:"channel"`
	MarketStats json.RawMessage `json:"market_stats"`
	OrderBook   *LighterBook    `json:"order_book"`
}

// LighterStats is the market_stats payload. Volume fields are probed
// generically, so only the identity and price fields are typed.
type LighterStats struct {
	MarketID       json.Number `json:"market_id"`
	LastTradePrice json.Number `json:"last_trade_price"`
	MarkPrice      json.Number `json:"mark_price"`
}

// LighterBook carries per-level deltas without snapshot markers.
type LighterBook struct {
	Bids []LighterLevel `json:"bids"`
	Asks []LighterLevel `json:"asks"`
}

type LighterLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ExtendedFrame is one newline-delimited frame on the Extended price feed
// (type MP/P) or one message on the depth-1 orderbook feed.
type ExtendedFrame struct {
	Type string           `json:"type"`
	Data *ExtendedPayload `json:"data"`
	// The orderbook feed has been seen to carry the market at the top level.
	Market string `json:"market"`
	Symbol string `json:"symbol"`
}

type ExtendedPayload struct {
	M         string          `json:"m"`
	Market    string          `json:"market"`
	P         json.Number     `json:"p"`
	Price     json.Number     `json:"price"`
	MarkPrice json.Number     `json:"mark_price"`
	B         []ExtendedLevel `json:"b"`
	Bids      []ExtendedLevel `json:"bids"`
	A         []ExtendedLevel `json:"a"`
	Asks      []ExtendedLevel `json:"asks"`
	// Raw retains the full object for volume probing.
	Raw map[string]any `json:"-"`
}

type ExtendedLevel struct {
	P     json.Number `json:"p"`
	Price json.Number `json:"price"`
	Q     json.Number `json:"q"`
	Size  json.Number `json:"size"`
}

// ParadexEnvelope is the JSON-RPC 2.0 subscription frame.
type ParadexEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Params  *ParadexParams  `json:"params"`
}

type ParadexParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ParadexSummary is one markets_summary entry.
type ParadexSummary struct {
	Symbol      string      `json:"symbol"`
	MarkPrice   json.Number `json:"mark_price"`
	TotalVolume json.Number `json:"total_volume"`
}

// ParadexBook is an order_book.* snapshot, either flat bid/ask arrays or an
// inserts array tagged by side.
type ParadexBook struct {
	Bids    []ParadexLevel  `json:"bids"`
	Asks    []ParadexLevel  `json:"asks"`
	Inserts []ParadexInsert `json:"inserts"`
}

type ParadexLevel struct {
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

type ParadexInsert struct {
	Side  string      `json:"side"` // BUY or SELL
	Price json.Number `json:"price"`
	Size  json.Number `json:"size"`
}

// ParadexTrade is one trades.{market} message.
type ParadexTrade struct {
	Price json.Number `json:"price"`
}

// ParadexMarkets is the REST market discovery response.
type ParadexMarkets struct {
	Results []struct {
		Symbol string `json:"symbol"`
	} `json:"results"`
}

// GrvtEnvelope frames GRVT stream messages.
type GrvtEnvelope struct {
	Stream   string          `json:"stream"`
	Selector string          `json:"selector"`
	Feed     json.RawMessage `json:"feed"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	Error    *GrvtError      `json:"error"`
}

type GrvtError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GrvtMini is the v1.mini.s snapshot: price and best-of-book inline.
type GrvtMini struct {
	Instrument   string      `json:"instrument"`
	I            string      `json:"i"`
	MarkPrice    json.Number `json:"mark_price"`
	MP           json.Number `json:"mp"`
	LastPrice    json.Number `json:"last_price"`
	LP           json.Number `json:"lp"`
	BestBidPrice json.Number `json:"best_bid_price"`
	BestAskPrice json.Number `json:"best_ask_price"`
	BestBidSize  json.Number `json:"best_bid_size"`
	BestAskSize  json.Number `json:"best_ask_size"`
}

// GrvtBook is the slower v1.book.s stream, the fallback when mini-ticker
// lacks depth. Levels arrive either as {price,size} objects or pairs.
type GrvtBook struct {
	Instrument string            `json:"instrument"`
	I          string            `json:"i"`
	Bids       []json.RawMessage `json:"bids"`
	B          []json.RawMessage `json:"b"`
	Asks       []json.RawMessage `json:"asks"`
	A          []json.RawMessage `json:"a"`
}

// GrvtInstruments is the REST instrument discovery response.
type GrvtInstruments struct {
	Result []struct {
		Instrument string `json:"instrument"`
	} `json:"result"`
}

// ReyaEnvelope frames Reya stream messages, including application pings.
type ReyaEnvelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ReyaPrice is one /v2/prices entry.
type ReyaPrice struct {
	Symbol      string      `json:"symbol"`
	OraclePrice json.Number `json:"oraclePrice"`
	PoolPrice   json.Number `json:"poolPrice"`
}

// ReyaSummary is one /v2/markets/summary entry.
type ReyaSummary struct {
	Symbol    string      `json:"symbol"`
	Volume24H json.Number `json:"volume24h"`
}

// PacificaEnvelope frames Pacifica stream messages.
type PacificaEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// PacificaPrice is one prices entry.
type PacificaPrice struct {
	Symbol    string      `json:"symbol"`
	S         string      `json:"s"`
	Mark      json.Number `json:"mark"`
	Mid       json.Number `json:"mid"`
	MP        json.Number `json:"mp"`
	LP        json.Number `json:"lp"`
	Volume24H json.Number `json:"volume_24h"`
}

// PacificaBook is one book entry: l[0] bids, l[1] asks.
type PacificaBook struct {
	Symbol string            `json:"symbol"`
	S      string            `json:"s"`
	L      [][]PacificaLevel `json:"l"`
}

type PacificaLevel struct {
	P json.Number `json:"p"`
	A json.Number `json:"a"`
}

// PacificaMarkets is the REST market discovery response (prices endpoint).
type PacificaMarkets struct {
	Success bool `json:"success"`
	Data    []struct {
		Symbol string `json:"symbol"`
	} `json:"data"`
}

// NadoBook is the polled depth-1 orderbook response.
type NadoBook struct {
	Bids [][]json.Number `json:"bids"`
	Asks [][]json.Number `json:"asks"`
}
