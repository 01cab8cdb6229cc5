package lighter

import (
	"encoding/json"
	"testing"

	"marketmux/models"
)

var testMarkets = []string{"ETH", "BTC", "SOL"}

func TestDecodeStats(t *testing.T) {
	raw := json.RawMessage(`{
		"market_id": 1,
		"last_trade_price": "50000",
		"daily_base_token_volume": 120.5
	}`)

	u, ok := decodeStats(raw, testMarkets)
	if !ok {
		t.Fatalf("valid stats not decoded")
	}
	if u.Exchange != models.ExchangeLighter || u.Symbol != "BTC" {
		t.Fatalf("unexpected identity: %+v", u)
	}
	if u.Kind != models.KindPrice || u.Price.String() != "50000" {
		t.Fatalf("unexpected price: %+v", u)
	}
	if !u.HasVolume || u.VolumeUSD.String() != "6025000" {
		t.Fatalf("token volume not converted to USD: %+v", u)
	}
}

func TestDecodeStatsFallsBackToMarkPrice(t *testing.T) {
	raw := json.RawMessage(`{"market_id": "0", "mark_price": "3000.5"}`)
	u, ok := decodeStats(raw, testMarkets)
	if !ok || u.Symbol != "ETH" || u.Price.String() != "3000.5" {
		t.Fatalf("mark price fallback failed: ok=%v %+v", ok, u)
	}
}

func TestDecodeStatsUnknownMarket(t *testing.T) {
	raw := json.RawMessage(`{"market_id": 99, "last_trade_price": "1"}`)
	if _, ok := decodeStats(raw, testMarkets); ok {
		t.Fatalf("out-of-range market index accepted")
	}
}

func TestDecodeStatsZeroPrice(t *testing.T) {
	raw := json.RawMessage(`{"market_id": 1, "last_trade_price": "0"}`)
	if _, ok := decodeStats(raw, testMarkets); ok {
		t.Fatalf("zero price accepted")
	}
}

func TestDecodeBook(t *testing.T) {
	book := &models.LighterBook{
		Bids: []models.LighterLevel{{Price: "49990", Size: "2"}, {Price: "49980", Size: "1"}},
		Asks: []models.LighterLevel{{Price: "50010", Size: "3"}},
	}

	u, ok := decodeBook("order_book:1", book, testMarkets)
	if !ok {
		t.Fatalf("valid book not decoded")
	}
	if u.Symbol != "BTC" || u.Kind != models.KindBook {
		t.Fatalf("unexpected update: %+v", u)
	}
	if u.Snapshot || u.TopOnly {
		t.Fatalf("delta feed must accumulate: %+v", u)
	}
	if len(u.Bids) != 2 || len(u.Asks) != 1 {
		t.Fatalf("levels dropped: %+v", u)
	}
	if u.Bids[0].Price.String() != "49990" || u.Bids[0].Size.String() != "2" {
		t.Fatalf("level misparsed: %+v", u.Bids[0])
	}
}

func TestDecodeBookRemovalLevel(t *testing.T) {
	book := &models.LighterBook{
		Bids: []models.LighterLevel{{Price: "49990", Size: "0"}},
	}
	u, ok := decodeBook("order_book:1", book, testMarkets)
	if !ok {
		t.Fatalf("removal level dropped before reaching the ledger")
	}
	if u.Bids[0].Size.Sign() != 0 {
		t.Fatalf("size not preserved: %+v", u.Bids[0])
	}
}

func TestDecodeBookBadChannel(t *testing.T) {
	book := &models.LighterBook{Bids: []models.LighterLevel{{Price: "1", Size: "1"}}}
	if _, ok := decodeBook("order_book", book, testMarkets); ok {
		t.Fatalf("channel without market index accepted")
	}
}
