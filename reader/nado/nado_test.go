package nado

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"marketmux/config"
	"marketmux/internal/channel"
	"marketmux/internal/proxy"
	"marketmux/models"
)

func TestDecodeBook(t *testing.T) {
	body := []byte(`{"ticker_id":"BTC_USDC","bids":[["49990","2"]],"asks":[["50010","3"]]}`)

	u, ok := decodeBook(body, "BTC")
	if !ok {
		t.Fatalf("valid book not decoded")
	}
	if u.Exchange != models.ExchangeNado || u.Symbol != "BTC" {
		t.Fatalf("unexpected update: %+v", u)
	}
	if u.Kind != models.KindBook || !u.TopOnly {
		t.Fatalf("poll result must be a top-only book update: %+v", u)
	}
	if u.Price.String() != "49990" {
		t.Fatalf("price must come from the best bid: %s", u.Price)
	}
	if u.Asks[0].Price.String() != "50010" || u.Asks[0].Size.String() != "3" {
		t.Fatalf("ask misparsed: %+v", u.Asks)
	}
}

func TestDecodeBookAskOnlyPrice(t *testing.T) {
	body := []byte(`{"bids":[],"asks":[["50010","3"]]}`)

	u, ok := decodeBook(body, "BTC")
	if !ok {
		t.Fatalf("ask-only book not decoded")
	}
	if u.Price.String() != "50010" {
		t.Fatalf("price must fall back to the best ask: %s", u.Price)
	}
	if len(u.Bids) != 0 {
		t.Fatalf("empty bid side must stay empty: %+v", u.Bids)
	}
}

func TestDecodeBookRejectsHTML(t *testing.T) {
	for _, body := range []string{
		"<!DOCTYPE html><html>502</html>",
		"  <html><body>blocked</body></html>",
		"",
		"{not json",
	} {
		if _, ok := decodeBook([]byte(body), "BTC"); ok {
			t.Fatalf("body %q accepted", body)
		}
	}
}

func TestDecodeBookEmptySides(t *testing.T) {
	if _, ok := decodeBook([]byte(`{"bids":[],"asks":[]}`), "BTC"); ok {
		t.Fatalf("empty book accepted")
	}
}

func TestPollCadenceIndependentOfLatency(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		// slow upstream: several poll intervals per response
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"bids":[["49990","2"]],"asks":[["50010","3"]]}`))
	}))
	defer srv.Close()

	ep, err := proxy.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse proxy: %v", err)
	}

	r := NewReader(config.NadoConfig{
		OrderbookURL: "http://orderbook.invalid/v2/orderbook",
		PollInterval: 20 * time.Millisecond,
	}, channel.NewChannels(64, 64))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	r.poll(ctx, config.NadoMarket{TickerID: "BTC-PERP_USDT0", Symbol: "BTC"}, ep, 0)

	// A loop that blocks on each response would get at most 3 requests out
	// in this window; interval-driven dispatch fires one per tick.
	if got := atomic.LoadInt32(&requests); got < 6 {
		t.Fatalf("only %d requests dispatched in 250ms at a 20ms interval", got)
	}
}
