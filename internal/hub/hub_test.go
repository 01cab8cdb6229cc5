package hub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketmux/internal/cache"
	"marketmux/models"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		h.Register(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) models.MarketTick {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var tick models.MarketTick
	if err := json.Unmarshal(data, &tick); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return tick
}

func TestReplayOnJoin(t *testing.T) {
	c := cache.NewMarketCache(100)
	for _, ex := range []string{models.ExchangeLighter, models.ExchangeExtended} {
		c.UpsertPrice(models.TickUpdate{
			Exchange: ex,
			Symbol:   "BTC",
			Kind:     models.KindPrice,
			Price:    decimal.NewFromInt(50000),
		})
	}
	// Single-venue listing must not be replayed.
	c.UpsertPrice(models.TickUpdate{
		Exchange: models.ExchangeParadex,
		Symbol:   "OBSCURE",
		Kind:     models.KindPrice,
		Price:    decimal.NewFromInt(1),
	})

	h := New(c)
	conn := dialTestHub(t, h)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		tick := readTick(t, conn)
		if tick.Symbol != "BTC" {
			t.Fatalf("replayed unexpected symbol %q", tick.Symbol)
		}
		seen[tick.Exchange] = true
	}
	if !seen[models.ExchangeLighter] || !seen[models.ExchangeExtended] {
		t.Fatalf("replay incomplete: %v", seen)
	}
}

func TestReplayLargerThanSendBuffer(t *testing.T) {
	c := cache.NewMarketCache(1000)
	for i := 0; i < 170; i++ {
		symbol := fmt.Sprintf("SYM%03d", i)
		for _, ex := range []string{models.ExchangeLighter, models.ExchangeExtended} {
			c.UpsertPrice(models.TickUpdate{
				Exchange: ex,
				Symbol:   symbol,
				Kind:     models.KindPrice,
				Price:    decimal.NewFromInt(int64(i + 1)),
			})
		}
	}
	want := len(c.PublishablePrices())
	if want <= sendBuffer {
		t.Fatalf("fixture too small: %d publishable records, need > %d", want, sendBuffer)
	}

	h := New(c)
	conn := dialTestHub(t, h)

	for i := 0; i < want; i++ {
		readTick(t, conn)
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	c := cache.NewMarketCache(100)
	h := New(c)
	conn := dialTestHub(t, h)

	waitForCount(t, h, 1)
	h.Publish(models.MarketTick{Exchange: models.ExchangeLighter, Symbol: "ETH", Price: "3000"})

	tick := readTick(t, conn)
	if tick.Symbol != "ETH" || tick.Price != "3000" {
		t.Fatalf("unexpected tick: %+v", tick)
	}
}

func TestSubscriberRemovedOnClose(t *testing.T) {
	c := cache.NewMarketCache(100)
	h := New(c)
	conn := dialTestHub(t, h)

	waitForCount(t, h, 1)
	conn.Close()
	waitForCount(t, h, 0)

	// Publishing after the subscriber left must not panic or block.
	h.Publish(models.MarketTick{Exchange: models.ExchangeLighter, Symbol: "BTC", Price: "1"})
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	c := cache.NewMarketCache(100)
	h := New(c)
	conn := dialTestHub(t, h)

	waitForCount(t, h, 1)
	h.Close()
	waitForCount(t, h, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected closed connection after hub shutdown")
	}
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber count = %d, want %d", h.Count(), want)
}
