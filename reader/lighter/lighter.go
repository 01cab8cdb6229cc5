package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"marketmux/config"
	"marketmux/internal/channel"
	"marketmux/internal/proxy"
	"marketmux/internal/stream"
	"marketmux/internal/symbols"
	"marketmux/logger"
	"marketmux/models"
)

const venue = "lighter"

// Reader subscribes to Lighter's market_stats and order_book channels.
// Markets are addressed by their integer index into the configured symbol
// list. The server expects pongs for its pings and goes quiet when stale,
// so the client pings on an interval and hard-reconnects after 30s of
// silence.
type Reader struct {
	cfg      config.LighterConfig
	channels *channel.Channels
	client   *stream.Client
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.LighterConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("lighter_reader"),
	}

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	r.client = stream.NewClient(stream.Config{
		Name:         venue,
		URL:          cfg.URL,
		Header:       header,
		Pool:         proxy.FromEnv(cfg.Proxy.PoolPrefix, cfg.Proxy.PoolFrom, cfg.Proxy.PoolTo),
		Single:       proxy.FromSingleEnv(cfg.Proxy.SingleEnv),
		Handshake:    r.subscribe,
		OnMessage:    r.onMessage,
		PingInterval: cfg.PingInterval,
		IdleTimeout:  cfg.IdleTimeout,
	})
	return r
}

// Start launches the connection loop.
func (r *Reader) Start(ctx context.Context) {
	r.ctx = ctx
	go r.client.Run(ctx)
}

// Client exposes the underlying connection for the liveness monitor.
func (r *Reader) Client() *stream.Client { return r.client }

func (r *Reader) subscribe(c *stream.Client) error {
	for i := range r.cfg.Markets {
		if err := c.Send(map[string]string{
			"type":    "subscribe",
			"channel": fmt.Sprintf("market_stats/%d", i),
		}); err != nil {
			return err
		}
		if err := c.Send(map[string]string{
			"type":    "subscribe",
			"channel": fmt.Sprintf("order_book/%d", i),
		}); err != nil {
			return err
		}
	}
	r.log.WithFields(logger.Fields{"markets": len(r.cfg.Markets)}).Info("subscribed to stats and orderbook channels")
	return nil
}

func (r *Reader) onMessage(c *stream.Client, data []byte) {
	var env models.LighterEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IncrementParseError(venue)
		return
	}

	switch env.Type {
	case "ping":
		if err := c.Send(map[string]string{"type": "pong"}); err != nil {
			r.log.WithError(err).Debug("failed to answer server ping")
		}
	case "update/market_stats":
		if u, ok := decodeStats(env.MarketStats, r.cfg.Markets); ok {
			r.channels.SendRaw(r.ctx, u)
		}
	case "update/order_book":
		if u, ok := decodeBook(env.Channel, env.OrderBook, r.cfg.Markets); ok {
			r.channels.SendRaw(r.ctx, u)
		}
	}
}

// decodeStats turns one market_stats payload into a price update. The
// payload is probed generically for a volume field because its spelling has
// drifted before.
func decodeStats(raw json.RawMessage, markets []string) (models.TickUpdate, bool) {
	var stats models.LighterStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	symbol := marketSymbol(stats.MarketID.String(), markets)
	if symbol == "" {
		return models.TickUpdate{}, false
	}

	price := firstPositive(stats.LastTradePrice, stats.MarkPrice)
	if price.Sign() <= 0 {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeLighter,
		Symbol:   symbols.Normalize(symbol),
		Kind:     models.KindPrice,
		Price:    price,
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err == nil {
		if tokens, ok := models.ProbeVolume(generic, true); ok {
			u.HasVolume = true
			u.VolumeUSD = tokens.Mul(price)
		}
	}
	return u, true
}

// decodeBook turns one order_book delta into a book update. The market index
// rides in the channel name, e.g. "order_book:3". Levels accumulate in the
// cache ledger; size zero removes a level.
func decodeBook(channelName string, book *models.LighterBook, markets []string) (models.TickUpdate, bool) {
	if book == nil {
		return models.TickUpdate{}, false
	}

	parts := strings.Split(channelName, ":")
	if len(parts) < 2 {
		parts = strings.Split(channelName, "/")
	}
	if len(parts) < 2 {
		return models.TickUpdate{}, false
	}
	symbol := marketSymbol(parts[1], markets)
	if symbol == "" {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeLighter,
		Symbol:   symbols.Normalize(symbol),
		Kind:     models.KindBook,
		Bids:     toLevels(book.Bids),
		Asks:     toLevels(book.Asks),
	}
	if len(u.Bids) == 0 && len(u.Asks) == 0 {
		return models.TickUpdate{}, false
	}
	return u, true
}

func marketSymbol(id string, markets []string) string {
	idx, err := strconv.Atoi(id)
	if err != nil || idx < 0 || idx >= len(markets) {
		return ""
	}
	return markets[idx]
}

func toLevels(in []models.LighterLevel) []models.Level {
	out := make([]models.Level, 0, len(in))
	for _, l := range in {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, models.Level{Price: price, Size: size})
	}
	return out
}

func firstPositive(nums ...json.Number) decimal.Decimal {
	for _, n := range nums {
		if n == "" {
			continue
		}
		if d, err := decimal.NewFromString(n.String()); err == nil && d.Sign() > 0 {
			return d
		}
	}
	return decimal.Zero
}
