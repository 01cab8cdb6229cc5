package paradex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketmux/config"
	"marketmux/internal/channel"
	"marketmux/internal/proxy"
	"marketmux/internal/stream"
	"marketmux/internal/symbols"
	"marketmux/logger"
	"marketmux/models"
)

const venue = "paradex"

// Reader subscribes to Paradex over its JSON-RPC 2.0 envelope: one
// markets_summary subscription for mark prices plus, per market, an
// order_book snapshot channel and a trades channel. Trades serve as the
// price fallback before the first summary lands. The market list is fetched
// over REST at startup with a static fallback.
type Reader struct {
	cfg      config.ParadexConfig
	channels *channel.Channels
	client   *stream.Client
	markets  []string
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.ParadexConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("paradex_reader"),
	}

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	r.client = stream.NewClient(stream.Config{
		Name:      venue,
		URL:       cfg.URL,
		Header:    header,
		Single:    proxy.FromSingleEnv(cfg.Proxy.SingleEnv),
		Handshake: r.subscribe,
		OnMessage: r.onMessage,
	})
	return r
}

func (r *Reader) Start(ctx context.Context) {
	r.ctx = ctx
	r.markets = r.fetchMarkets(ctx)
	go r.client.Run(ctx)
}

func (r *Reader) Client() *stream.Client { return r.client }

// fetchMarkets discovers the PERP market list over REST, falling back to the
// configured static list on any failure.
func (r *Reader) fetchMarkets(ctx context.Context) []string {
	client := &http.Client{Timeout: 10 * time.Second}
	if ep := proxy.FromSingleEnv(r.cfg.Proxy.SingleEnv); ep != nil {
		client.Transport = &http.Transport{Proxy: http.ProxyURL(ep.URL())}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.MarketsURL, nil)
	if err != nil {
		return r.cfg.FallbackMarkets
	}
	resp, err := client.Do(req)
	if err != nil {
		r.log.WithError(err).Warn("market discovery failed, using fallback list")
		return r.cfg.FallbackMarkets
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.log.WithFields(logger.Fields{"status": resp.StatusCode}).Warn("market discovery failed, using fallback list")
		return r.cfg.FallbackMarkets
	}

	var markets models.ParadexMarkets
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		r.log.WithError(err).Warn("market discovery response unreadable, using fallback list")
		return r.cfg.FallbackMarkets
	}

	perps := make([]string, 0, len(markets.Results))
	for _, m := range markets.Results {
		if strings.Contains(m.Symbol, "-PERP") {
			perps = append(perps, m.Symbol)
		}
	}
	if len(perps) == 0 {
		return r.cfg.FallbackMarkets
	}
	r.log.WithFields(logger.Fields{"markets": len(perps)}).Info("discovered PERP markets")
	return perps
}

func (r *Reader) subscribe(c *stream.Client) error {
	if err := c.Send(rpcSubscribe(1, "markets_summary")); err != nil {
		return err
	}
	for i, market := range r.markets {
		if err := c.Send(rpcSubscribe(i+2, "trades."+market)); err != nil {
			return err
		}
		if err := c.Send(rpcSubscribe(i+1000, fmt.Sprintf("order_book.%s.snapshot@15@50ms", market))); err != nil {
			return err
		}
	}
	r.log.WithFields(logger.Fields{"markets": len(r.markets)}).Info("subscribed to summary, trades and orderbook channels")
	return nil
}

func rpcSubscribe(id int, channelName string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "subscribe",
		"params":  map[string]string{"channel": channelName},
		"id":      id,
	}
}

func (r *Reader) onMessage(_ *stream.Client, data []byte) {
	for _, u := range Decode(data) {
		r.channels.SendRaw(r.ctx, u)
	}
}

// Decode turns one JSON-RPC frame into zero or more updates. Subscription
// acks and server pings are ignored.
func Decode(data []byte) []models.TickUpdate {
	var env models.ParadexEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IncrementParseError(venue)
		return nil
	}
	if env.Method == "ping" || env.Params == nil || len(env.Params.Data) == 0 {
		return nil
	}

	switch {
	case env.Params.Channel == "markets_summary":
		return decodeSummary(env.Params.Data)
	case strings.HasPrefix(env.Params.Channel, "order_book."):
		if u, ok := decodeBook(env.Params.Channel, env.Params.Data); ok {
			return []models.TickUpdate{u}
		}
	case strings.HasPrefix(env.Params.Channel, "trades."):
		if u, ok := decodeTrade(env.Params.Channel, env.Params.Data); ok {
			return []models.TickUpdate{u}
		}
	}
	return nil
}

func decodeSummary(data json.RawMessage) []models.TickUpdate {
	var items []models.ParadexSummary
	if err := json.Unmarshal(data, &items); err != nil {
		// A single object arrives on sparse updates.
		var one models.ParadexSummary
		if err := json.Unmarshal(data, &one); err != nil {
			logger.IncrementParseError(venue)
			return nil
		}
		items = []models.ParadexSummary{one}
	}

	updates := make([]models.TickUpdate, 0, len(items))
	for _, item := range items {
		price := toDecimal(item.MarkPrice)
		if item.Symbol == "" || price.Sign() <= 0 {
			continue
		}
		u := models.TickUpdate{
			Exchange: models.ExchangeParadex,
			Symbol:   symbols.Normalize(item.Symbol),
			Kind:     models.KindPrice,
			Price:    price,
		}
		if tokens := toDecimal(item.TotalVolume); tokens.Sign() > 0 {
			u.HasVolume = true
			u.VolumeUSD = tokens.Mul(price)
		}
		updates = append(updates, u)
	}
	return updates
}

// decodeBook handles both snapshot shapes: flat bids/asks arrays or an
// inserts array tagged BUY/SELL that needs a per-side sort.
func decodeBook(channelName string, data json.RawMessage) (models.TickUpdate, bool) {
	parts := strings.Split(channelName, ".")
	if len(parts) < 2 || parts[1] == "" {
		return models.TickUpdate{}, false
	}
	market := parts[1]

	var book models.ParadexBook
	if err := json.Unmarshal(data, &book); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	bids := book.Bids
	asks := book.Asks
	if len(book.Inserts) > 0 {
		bids = bids[:0:0]
		asks = asks[:0:0]
		for _, ins := range book.Inserts {
			lvl := models.ParadexLevel{Price: ins.Price, Size: ins.Size}
			switch ins.Side {
			case "BUY":
				bids = append(bids, lvl)
			case "SELL":
				asks = append(asks, lvl)
			}
		}
		sort.Slice(bids, func(i, j int) bool {
			return toDecimal(bids[i].Price).GreaterThan(toDecimal(bids[j].Price))
		})
		sort.Slice(asks, func(i, j int) bool {
			return toDecimal(asks[i].Price).LessThan(toDecimal(asks[j].Price))
		})
	}

	bid, hasBid := bestLevel(bids)
	ask, hasAsk := bestLevel(asks)
	if !hasBid && !hasAsk {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeParadex,
		Symbol:   symbols.Normalize(market),
		Kind:     models.KindBook,
		TopOnly:  true,
	}
	if hasBid {
		u.Bids = []models.Level{bid}
	}
	if hasAsk {
		u.Asks = []models.Level{ask}
	}
	return u, true
}

func decodeTrade(channelName string, data json.RawMessage) (models.TickUpdate, bool) {
	market := strings.TrimPrefix(channelName, "trades.")
	if market == "" {
		return models.TickUpdate{}, false
	}

	var trade models.ParadexTrade
	if err := json.Unmarshal(data, &trade); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}
	price := toDecimal(trade.Price)
	if price.Sign() <= 0 {
		return models.TickUpdate{}, false
	}

	return models.TickUpdate{
		Exchange: models.ExchangeParadex,
		Symbol:   symbols.Normalize(market),
		Kind:     models.KindPrice,
		Price:    price,
	}, true
}

func bestLevel(levels []models.ParadexLevel) (models.Level, bool) {
	if len(levels) == 0 {
		return models.Level{}, false
	}
	price := toDecimal(levels[0].Price)
	if price.Sign() <= 0 {
		return models.Level{}, false
	}
	size := toDecimal(levels[0].Size)
	if size.Sign() <= 0 {
		size = decimal.NewFromInt(1)
	}
	return models.Level{Price: price, Size: size}, true
}

func toDecimal(n json.Number) decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
