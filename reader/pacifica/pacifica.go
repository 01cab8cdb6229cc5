package pacifica

import (
	"context"
	"encoding/json"
	"net/http"
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

const venue = "pacifica"

// Reader streams Pacifica prices and top-of-book. The venue's proxy path has
// a history of 502s, so the client is allowed to fall back to a direct
// connection. Keepalive is an application-level {"method":"ping"} frame.
type Reader struct {
	cfg      config.PacificaConfig
	channels *channel.Channels
	client   *stream.Client
	markets  []string
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.PacificaConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("pacifica_reader"),
	}

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	r.client = stream.NewClient(stream.Config{
		Name:         venue,
		URL:          cfg.URL,
		Header:       header,
		Single:       proxy.FromSingleEnv(cfg.Proxy.SingleEnv),
		AllowNoProxy: cfg.AllowNoProxy,
		Handshake:    r.subscribe,
		OnMessage:    r.onMessage,
		PingInterval: cfg.PingInterval,
		AppPing: func(c *stream.Client) error {
			return c.Send(map[string]string{"method": "ping"})
		},
	})
	return r
}

func (r *Reader) Start(ctx context.Context) {
	r.ctx = ctx
	r.markets = r.fetchMarkets(ctx)
	go r.client.Run(ctx)
}

func (r *Reader) Client() *stream.Client { return r.client }

// fetchMarkets discovers symbols from the REST prices endpoint, falling back
// to the configured static list.
func (r *Reader) fetchMarkets(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.MarketsURL, nil)
	if err != nil {
		return r.cfg.FallbackMarkets
	}

	client := &http.Client{Timeout: 10 * time.Second}
	if ep := proxy.FromSingleEnv(r.cfg.Proxy.SingleEnv); ep != nil {
		client.Transport = &http.Transport{Proxy: http.ProxyURL(ep.URL())}
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

	var payload models.PacificaMarkets
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || !payload.Success {
		return r.cfg.FallbackMarkets
	}

	seen := make(map[string]struct{}, len(payload.Data))
	markets := make([]string, 0, len(payload.Data))
	for _, d := range payload.Data {
		if d.Symbol == "" {
			continue
		}
		if _, dup := seen[d.Symbol]; dup {
			continue
		}
		seen[d.Symbol] = struct{}{}
		markets = append(markets, d.Symbol)
	}
	if len(markets) == 0 {
		return r.cfg.FallbackMarkets
	}
	r.log.WithFields(logger.Fields{"markets": len(markets)}).Info("discovered markets")
	return markets
}

func (r *Reader) subscribe(c *stream.Client) error {
	for _, m := range r.markets {
		if err := c.Send(map[string]any{
			"method": "subscribe",
			"params": map[string]any{"source": "prices", "symbol": m},
		}); err != nil {
			return err
		}
		if err := c.Send(map[string]any{
			"method": "subscribe",
			"params": map[string]any{"source": "book", "symbol": m, "agg_level": 1},
		}); err != nil {
			return err
		}
	}
	r.log.WithFields(logger.Fields{"markets": len(r.markets)}).Info("subscribed")
	return nil
}

func (r *Reader) onMessage(_ *stream.Client, data []byte) {
	for _, u := range Decode(data) {
		r.channels.SendRaw(r.ctx, u)
	}
}

// Decode turns one stream frame into updates. Pongs and acks carry no
// channel and are dropped here.
func Decode(data []byte) []models.TickUpdate {
	var env models.PacificaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IncrementParseError(venue)
		return nil
	}

	switch env.Channel {
	case "prices":
		return decodePrices(env.Data)
	case "book", "orderbook":
		if u, ok := decodeBook(env.Data); ok {
			return []models.TickUpdate{u}
		}
	}
	return nil
}

func decodePrices(data json.RawMessage) []models.TickUpdate {
	if len(data) == 0 {
		return nil
	}
	var items []models.PacificaPrice
	if err := json.Unmarshal(data, &items); err != nil {
		var one models.PacificaPrice
		if err := json.Unmarshal(data, &one); err != nil {
			logger.IncrementParseError(venue)
			return nil
		}
		items = []models.PacificaPrice{one}
	}

	updates := make([]models.TickUpdate, 0, len(items))
	for _, item := range items {
		symbol := item.Symbol
		if symbol == "" {
			symbol = item.S
		}
		if symbol == "" {
			continue
		}
		price := firstPositive(item.Mark, item.Mid, item.MP, item.LP)
		if price.Sign() <= 0 {
			continue
		}
		u := models.TickUpdate{
			Exchange: models.ExchangePacifica,
			Symbol:   symbols.Normalize(symbol),
			Kind:     models.KindPrice,
			Price:    price,
		}
		// volume_24h is quoted in USD already.
		if vol := firstPositive(item.Volume24H); vol.Sign() > 0 {
			u.HasVolume = true
			u.VolumeUSD = vol
		}
		updates = append(updates, u)
	}
	return updates
}

// decodeBook reads the aggregated book frame: l[0] holds bids, l[1] asks.
// Price is left unset; the prices channel owns it.
func decodeBook(data json.RawMessage) (models.TickUpdate, bool) {
	var book models.PacificaBook
	if err := json.Unmarshal(data, &book); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	symbol := book.Symbol
	if symbol == "" {
		symbol = book.S
	}
	if symbol == "" || len(book.L) == 0 {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangePacifica,
		Symbol:   symbols.Normalize(symbol),
		Kind:     models.KindBook,
		TopOnly:  true,
	}
	if bid, ok := bestLevel(book.L[0]); ok {
		u.Bids = []models.Level{bid}
	}
	if len(book.L) > 1 {
		if ask, ok := bestLevel(book.L[1]); ok {
			u.Asks = []models.Level{ask}
		}
	}
	if len(u.Bids) == 0 && len(u.Asks) == 0 {
		return models.TickUpdate{}, false
	}
	return u, true
}

func bestLevel(side []models.PacificaLevel) (models.Level, bool) {
	if len(side) == 0 {
		return models.Level{}, false
	}
	price := firstPositive(side[0].P)
	if price.Sign() <= 0 {
		return models.Level{}, false
	}
	size := firstPositive(side[0].A)
	if size.Sign() <= 0 {
		size = decimal.NewFromInt(1)
	}
	return models.Level{Price: price, Size: size}, true
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
