package extended

import (
	"context"
	"encoding/json"
	"net/http"
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

const venue = "extended"

// Reader owns Extended's two feeds. The mark-price feed delivers
// newline-delimited JSON and contributes only the USD volume; the price
// itself always comes from the orderbook feed, which streams depth-1
// snapshots, always a complete best bid/ask, from which the mid-price is
// derived.
type Reader struct {
	cfg      config.ExtendedConfig
	channels *channel.Channels
	price    *stream.Client
	book     *stream.Client
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.ExtendedConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("extended_reader"),
	}

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	pool := proxy.FromEnv(cfg.Proxy.PoolPrefix, cfg.Proxy.PoolFrom, cfg.Proxy.PoolTo)
	single := proxy.FromSingleEnv(cfg.Proxy.SingleEnv)

	r.price = stream.NewClient(stream.Config{
		Name:      venue,
		URL:       cfg.PriceURL,
		Header:    header,
		Pool:      pool,
		Single:    single,
		OnMessage: r.onPriceMessage,
	})
	r.book = stream.NewClient(stream.Config{
		Name:         venue + "_orderbook",
		URL:          cfg.BookURL,
		Header:       header,
		Pool:         pool,
		Single:       single,
		OnMessage:    r.onBookMessage,
		PingInterval: cfg.PingInterval,
		IdleTimeout:  cfg.IdleTimeout,
	})
	return r
}

func (r *Reader) Start(ctx context.Context) {
	r.ctx = ctx
	go r.price.Run(ctx)
	go r.book.Run(ctx)
}

// Clients exposes both connections for the liveness monitor.
func (r *Reader) Clients() []*stream.Client {
	return []*stream.Client{r.price, r.book}
}

func (r *Reader) onPriceMessage(_ *stream.Client, data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if u, ok := decodePriceLine([]byte(line)); ok {
			r.channels.SendRaw(r.ctx, u)
		}
	}
}

func (r *Reader) onBookMessage(_ *stream.Client, data []byte) {
	if u, ok := decodeBook(data); ok {
		r.channels.SendRaw(r.ctx, u)
	}
}

// decodePriceLine handles one MP/P frame. Mark price is used only to convert
// token volume to USD; the record's price field belongs to the book feed's
// mid-price, so this emits a volume-only update.
func decodePriceLine(line []byte) (models.TickUpdate, bool) {
	var frame models.ExtendedFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}
	if (frame.Type != "MP" && frame.Type != "P") || frame.Data == nil {
		return models.TickUpdate{}, false
	}

	market := frame.Data.M
	if market == "" {
		market = frame.Data.Market
	}
	price := firstPositive(frame.Data.P, frame.Data.Price, frame.Data.MarkPrice)
	if market == "" || price.Sign() <= 0 {
		return models.TickUpdate{}, false
	}

	var generic struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(line, &generic); err != nil {
		return models.TickUpdate{}, false
	}
	tokens, ok := models.ProbeVolume(generic.Data, true)
	if !ok {
		return models.TickUpdate{}, false
	}

	return models.TickUpdate{
		Exchange:  models.ExchangeExtended,
		Symbol:    symbols.Normalize(market),
		Kind:      models.KindVolume,
		HasVolume: true,
		VolumeUSD: tokens.Mul(price),
	}, true
}

// decodeBook handles one depth-1 snapshot. The best bid/ask pair is complete
// in every frame; the mid-price rides on the same update so the cache merge
// lands both atomically.
func decodeBook(data []byte) (models.TickUpdate, bool) {
	var frame models.ExtendedFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	payload := frame.Data
	if payload == nil {
		// Some frames arrive without the data wrapper.
		payload = &models.ExtendedPayload{}
		if err := json.Unmarshal(data, payload); err != nil {
			logger.IncrementParseError(venue)
			return models.TickUpdate{}, false
		}
	}

	market := payload.M
	for _, alt := range []string{payload.Market, frame.Market, frame.Symbol} {
		if market == "" {
			market = alt
		}
	}
	if market == "" {
		return models.TickUpdate{}, false
	}

	bids := payload.B
	if len(bids) == 0 {
		bids = payload.Bids
	}
	asks := payload.A
	if len(asks) == 0 {
		asks = payload.Asks
	}

	bid, hasBid := bestLevel(bids)
	ask, hasAsk := bestLevel(asks)
	if !hasBid && !hasAsk {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeExtended,
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
	if hasBid && hasAsk {
		u.Price = bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
	}
	return u, true
}

func bestLevel(levels []models.ExtendedLevel) (models.Level, bool) {
	if len(levels) == 0 {
		return models.Level{}, false
	}
	first := levels[0]
	price := firstPositive(first.P, first.Price)
	if price.Sign() <= 0 {
		return models.Level{}, false
	}
	size := firstPositive(first.Q, first.Size)
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
