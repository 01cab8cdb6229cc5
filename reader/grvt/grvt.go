package grvt

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

const venue = "grvt"

// Reader subscribes to GRVT's v1.mini.s ticker snapshots, which carry the
// best bid/ask inline so no separate book merge is needed. The slower
// v1.book.s stream is decoded as a fallback for deployments where the mini
// ticker lacks depth. Streaming requires a prior REST login.
type Reader struct {
	cfg      config.GrvtConfig
	channels *channel.Channels
	client   *stream.Client
	markets  []string
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.GrvtConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("grvt_reader"),
	}

	header := http.Header{}
	header.Set("Origin", cfg.Origin)
	header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	r.client = stream.NewClient(stream.Config{
		Name:          venue,
		URL:           cfg.URL,
		Header:        header,
		Single:        proxy.FromSingleEnv(cfg.Proxy.SingleEnv),
		RefreshHeader: r.refreshAuth,
		Handshake:     r.subscribe,
		OnMessage:     r.onMessage,
	})
	return r
}

func (r *Reader) Start(ctx context.Context) {
	r.ctx = ctx
	r.markets = FetchInstruments(ctx, r.cfg)
	go r.client.Run(ctx)
}

func (r *Reader) Client() *stream.Client { return r.client }

// refreshAuth runs before every dial so each connection carries a fresh
// session; the gravity cookie expires and the stream rejects stale ones on
// reconnect. A failed login falls back to an unauthenticated connection.
func (r *Reader) refreshAuth(ctx context.Context, header http.Header) error {
	creds, err := Login(ctx, r.cfg)
	if err != nil {
		r.log.WithError(err).Warn("login failed, connecting unauthenticated")
	}
	header.Del("Cookie")
	header.Del("X-Grvt-Account-Id")
	if creds != nil {
		header.Set("Cookie", creds.Cookie)
		header.Set("X-Grvt-Account-Id", creds.AccountID)
	}
	return nil
}

func (r *Reader) subscribe(c *stream.Client) error {
	// 500ms is the minimum snapshot rate the venue accepts.
	selectors := make([]string, len(r.markets))
	for i, m := range r.markets {
		selectors[i] = m + "@500"
	}
	if err := c.Send(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params": map[string]any{
			"stream":    "v1.mini.s",
			"selectors": selectors,
		},
	}); err != nil {
		return err
	}
	r.log.WithFields(logger.Fields{"markets": len(r.markets)}).Info("subscribed to mini ticker snapshots")
	return nil
}

func (r *Reader) onMessage(_ *stream.Client, data []byte) {
	u, ok, err := Decode(data)
	if err != nil {
		r.log.WithError(err).Warn("venue reported error")
		return
	}
	if ok {
		r.channels.SendRaw(r.ctx, u)
	}
}

// Decode turns one stream frame into an update. Venue-reported errors come
// back as an error; acks and unknown streams are silently ignored.
func Decode(data []byte) (models.TickUpdate, bool, error) {
	var env models.GrvtEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false, nil
	}

	if env.Error != nil {
		return models.TickUpdate{}, false, &VenueError{Code: env.Error.Code, Message: env.Error.Message}
	}
	if env.Code != 0 && env.Message != "" {
		return models.TickUpdate{}, false, &VenueError{Code: env.Code, Message: env.Message}
	}
	if len(env.Feed) == 0 {
		return models.TickUpdate{}, false, nil
	}

	switch env.Stream {
	case "v1.mini.s":
		u, ok := decodeMini(env.Selector, env.Feed)
		return u, ok, nil
	case "v1.book.s":
		u, ok := decodeBook(env.Selector, env.Feed)
		return u, ok, nil
	}
	return models.TickUpdate{}, false, nil
}

// VenueError is an application-level error frame from the venue.
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return "grvt: " + e.Message
}

func decodeMini(selector string, feed json.RawMessage) (models.TickUpdate, bool) {
	var mini models.GrvtMini
	if err := json.Unmarshal(feed, &mini); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	instrument := instrumentName(selector, mini.Instrument, mini.I)
	if instrument == "" {
		return models.TickUpdate{}, false
	}

	price := firstPositive(mini.MarkPrice, mini.MP, mini.LastPrice, mini.LP)
	if price.Sign() <= 0 {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeGRVT,
		Symbol:   symbols.Normalize(instrument),
		Kind:     models.KindBook,
		TopOnly:  true,
		Price:    price,
	}
	if bid := firstPositive(mini.BestBidPrice); bid.Sign() > 0 {
		u.Bids = []models.Level{{Price: bid, Size: sizeOrOne(mini.BestBidSize)}}
	}
	if ask := firstPositive(mini.BestAskPrice); ask.Sign() > 0 {
		u.Asks = []models.Level{{Price: ask, Size: sizeOrOne(mini.BestAskSize)}}
	}
	if len(u.Bids) == 0 && len(u.Asks) == 0 {
		u.Kind = models.KindPrice
		u.TopOnly = false
	}
	return u, true
}

func decodeBook(selector string, feed json.RawMessage) (models.TickUpdate, bool) {
	var book models.GrvtBook
	if err := json.Unmarshal(feed, &book); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	instrument := instrumentName(selector, book.Instrument, book.I)
	if instrument == "" {
		return models.TickUpdate{}, false
	}

	bids := book.Bids
	if len(bids) == 0 {
		bids = book.B
	}
	asks := book.Asks
	if len(asks) == 0 {
		asks = book.A
	}

	bid, hasBid := bestLevel(bids)
	ask, hasAsk := bestLevel(asks)
	if !hasBid && !hasAsk {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeGRVT,
		Symbol:   symbols.Normalize(instrument),
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

func instrumentName(selector, instrument, short string) string {
	if selector != "" {
		return strings.SplitN(selector, "@", 2)[0]
	}
	if instrument != "" {
		return instrument
	}
	return short
}

// bestLevel parses the first level of one side; the venue has been seen to
// send levels both as {price,size} objects and as [price, size] pairs.
func bestLevel(levels []json.RawMessage) (models.Level, bool) {
	if len(levels) == 0 {
		return models.Level{}, false
	}
	first := levels[0]

	var obj struct {
		Price json.Number `json:"price"`
		P     json.Number `json:"p"`
		Size  json.Number `json:"size"`
		S     json.Number `json:"s"`
	}
	if err := json.Unmarshal(first, &obj); err == nil {
		price := firstPositive(obj.Price, obj.P)
		if price.Sign() > 0 {
			return models.Level{Price: price, Size: sizeOrOne(obj.Size, obj.S)}, true
		}
	}

	var pair []json.Number
	if err := json.Unmarshal(first, &pair); err == nil && len(pair) > 0 {
		price := firstPositive(pair[0])
		if price.Sign() > 0 {
			lvl := models.Level{Price: price, Size: decimal.NewFromInt(1)}
			if len(pair) > 1 {
				lvl.Size = sizeOrOne(pair[1])
			}
			return lvl, true
		}
	}
	return models.Level{}, false
}

func sizeOrOne(nums ...json.Number) decimal.Decimal {
	if d := firstPositive(nums...); d.Sign() > 0 {
		return d
	}
	return decimal.NewFromInt(1)
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
