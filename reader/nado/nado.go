package nado

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"marketmux/config"
	"marketmux/internal/channel"
	"marketmux/internal/proxy"
	"marketmux/logger"
	"marketmux/models"
)

const venue = "nado"

// Reader polls NADO's REST orderbook endpoint, one goroutine per market.
// The venue has no stream, and its endpoint rate-limits per source address,
// so each market is pinned to its own proxy from the pool. Markets that do
// not get a proxy are skipped rather than shared.
type Reader struct {
	cfg      config.NadoConfig
	channels *channel.Channels
	pool     *proxy.Pool
	log      *logger.Entry
}

func NewReader(cfg config.NadoConfig, channels *channel.Channels) *Reader {
	return &Reader{
		cfg:      cfg,
		channels: channels,
		pool:     proxy.FromEnv(cfg.Proxy.PoolPrefix, cfg.Proxy.PoolFrom, cfg.Proxy.PoolTo),
		log:      logger.GetLogger().WithComponent("nado_reader"),
	}
}

func (r *Reader) Start(ctx context.Context) {
	for i, market := range r.cfg.Markets {
		ep := r.pool.At(i)
		if ep == nil {
			r.log.WithFields(logger.Fields{"market": market.Symbol}).Warn("no proxy for market, skipping")
			continue
		}
		// stagger the start so the pollers do not fire in lockstep
		go r.poll(ctx, market, ep, time.Duration(i)*50*time.Millisecond)
	}
}

func (r *Reader) poll(ctx context.Context, market config.NadoMarket, ep *proxy.Endpoint, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	client := &http.Client{
		Timeout:   2 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(ep.URL())},
	}
	limiter := rate.NewLimiter(rate.Every(r.cfg.PollInterval), 1)
	log := r.log.WithFields(logger.Fields{"market": market.Symbol, "proxy": ep.Redacted()})

	target := r.cfg.OrderbookURL + "?" + url.Values{
		"ticker_id": {market.TickerID},
		"depth":     {"1"},
	}.Encode()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		// Fire and forget: the cadence stays on the configured interval even
		// when a proxied request takes longer than one tick.
		go func() {
			body, err := r.fetch(ctx, client, target)
			if err != nil {
				log.WithError(err).Debug("poll failed")
				return
			}
			logger.IncrementVenueRead(venue, len(body))
			if u, ok := decodeBook(body, market.Symbol); ok {
				r.channels.SendRaw(ctx, u)
			}
		}()
	}
}

func (r *Reader) fetch(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "unexpected status " + http.StatusText(e.code)
}

// decodeBook parses the depth-1 response. Proxies occasionally answer with
// an HTML error page despite a 200, so anything that does not look like
// JSON is rejected before parsing.
func decodeBook(body []byte, symbol string) (models.TickUpdate, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '<' {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	var book models.NadoBook
	if err := json.Unmarshal(trimmed, &book); err != nil {
		logger.IncrementParseError(venue)
		return models.TickUpdate{}, false
	}

	bid, hasBid := bestLevel(book.Bids)
	ask, hasAsk := bestLevel(book.Asks)
	if !hasBid && !hasAsk {
		return models.TickUpdate{}, false
	}

	u := models.TickUpdate{
		Exchange: models.ExchangeNado,
		Symbol:   symbol,
		Kind:     models.KindBook,
		TopOnly:  true,
	}
	if hasBid {
		u.Bids = []models.Level{bid}
		u.Price = bid.Price
	}
	if hasAsk {
		u.Asks = []models.Level{ask}
		if u.Price.Sign() == 0 {
			u.Price = ask.Price
		}
	}
	return u, true
}

func bestLevel(side [][]json.Number) (models.Level, bool) {
	if len(side) == 0 || len(side[0]) == 0 {
		return models.Level{}, false
	}
	price, err := decimal.NewFromString(side[0][0].String())
	if err != nil || price.Sign() <= 0 {
		return models.Level{}, false
	}
	size := decimal.NewFromInt(1)
	if len(side[0]) > 1 {
		if s, err := decimal.NewFromString(side[0][1].String()); err == nil && s.Sign() > 0 {
			size = s
		}
	}
	return models.Level{Price: price, Size: size}, true
}
