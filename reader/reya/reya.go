package reya

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

const venue = "reya"

// Reader subscribes to Reya's price and summary channels. The venue has no
// orderbook stream (its book lives on-chain), so price and volume arrive on
// separate channels and meet in the cache under the same key. Server pings
// are application-level messages that expect an application-level pong.
type Reader struct {
	cfg      config.ReyaConfig
	channels *channel.Channels
	client   *stream.Client
	log      *logger.Entry

	ctx context.Context
}

func NewReader(cfg config.ReyaConfig, channels *channel.Channels) *Reader {
	r := &Reader{
		cfg:      cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("reya_reader"),
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
	go r.client.Run(ctx)
}

func (r *Reader) Client() *stream.Client { return r.client }

func (r *Reader) subscribe(c *stream.Client) error {
	for _, ch := range []string{"/v2/prices", "/v2/markets/summary"} {
		if err := c.Send(map[string]string{"type": "subscribe", "channel": ch}); err != nil {
			return err
		}
	}
	r.log.Info("subscribed to prices and markets summary")
	return nil
}

func (r *Reader) onMessage(c *stream.Client, data []byte) {
	var env models.ReyaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.IncrementParseError(venue)
		return
	}

	if env.Type == "ping" {
		if err := c.Send(map[string]any{"type": "pong", "timestamp": time.Now().UnixMilli()}); err != nil {
			r.log.WithError(err).Debug("failed to answer application ping")
		}
		return
	}
	if env.Type != "channel_data" {
		return
	}

	switch env.Channel {
	case "/v2/prices":
		for _, u := range decodePrices(env.Data) {
			r.channels.SendRaw(r.ctx, u)
		}
	case "/v2/markets/summary":
		for _, u := range decodeSummaries(env.Data) {
			r.channels.SendRaw(r.ctx, u)
		}
	}
}

func decodePrices(data json.RawMessage) []models.TickUpdate {
	items, ok := asArray[models.ReyaPrice](data)
	if !ok {
		return nil
	}

	updates := make([]models.TickUpdate, 0, len(items))
	for _, item := range items {
		if item.Symbol == "" {
			continue
		}
		price := firstPositive(item.OraclePrice, item.PoolPrice)
		if price.Sign() <= 0 {
			continue
		}
		updates = append(updates, models.TickUpdate{
			Exchange: models.ExchangeReya,
			Symbol:   symbols.Normalize(item.Symbol),
			Kind:     models.KindPrice,
			Price:    price,
		})
	}
	return updates
}

// decodeSummaries emits volume-only updates; volume24h is already
// USD-denominated.
func decodeSummaries(data json.RawMessage) []models.TickUpdate {
	items, ok := asArray[models.ReyaSummary](data)
	if !ok {
		return nil
	}

	updates := make([]models.TickUpdate, 0, len(items))
	for _, item := range items {
		if item.Symbol == "" {
			continue
		}
		volume := firstPositive(item.Volume24H)
		if volume.Sign() <= 0 {
			continue
		}
		updates = append(updates, models.TickUpdate{
			Exchange:  models.ExchangeReya,
			Symbol:    symbols.Normalize(item.Symbol),
			Kind:      models.KindVolume,
			HasVolume: true,
			VolumeUSD: volume,
		})
	}
	return updates
}

// asArray accepts both the array and single-object forms the channel has
// been seen to deliver.
func asArray[T any](data json.RawMessage) ([]T, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var items []T
	if err := json.Unmarshal(data, &items); err == nil {
		return items, true
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		logger.IncrementParseError(venue)
		return nil, false
	}
	return []T{one}, true
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
