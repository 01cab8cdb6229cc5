package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"marketmux/config"
	"marketmux/internal/cache"
	"marketmux/internal/hub"
	"marketmux/logger"
	"marketmux/models"
)

// Server hosts the Gin-powered REST API and the subscriber websocket
// endpoint. REST responses are rendered from the market cache and held in a
// short-TTL response cache so bursts of pollers do not serialize the same
// snapshot over and over.
type Server struct {
	cfg        config.ServerConfig
	log        *logger.Entry
	cache      *cache.MarketCache
	hub        *hub.Hub
	responses  *responseCache
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, c *cache.MarketCache, h *hub.Hub) *Server {
	return &Server{
		cfg:       cfg,
		log:       logger.GetLogger().WithComponent("server"),
		cache:     c,
		hub:       h,
		responses: newResponseCache(cfg.ResponseCacheTTL, cfg.ResponseCacheMax),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithFields(logger.Fields{"addr": s.cfg.Addr}).Info("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"subscribers": s.hub.Count(),
			"timestamp":   time.Now().UnixMilli(),
		})
	})

	router.GET("/api/prices", s.cached("prices", func() any {
		return s.cache.PublishablePrices()
	}))

	router.GET("/api/orderbooks", s.cached("orderbooks", func() any {
		return s.cache.Merged()
	}))

	router.GET("/api/exchanges", s.cached("exchanges", func() any {
		return s.exchangeSummaries()
	}))

	router.GET("/ws", s.serveWS)

	return router, nil
}

// cached wraps a snapshot builder with the TTL response cache and gzip
// negotiation.
func (s *Server) cached(key string, build func() any) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := s.responses.get(key, build)
		if err != nil {
			s.log.WithError(err).Error("failed to render response")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		entry.write(c)
	}
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.hub.Register(conn)
}

// ExchangeSummary aggregates one venue's published markets.
type ExchangeSummary struct {
	Exchange  string `json:"exchange"`
	Markets   int    `json:"markets"`
	VolumeUSD string `json:"volumeUsd"`
}

func (s *Server) exchangeSummaries() []ExchangeSummary {
	type agg struct {
		markets int
		volume  decimal.Decimal
	}
	byExchange := make(map[string]*agg, len(models.Exchanges))

	for _, tick := range s.cache.Prices() {
		a := byExchange[tick.Exchange]
		if a == nil {
			a = &agg{}
			byExchange[tick.Exchange] = a
		}
		a.markets++
		if tick.Volume != "" {
			if v, err := decimal.NewFromString(tick.Volume); err == nil {
				a.volume = a.volume.Add(v)
			}
		}
	}

	summaries := make([]ExchangeSummary, 0, len(models.Exchanges))
	for _, name := range models.Exchanges {
		summary := ExchangeSummary{Exchange: name, VolumeUSD: "0"}
		if a := byExchange[name]; a != nil {
			summary.Markets = a.markets
			summary.VolumeUSD = a.volume.String()
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
