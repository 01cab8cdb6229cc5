package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketmux/config"
	"marketmux/heartbeat"
	"marketmux/internal/cache"
	"marketmux/internal/channel"
	"marketmux/internal/hub"
	"marketmux/logger"
	"marketmux/processor"
	"marketmux/reader/extended"
	"marketmux/reader/grvt"
	"marketmux/reader/lighter"
	"marketmux/reader/nado"
	"marketmux/reader/pacifica"
	"marketmux/reader/paradex"
	"marketmux/reader/reya"
	"marketmux/server"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Marketmux.Name,
		"version":     cfg.Marketmux.Version,
		"environment": string(config.AppEnvironment()),
	}).Info("starting marketmux")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.OutBuffer)
	defer channels.Close()
	go channels.StartMetricsReporting(ctx)

	marketCache := cache.NewMarketCache(cfg.Cache.MaxEntries)
	marketCache.StartSweeper(ctx, cfg.Cache.SweepInterval)

	broadcastHub := hub.New(marketCache)

	proc := processor.New(channels, marketCache)
	go proc.Run(ctx)

	// fan ticks out to websocket subscribers
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-channels.Out:
				if !ok {
					return
				}
				broadcastHub.Publish(tick)
			}
		}
	}()

	connectors := startReaders(ctx, cfg, channels)
	monitor := heartbeat.NewMonitor(cfg.Heartbeat.Interval, connectors...)
	go monitor.Run(ctx)

	apiServer := server.NewServer(cfg.Server, marketCache, broadcastHub)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Run(serverCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("server failed")
		}
	}

	log.Info("starting graceful shutdown")

	// stop the outward surfaces first so subscribers get clean closes,
	// then tear down the venue connections
	stopServer()
	broadcastHub.Close()
	cancel()

	time.Sleep(500 * time.Millisecond)
	log.Info("marketmux stopped")
}

// startReaders launches every enabled venue reader and collects the stream
// connectors the heartbeat monitor watches. The NADO poller supervises its
// own request loops and is deliberately not on the heartbeat.
func startReaders(ctx context.Context, cfg *config.Config, channels *channel.Channels) []heartbeat.Connector {
	log := logger.GetLogger().WithComponent("main")
	var connectors []heartbeat.Connector

	if cfg.Venues.Lighter.Enabled {
		r := lighter.NewReader(cfg.Venues.Lighter, channels)
		r.Start(ctx)
		connectors = append(connectors, r.Client())
	}
	if cfg.Venues.Extended.Enabled {
		r := extended.NewReader(cfg.Venues.Extended, channels)
		r.Start(ctx)
		for _, c := range r.Clients() {
			connectors = append(connectors, c)
		}
	}
	if cfg.Venues.Paradex.Enabled {
		r := paradex.NewReader(cfg.Venues.Paradex, channels)
		r.Start(ctx)
		connectors = append(connectors, r.Client())
	}
	if cfg.Venues.Grvt.Enabled {
		r := grvt.NewReader(cfg.Venues.Grvt, channels)
		r.Start(ctx)
		connectors = append(connectors, r.Client())
	}
	if cfg.Venues.Reya.Enabled {
		r := reya.NewReader(cfg.Venues.Reya, channels)
		r.Start(ctx)
		connectors = append(connectors, r.Client())
	}
	if cfg.Venues.Pacifica.Enabled {
		r := pacifica.NewReader(cfg.Venues.Pacifica, channels)
		r.Start(ctx)
		connectors = append(connectors, r.Client())
	}
	if cfg.Venues.Nado.Enabled {
		nado.NewReader(cfg.Venues.Nado, channels).Start(ctx)
	}

	log.WithFields(logger.Fields{"connectors": len(connectors)}).Info("venue readers started")
	return connectors
}
