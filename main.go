package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cfdfeed/config"
	"cfdfeed/internal/account"
	"cfdfeed/internal/cache"
	"cfdfeed/internal/candles"
	"cfdfeed/internal/dashboard"
	"cfdfeed/internal/metrics"
	"cfdfeed/internal/rest"
	"cfdfeed/internal/stream"
	"cfdfeed/logger"
)

const statsInterval = 30 * time.Second

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
		"symbol":      cfg.Stream.Symbol,
	}).Info("starting cfdfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)

	client := stream.New(cfg.Stream)

	if logger.IsReportLevel(cfg.Logging.Level) {
		logger.StartReport(ctx, log, statsInterval, func() logger.Fields {
			s := client.Stats()
			return logger.Fields{
				"stream_connected":  s.Connected,
				"frames_received":   s.FramesReceived,
				"trades_buffered":   s.TradesBuffered,
				"stream_reconnects": s.Reconnects,
			}
		})
	}

	var candleCache candles.Cache
	var redisCache *cache.Redis
	if cfg.Cache.Enabled {
		redisCache, err = cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			log.WithComponent("main").WithError(err).Warn("candle cache unavailable; continuing without it")
		} else {
			candleCache = redisCache
			defer redisCache.Close()
		}
	}

	deps := dashboard.Deps{Feed: client}
	if cfg.API.BaseURL != "" {
		api := rest.NewClient(cfg.API, nil)
		accounts := account.NewClient(api)
		deps.Candles = candles.NewClient(api, candleCache, cfg.Cache.CandleTTL)
		deps.Sessions = account.NewSessions(accounts)
		deps.Balances = accounts
	} else {
		log.WithComponent("main").Info("api base url not set; candle and account routes disabled")
	}

	server, err := dashboard.NewServer(cfg.Dashboard, log, deps)
	if err != nil {
		log.WithError(err).Error("failed to create api server")
		os.Exit(1)
	}

	if err := client.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream client")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportStats(ctx, log, client)
	}()

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("api server stopped")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping stream client")
	client.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cfdfeed stopped")
}

// reportStats publishes the client's counters until ctx is done.
func reportStats(ctx context.Context, log *logger.Log, client *stream.Client) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := client.Stats()
			metrics.ReportStream(log, "stream_client", metrics.StreamStats{
				Connected:      s.Connected,
				FramesReceived: s.FramesReceived,
				TradesReceived: s.TradesReceived,
				BooksReceived:  s.BooksReceived,
				FramesDropped:  s.FramesDropped,
				Reconnects:     s.Reconnects,
				TradesBuffered: s.TradesBuffered,
			})
		}
	}
}
