package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"optionflow/archive"
	"optionflow/config"
	"optionflow/gateway"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/monitor"
	"optionflow/notify"
	"optionflow/scheduler"
	"optionflow/store"
	"optionflow/stream"
	"optionflow/web"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = config.AppEnvironment()
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	enabled := cfg.EnabledMarkets()

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
		"markets":     strings.Join(enabled, ","),
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if cfg.Metrics.ReportInterval > 0 {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	st, err := store.Open(cfg.Storage.Postgres, log)
	if err != nil {
		log.WithError(err).Error("failed to open postgres store")
		os.Exit(1)
	}
	st.StartCleanup(ctx, cfg.Storage.Postgres.RetentionDays, cfg.Storage.Postgres.CleanupInterval)

	client := gateway.NewClient(cfg.Gateway, log)

	var keepalive *gateway.Keepalive
	if cfg.Gateway.Keepalive.Enabled {
		keepalive = gateway.NewKeepalive(cfg.Gateway, log)
		if err := keepalive.Start(ctx); err != nil {
			log.WithError(err).Warn("failed to start gateway keepalive")
		}
	}

	channels := models.NewChannels(cfg.Channels.QuoteBuffer, cfg.Channels.EventBuffer)

	coordinator := scheduler.NewTurnCoordinator(cfg.Scheduler, log)

	hoursByMarket := make(map[string]*scheduler.TradingHours, len(enabled))
	sessions := make(map[string]notify.Session, len(enabled))
	for _, name := range enabled {
		marketCfg, _ := cfg.Market(name)
		hours, err := scheduler.NewTradingHours(marketCfg.TradingHours)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"market": name}).Error("invalid trading hours")
			os.Exit(1)
		}
		hoursByMarket[name] = hours
		sessions[name] = hours
	}

	notifier := notify.NewWeWorkNotifier(cfg.Notify, sessions, log)

	multiMarket := len(enabled) > 1
	workers := make([]*scheduler.MarketWorker, 0, len(enabled))
	for i, name := range enabled {
		marketCfg, _ := cfg.Market(name)

		scanner, err := monitor.NewScanner(name, cfg, client, st, notifier, channels, log)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"market": name}).Error("failed to create scanner")
			os.Exit(1)
		}

		// The second market waits out a stagger so the first market's warm-up
		// scan is not immediately contended.
		var startDelay time.Duration
		if i > 0 {
			startDelay = cfg.Scheduler.SecondMarketDelay
		}

		workers = append(workers, scheduler.NewMarketWorker(scanner, coordinator, hoursByMarket[name], marketCfg, cfg.Scheduler, multiMarket, startDelay, log))
	}

	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			log.WithError(err).WithFields(logger.Fields{"market": w.Market()}).Error("failed to start market worker")
			os.Exit(1)
		}
	}

	supervisor := scheduler.NewSupervisor(workers, cfg.Scheduler, log)
	if err := supervisor.Start(ctx); err != nil {
		log.WithError(err).Warn("failed to start supervisor")
	}

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.NewArchiver(cfg, channels.Quotes)
		if err != nil {
			log.WithError(err).Error("failed to create parquet archiver")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start parquet archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("parquet archive disabled; quotes are kept in postgres only")
	}

	var publisher *stream.Publisher
	if cfg.Stream.Kafka.Enabled {
		publisher, err = stream.NewPublisher(cfg, channels.Events)
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
		if err := publisher.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka publisher")
			os.Exit(1)
		}
	}

	server, err := web.NewServer(cfg.Web, cfg.App, st, channels, workers, coordinator, log)
	if err != nil {
		log.WithError(err).Error("failed to create web server")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("web server exited")
			}
		}()
		log.WithComponent("main").WithFields(logger.Fields{"address": server.Address()}).Info("dashboard listening")
	}

	log.Info("all components started successfully")

	if err := notifier.SendText(ctx, fmt.Sprintf("%s %s started, monitoring %s", cfg.App.Name, cfg.App.Version, strings.Join(enabled, ", "))); err != nil {
		log.WithError(err).Warn("failed to send startup notice")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// The main context is about to be cancelled, so the notice gets its own.
	noticeCtx, noticeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := notifier.SendText(noticeCtx, fmt.Sprintf("%s stopping (%s)", cfg.App.Name, sig)); err != nil {
		log.WithError(err).Warn("failed to send shutdown notice")
	}
	noticeCancel()

	cancel()

	log.Info("stopping supervisor")
	supervisor.Stop()

	for _, w := range workers {
		log.WithFields(logger.Fields{"market": w.Market()}).Info("stopping market worker")
		w.Stop()
	}

	if archiver != nil {
		log.Info("stopping parquet archiver")
		archiver.Stop()
	}
	if publisher != nil {
		log.Info("stopping kafka publisher")
		publisher.Stop()
	}
	if keepalive != nil {
		keepalive.Stop()
	}

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

	if err := st.Close(); err != nil {
		log.WithError(err).Warn("failed to close postgres store")
	}

	log.Info("optionflow stopped")
}
