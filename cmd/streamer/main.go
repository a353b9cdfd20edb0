package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kis-stream/internal/auth"
	"github.com/rickgao/kis-stream/internal/config"
	"github.com/rickgao/kis-stream/internal/connection"
	"github.com/rickgao/kis-stream/internal/database"
	"github.com/rickgao/kis-stream/internal/ledger"
	"github.com/rickgao/kis-stream/internal/model"
	"github.com/rickgao/kis-stream/internal/publish"
	"github.com/rickgao/kis-stream/internal/router"
	"github.com/rickgao/kis-stream/internal/version"
	"github.com/rickgao/kis-stream/internal/writer"
)

// sink consumes one router buffer.
type sink interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type namedSink struct {
	name string
	sink
}

func main() {
	configPath := flag.String("config", "configs/streamer.local.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("streamer failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Bootstrap logger until the configured one is known
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting streamer",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.Logging, os.Stdout).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	env, err := model.ParseEnvironment(cfg.API.Environment)
	if err != nil {
		return err
	}
	creds, err := auth.NewCredentials(auth.Params{
		AppKey:       cfg.API.AppKey,
		AppSecret:    cfg.API.AppSecret,
		ApprovalKey:  cfg.API.ApprovalKey,
		CustomerType: model.CustomerType(cfg.API.CustomerType),
		HTSID:        cfg.API.HTSID,
	})
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	logger.Info("configuration loaded",
		"environment", env,
		"credentials", creds.String(),
		"trade_ticks", len(cfg.Subscriptions.TradeTicks),
		"order_books", len(cfg.Subscriptions.OrderBooks),
		"personal_fills", cfg.Subscriptions.PersonalFills,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create router
	rt := router.NewRouter(routerConfig(cfg), logger)
	bufs := rt.Buffers()

	var (
		sinks   []namedSink
		pool    *pgxpool.Pool
		health  = healthSources{sinks: make(map[string]func() any)}
		closers []func()
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Database writers
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale, cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect timescale: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := writer.EnsureSchema(ctx, pool, cfg.Database.Hypertables); err != nil {
			return err
		}
		logger.Info("database connected")

		wcfg := writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
			WriteTimeout:  cfg.Writers.WriteTimeout,
		}
		ticks := writer.NewTickWriter(wcfg, bufs.Ticks, pool, logger)
		books := writer.NewBookWriter(wcfg, bufs.Books, pool, logger)
		fills := writer.NewFillWriter(wcfg, bufs.Fills, pool, logger)
		sinks = append(sinks,
			namedSink{"tick_writer", ticks},
			namedSink{"book_writer", books},
			namedSink{"fill_writer", fills},
		)
		health.ping = pool.Ping
		health.sinks["tick_writer"] = func() any { return ticks.Stats() }
		health.sinks["book_writer"] = func() any { return books.Stats() }
		health.sinks["fill_writer"] = func() any { return fills.Stats() }
	}

	// Kafka publisher
	if cfg.Kafka.Enabled {
		pcfg := publish.Config{
			Brokers:     cfg.Kafka.Brokers,
			TopicPrefix: cfg.Kafka.TopicPrefix,
			ClientID:    cfg.Kafka.ClientID,
			Linger:      cfg.Kafka.Linger,
			BatchSize:   cfg.Writers.BatchSize,
		}
		client, err := publish.NewClient(pcfg)
		if err != nil {
			return err
		}
		closers = append(closers, client.Close)

		pub := publish.NewPublisher(pcfg, bufs.Publish, client, logger)
		sinks = append(sinks, namedSink{"publisher", pub})
		health.sinks["publisher"] = func() any { return pub.Stats() }
		logger.Info("kafka publisher configured", "brokers", cfg.Kafka.Brokers)
	}

	// Fill ledger
	if bufs.Journal != nil {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		closers = append(closers, func() { l.Close() })

		journal := ledger.NewJournal(l, bufs.Journal, logger)
		sinks = append(sinks, namedSink{"ledger", journal})
		health.sinks["ledger"] = func() any { return journal.Stats() }
		logger.Info("fill ledger opened", "path", cfg.Ledger.Path)
	}

	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", s.name, err)
		}
	}

	// Create connection manager
	mgr := connection.NewManager(managerConfig(cfg, env), creds, logger)
	health.manager = mgr.Stats
	health.router = rt.Stats

	plan := subscriptionPlan(cfg)
	for _, p := range plan {
		health.expected = append(health.expected, p.channel)
	}

	// Start health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg.Metrics.Path, health, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// One supervisor per subscribed channel
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range plan {
		sup := newSupervisor(p.channel, p.targets, managerChannel{m: mgr, ch: p.channel}, rt,
			cfg.Connections.ResubscribeBaseDelay, cfg.Connections.ResubscribeMaxDelay, logger)
		g.Go(func() error { return sup.Run(gctx) })
	}

	logger.Info("streamer running",
		"channels", len(plan),
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	// Wait for shutdown
	<-gctx.Done()

	logger.Info("shutting down...")

	// Closing the manager ends every stream, which ends every Route call.
	if err := mgr.Close(); err != nil {
		logger.Warn("close manager", "error", err)
	}
	runErr := g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := rt.Stop(shutdownCtx); err != nil {
		logger.Warn("stop router", "error", err)
	}
	for _, s := range sinks {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.Warn("stop sink", "sink", s.name, "error", err)
		}
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("stop health server", "error", err)
	}

	logger.Info("streamer stopped", "router", rt.Stats())
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// newLogger builds the slog handler named by cfg.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func routerConfig(cfg *config.StreamerConfig) router.RouterConfig {
	size := cfg.Writers.BufferSize
	return router.RouterConfig{
		Store:             cfg.Database.Enabled,
		TickBufferSize:    size,
		BookBufferSize:    size,
		FillBufferSize:    size,
		Publish:           cfg.Kafka.Enabled,
		PublishBufferSize: size,
		Journal:           cfg.Ledger.Enabled && cfg.Subscriptions.PersonalFills,
		JournalBufferSize: size,
	}
}

func managerConfig(cfg *config.StreamerConfig, env model.Environment) connection.ManagerConfig {
	return connection.ManagerConfig{
		Environment: env,
		URL:         cfg.API.WSURL,
		AckTimeout:  cfg.Connections.AckTimeout,
		QueueSize:   cfg.Connections.QueueSize,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Connections.HandshakeTimeout,
			WriteTimeout:     cfg.Connections.WriteTimeout,
			DialMaxAttempts:  cfg.Connections.DialMaxAttempts,
			DialBaseDelay:    cfg.Connections.DialBaseDelay,
			DialMaxDelay:     cfg.Connections.DialMaxDelay,
		},
	}
}

type channelPlan struct {
	channel model.Channel
	targets []string
}

// subscriptionPlan lists the channels to supervise in a stable order.
func subscriptionPlan(cfg *config.StreamerConfig) []channelPlan {
	var plan []channelPlan
	if len(cfg.Subscriptions.TradeTicks) > 0 {
		plan = append(plan, channelPlan{model.ChannelTradeTick, cfg.Subscriptions.TradeTicks})
	}
	if len(cfg.Subscriptions.OrderBooks) > 0 {
		plan = append(plan, channelPlan{model.ChannelOrderBook, cfg.Subscriptions.OrderBooks})
	}
	if cfg.Subscriptions.PersonalFills {
		plan = append(plan, channelPlan{model.ChannelPersonalFill, []string{cfg.API.HTSID}})
	}
	return plan
}
