// streamtest subscribes to the broker's realtime channels and prints decoded
// messages to the console, one aligned line per message.
// Usage: go run ./cmd/streamtest --config configs/streamer.local.yaml
//
// Subscriptions come from the config file unless -ticks, -books or -fills
// are given.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/rickgao/kis-stream/internal/auth"
	"github.com/rickgao/kis-stream/internal/config"
	"github.com/rickgao/kis-stream/internal/connection"
	"github.com/rickgao/kis-stream/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	ticks := flag.String("ticks", "", "comma-separated codes for trade ticks (overrides config)")
	books := flag.String("books", "", "comma-separated codes for order books (overrides config)")
	fills := flag.Bool("fills", false, "subscribe personal fills")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *ticks != "" || *books != "" || *fills {
		cfg.Subscriptions = config.SubscriptionsConfig{
			TradeTicks:    splitCodes(*ticks),
			OrderBooks:    splitCodes(*books),
			PersonalFills: *fills,
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	env, _ := model.ParseEnvironment(cfg.API.Environment)
	creds, err := auth.NewCredentials(auth.Params{
		AppKey:       cfg.API.AppKey,
		AppSecret:    cfg.API.AppSecret,
		ApprovalKey:  cfg.API.ApprovalKey,
		CustomerType: model.CustomerType(cfg.API.CustomerType),
		HTSID:        cfg.API.HTSID,
	})
	if err != nil {
		logger.Error("invalid credentials", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.Environment = env
	mgrCfg.URL = cfg.API.WSURL
	mgrCfg.AckTimeout = cfg.Connections.AckTimeout
	mgr := connection.NewManager(mgrCfg, creds, logger)

	f := formatter{}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			f.width = w
		}
	}

	out := &console{verbose: *verbose, f: f}
	var wg sync.WaitGroup
	subscribe := func(ch model.Channel, target string) {
		stream, ack, err := mgr.Subscribe(ctx, ch, target)
		if err != nil {
			logger.Error("subscribe failed", "channel", ch, "target", target, "error", err)
			return
		}
		logger.Info("subscribed", "ack", ack.String())
		if stream == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.drain(stream)
		}()
	}

	for _, code := range cfg.Subscriptions.TradeTicks {
		subscribe(model.ChannelTradeTick, code)
	}
	for _, code := range cfg.Subscriptions.OrderBooks {
		subscribe(model.ChannelOrderBook, code)
	}
	if cfg.Subscriptions.PersonalFills {
		subscribe(model.ChannelPersonalFill, cfg.API.HTSID)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, cs := range mgr.Stats().Channels {
					if cs.Loops == 0 {
						continue
					}
					logger.Info("stats",
						"channel", cs.Channel,
						"state", cs.State,
						"targets", len(cs.Targets),
						"frames", cs.Frames,
						"messages", cs.Messages,
						"keep_alives", cs.KeepAlives,
						"parse_errors", cs.ParseErrors,
						"queued", cs.Queue.Count,
					)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Close()
	wg.Wait()

	logger.Info("shutdown complete")
}

// console serializes writes from the per-channel printers.
type console struct {
	mu      sync.Mutex
	verbose bool
	f       formatter
}

func (c *console) drain(stream *connection.Stream) {
	for {
		ev, err := stream.NextEvent()
		if errors.Is(err, connection.ErrStreamClosed) {
			return
		}
		c.print(ev)
	}
}

func (c *console) print(ev connection.Event) {
	var line string
	if c.verbose && ev.Message != nil {
		data, _ := json.MarshalIndent(ev.Message, "", "  ")
		line = fmt.Sprintf("[%s] %s", ev.Message.Channel(), data)
	} else {
		line = c.f.Format(ev)
	}
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println(line)
}

func splitCodes(s string) []string {
	var codes []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	return codes
}
