package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l1jgo/netrepl/internal/config"
	"github.com/l1jgo/netrepl/internal/core/event"
	coresys "github.com/l1jgo/netrepl/internal/core/system"
	"github.com/l1jgo/netrepl/internal/journal"
	gonet "github.com/l1jgo/netrepl/internal/net"
	"github.com/l1jgo/netrepl/internal/protocol"
	"github.com/l1jgo/netrepl/internal/replication"
	"github.com/l1jgo/netrepl/internal/scene"
	"github.com/l1jgo/netrepl/internal/scripting"
	"github.com/l1jgo/netrepl/internal/sim"
	"github.com/l1jgo/netrepl/internal/system"
)

func main() {
	if len(os.Args) == 3 && os.Args[1] == "hash-secret" {
		hash, err := gonet.HashSecret(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Node ──────────────────────────────────────────────────────────

func run() error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	fmt.Printf("\n  \033[1mnode:\033[0m %s \033[90m(%s)\033[0m\n\n", cfg.Node.Name, cfg.Node.Mode)

	// 1. Content
	printSection("content")
	tree := scene.NewTree()
	content, err := loadContent(cfg.Content, tree, log)
	if err != nil {
		return err
	}
	printStat("types", content.types.Len())
	printStat("templates", content.templates.Len())

	scripts, err := scripting.NewEngine(cfg.Content.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer scripts.Close()
	printOK("lua behaviours loaded")
	fmt.Println()

	// 2. Journal
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		printSection("journal")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := journal.Open(ctx, cfg.Journal, log)
		if err != nil {
			cancel()
			return fmt.Errorf("journal: %w", err)
		}
		defer db.Close()
		err = journal.Migrate(ctx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("journal migrations: %w", err)
		}
		jrnl = journal.New(db, cfg.Journal.MaxPending, log)
		printOK(fmt.Sprintf("%s journal ready", db.Driver))
		fmt.Println()
	}

	// 3. Transport
	printSection("network")
	opts := gonet.Options{
		InQueueSize:       cfg.Network.InQueueSize,
		OutQueueSize:      cfg.Network.OutQueueSize,
		CompressThreshold: cfg.Network.CompressThreshold,
		WriteTimeout:      cfg.Network.WriteTimeout,
		ReadTimeout:       cfg.Network.ReadTimeout,
		HandshakeTimeout:  cfg.Network.HandshakeTimeout,
		JoinSecretHash:    cfg.Network.JoinSecretHash,
	}
	if cfg.RateLimit.Enabled {
		opts.PacketsPerSecond = cfg.RateLimit.PacketsPerSecond
		opts.Burst = cfg.RateLimit.Burst
	}

	var (
		hub      *gonet.Hub
		tcp      *gonet.Server
		wsServer *http.Server
		mode     = replication.ModeServer
		localID  = replication.ServerClientID
	)
	if cfg.IsServer() {
		hub = gonet.NewHub(opts, log)
		tcp, err = gonet.Listen(cfg.Network.BindAddress, hub, log)
		if err != nil {
			return fmt.Errorf("network: %w", err)
		}
		go tcp.AcceptLoop()
		printReady(fmt.Sprintf("tcp %s", tcp.Addr()))

		if cfg.Network.WSBindAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/ws", gonet.NewWSHandler(hub, log))
			wsServer = &http.Server{Addr: cfg.Network.WSBindAddress, Handler: mux}
			go func() {
				if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("websocket listener failed", zap.Error(err))
				}
			}()
			printReady(fmt.Sprintf("websocket %s/ws", cfg.Network.WSBindAddress))
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if strings.HasPrefix(cfg.Network.ServerAddress, "ws://") || strings.HasPrefix(cfg.Network.ServerAddress, "wss://") {
			hub, localID, err = gonet.DialWebSocket(ctx, cfg.Network.ServerAddress, cfg.Network.JoinSecret, opts, log)
		} else {
			hub, localID, err = gonet.Dial(ctx, cfg.Network.ServerAddress, cfg.Network.JoinSecret, opts, log)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("join %s: %w", cfg.Network.ServerAddress, err)
		}
		mode = replication.ModeClient
		printReady(fmt.Sprintf("joined %s as client %d", cfg.Network.ServerAddress, localID))
	}
	defer hub.Close()

	// 4. Replication
	bus := event.NewBus()
	replOpts := []replication.Option{
		replication.WithLogger(log),
		replication.WithTemplates(content.templates),
		replication.WithObserver(event.NewForwarder(bus)),
	}
	if jrnl != nil {
		replOpts = append(replOpts, replication.WithObserver(jrnl))
	}
	repl := replication.New(tree, content.types, hub, replOpts...)
	if err := sim.RegisterSerializers(repl, content.types); err != nil {
		return err
	}
	msgs := protocol.NewRegistry(log)
	repl.RegisterHandlers(msgs)
	repl.Start(mode, localID)

	serverLost := make(chan struct{})
	event.Subscribe(bus, func(ev event.PeerJoined) {
		log.Info("peer joined", zap.Uint32("peer", ev.Peer))
	})
	event.Subscribe(bus, func(ev event.PeerLeft) {
		log.Info("peer left", zap.Uint32("peer", ev.Peer))
		if mode == replication.ModeClient && ev.Peer == replication.ServerClientID {
			close(serverLost)
		}
	})
	event.Subscribe(bus, func(ev event.ObjectChanged) {
		log.Debug("object changed",
			zap.Stringer("kind", ev.Kind),
			zap.Stringer("object", ev.ObjectID),
			zap.String("type", ev.TypeName),
			zap.Uint32("owner", ev.Owner),
		)
	})

	if mode == replication.ModeServer {
		n, err := spawnTemplates(repl, tree, content.templates, cfg.Node.SpawnTemplates)
		if err != nil {
			return err
		}
		printStat("spawned objects", n)
	}

	// 5. Systems
	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(hub, msgs, repl, bus, cfg.Network.MaxPacketsPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewSimulationSystem(repl, tree, scripts, log))
	runner.Register(system.NewOutputSystem(repl, hub))
	var persistSys *system.PersistenceSystem
	if jrnl != nil {
		persistSys = system.NewPersistenceSystem(jrnl, cfg.Journal.FlushInterval, log)
		runner.Register(persistSys)
	}

	// 6. Loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()
	printReady(fmt.Sprintf("tick loop started (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	stop := func(reason string) {
		log.Info("shutting down", zap.String("reason", reason))
		repl.Shutdown()
		if tcp != nil {
			tcp.Shutdown()
		}
		if wsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			wsServer.Shutdown(ctx)
			cancel()
		}
		if persistSys != nil {
			persistSys.FlushNow()
		}
		log.Info("node stopped")
	}

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case <-serverLost:
			stop("server connection lost")
			return nil
		case sig := <-shutdownCh:
			stop(sig.String())
			return nil
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
