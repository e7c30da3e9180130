package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rojlabs/roj/internal/comms"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/delegate"
	"github.com/rojlabs/roj/internal/feedback"
	"github.com/rojlabs/roj/internal/launcher"
	"github.com/rojlabs/roj/internal/memstore"
	"github.com/rojlabs/roj/internal/metrics"
	"github.com/rojlabs/roj/internal/natsbus"
	"github.com/rojlabs/roj/internal/registry"
	"github.com/rojlabs/roj/internal/scheduler"
	"github.com/rojlabs/roj/internal/swarm"
	"github.com/rojlabs/roj/internal/synth"
	"github.com/rojlabs/roj/internal/telegram"
	"github.com/rojlabs/roj/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("rojd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: rojd <command>\n\nCommands:\n  gateway    Start the swarm gateway service\n  vault      Manage encrypted agent credentials\n  backup     Snapshot the data directory to a tar.zst archive\n  restore    Restore a data directory snapshot\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting roj gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite-backed swarm memory
	store, err := memstore.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()
	go store.StartCleanup(ctx, cfg.Store.CleanupInterval)
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()

	// Coordinator and its collaborators
	reg := registry.New(cfg.Roles)
	hub := comms.NewHub(client)
	learner := feedback.New(store)
	swarmCfg := swarm.Config{
		HeartbeatInterval: cfg.Swarm.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Swarm.HeartbeatTimeout,
		DeadlineInterval:  cfg.Swarm.DeadlineInterval,
		MemoryTimeout:     cfg.Swarm.MemoryTimeout,
		ShutdownTimeout:   cfg.Swarm.ShutdownTimeout,
		QueueSize:         cfg.Swarm.QueueSize,
		DegradedThreshold: cfg.Swarm.DegradedThreshold,
	}
	syn := synth.New(cfg.Roles)
	coord := swarm.NewCoordinator(swarmCfg, reg, delegate.New(reg), syn,
		hub, store, learner, metrics.NewCollector())

	sinks := []swarm.EventSink{hub.PublishEvent}

	// Worker launcher (optional, needs a docker socket)
	var workers *launcher.Launcher
	if cfg.Launcher.Image != "" {
		workers, err = launcher.New(cfg.Launcher, bus.ClientURL())
		if err != nil {
			slog.Warn("launcher disabled", "error", err)
			workers = nil
		} else {
			if err := workers.CleanupStale(ctx); err != nil {
				slog.Warn("stale worker cleanup failed", "error", err)
			}
			go workers.StartIdleReaper(ctx, reg)
		}
	}

	// Credential vault
	keeper := newKeeper(cfg, store)
	if keeper != nil && workers != nil {
		workers.SetCredentialSource(keeper)
	}

	// Telegram notifier
	var notifier *telegram.Notifier
	if cfg.Telegram.Token != "" {
		notifier, err = telegram.NewNotifier(cfg.Telegram, coord)
		if err != nil {
			return fmt.Errorf("init telegram: %w", err)
		}
		if keeper != nil {
			notifier.SetRedactor(keeper.Redact)
		}
		go func() {
			if err := notifier.Start(ctx); err != nil {
				slog.Error("telegram notifier error", "error", err)
			}
		}()
		defer notifier.Stop()
		sinks = append(sinks, notifier.HandleEvent)
		slog.Info("telegram notifier started")
	} else {
		slog.Warn("telegram token not set, notifier disabled")
	}

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(coord, reg, store, workers, keeper, cfg.Web, version)
		sinks = append(sinks, srv.BroadcastEvent)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	coord.OnEvent(func(e swarm.Event) {
		for _, sink := range sinks {
			sink(e)
		}
	})

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := hub.Start(ctx, coord); err != nil {
		return fmt.Errorf("start comms hub: %w", err)
	}
	defer hub.Close()

	// Scheduled submissions
	sched := scheduler.New(store, coord, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Wait for shutdown or reload signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig != syscall.SIGHUP {
			slog.Info("shutting down", "signal", sig)
			break
		}
		slog.Info("reloading config")
		newCfg, err := config.Load()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		d := config.Diff(cfg, newCfg)
		if d.RolesChanged {
			reg.UpdateRoles(d.NewRoles)
			syn.UpdateRoles(d.NewRoles)
			slog.Info("role table updated")
		}
		if d.SchedulerChanged {
			sched.UpdateConfig(d.NewScheduler.PollInterval)
			slog.Info("scheduler poll interval updated", "interval", d.NewScheduler.PollInterval)
		}
		if d.ChatIDChanged && notifier != nil {
			notifier.UpdateChatID(d.NewChatID)
			slog.Info("telegram chat updated", "chat_id", d.NewChatID)
		}
		for _, field := range d.NonReloadable {
			slog.Warn("config change requires restart", "field", field)
		}
		cfg = newCfg
	}
	cancel()

	if workers != nil {
		workers.StopAll(context.Background())
	}
	return coord.Shutdown()
}
