package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teleclaude/teleclaude/internal/agent"
	"github.com/teleclaude/teleclaude/internal/common/config"
	"github.com/teleclaude/teleclaude/internal/common/logger"
	"github.com/teleclaude/teleclaude/internal/events"
	"github.com/teleclaude/teleclaude/internal/frontend"
	"github.com/teleclaude/teleclaude/internal/frontend/telegram"
	"github.com/teleclaude/teleclaude/internal/orchestrator"
	"github.com/teleclaude/teleclaude/internal/permissions"
	"github.com/teleclaude/teleclaude/internal/permissions/rulegen"
	"github.com/teleclaude/teleclaude/internal/reload"
	"github.com/teleclaude/teleclaude/internal/server"
	"github.com/teleclaude/teleclaude/internal/session"
	"github.com/teleclaude/teleclaude/internal/setuplink"
	"github.com/teleclaude/teleclaude/internal/teleport"
	"github.com/teleclaude/teleclaude/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var devReload bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the teleclaude server and Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				cfg.Logging.Level = "debug"
			}

			if devReload || os.Getenv("RELOAD") == "1" {
				return runSupervisor(cfg)
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().BoolVar(&devReload, "reload", false, "supervise the server and hot-reload it when the binary changes")
	return cmd
}

// runSupervisor turns this process into the dev watcher: it spawns the same
// binary as a serve child and restarts it whenever the executable is rebuilt.
func runSupervisor(cfg *config.Config) error {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: "stderr",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return reload.NewSupervisor(binary, cfg.ServerURL(), log).Run(ctx)
}

func runServe(cfg *config.Config) error {
	if !cfg.IsConfigured() {
		fmt.Fprintln(os.Stderr, "teleclaude is not configured.")
		fmt.Fprintf(os.Stderr, "Set telegram.bot_token and telegram.user_id in %s,\n", config.Path())
		fmt.Fprintln(os.Stderr, "or export TELECLAUDE_TELEGRAM_BOT_TOKEN and TELECLAUDE_TELEGRAM_USER_ID.")
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: "stderr",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting teleclaude",
		zap.String("server", cfg.ServerURL()),
		zap.Bool("wrapper_managed", os.Getenv("WRAPPER_PID") != ""))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// The server's wrapper auto-shutdown cancels the same context the
	// signal handler does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions := session.NewManager(log)
	bus := events.NewBus(log)
	teleports := teleport.NewStore(log)
	adapter := agent.NewAdapter(cfg.Claude.CLIPath, log)
	links := setuplink.NewRegistry(log)
	rules := rulegen.NewGenerator(cfg.Claude.RuleModel, log)

	bot, err := telegram.NewBot(cfg.Telegram.BotToken, cfg.Telegram.UserID, sessions, links, log)
	if err != nil {
		return err
	}
	frontends := frontend.NewRegistry()
	frontends.Register("telegram", bot)

	perms := permissions.NewCoordinator(bot, rules, log)
	orch := orchestrator.New(sessions, adapter, perms, bus, teleports, bot, log)
	bot.SetDispatcher(orch)

	reloadC := reload.NewCoordinator(sessions, orch, log)
	srv := server.New(cfg, orch, reloadC, links, true, cancel, log)

	restored := sessions.LoadState()
	if len(restored) > 0 {
		log.Info("restored sessions from reload snapshot", zap.Int("count", len(restored)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		if err := frontends.StartAll(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		frontends.StopAll()
		return nil
	})

	orch.NotifyRestored(restored)

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if terr := tracing.Shutdown(shutdownCtx); terr != nil {
		log.Warn("tracing shutdown failed", zap.Error(terr))
	}

	log.Info("teleclaude stopped")
	return err
}
