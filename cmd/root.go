package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/USA-RedDragon/tdmasched/internal/config"
	"github.com/USA-RedDragon/tdmasched/internal/datapath"
	"github.com/USA-RedDragon/tdmasched/internal/schedule"
	"github.com/USA-RedDragon/tdmasched/internal/scheduler"
	"github.com/USA-RedDragon/tdmasched/internal/server"
	"github.com/USA-RedDragon/tdmasched/internal/stats"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
)

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tdmasched",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("tdmasched - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return fmt.Errorf("failed to get config from context")
	}

	cfg, err := c.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	}
	slog.SetDefault(logger)

	st := stats.New()
	if cfg.Metrics.Enabled {
		if err := st.Register(nil); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	// The monitor is created after the scheduler it polls, so changes are
	// forwarded through a closure.
	var monitor *datapath.Monitor
	sched := scheduler.New(cfg.NodeID, scheduler.ScheduleUserFunc(func(change scheduler.Change) {
		if monitor != nil {
			monitor.NotifyScheduleChange(change)
			return
		}
		slog.Info("schedule changed", "active", change.Active(), "frequencies", change.Frequencies)
	}), st)
	if cfg.Datapath.Enabled {
		monitor = datapath.NewMonitor(sched, cfg.Datapath.MultiFrames, cfg.Datapath.PollDuration())
	}

	for _, path := range cfg.Schedule.Files {
		ev, err := schedule.DecodeFile(path)
		if err != nil {
			slog.Error("failed to load schedule file, flushing schedule", "path", path, "error", err)
			sched.Flush()
			continue
		}
		outcome := sched.ProcessEvent(ev)
		slog.Info("loaded schedule file", "path", path, "outcome", outcome.String())
	}

	var srv *server.Server
	if cfg.HTTP.Enabled {
		srv = server.NewServer(cfg, sched, st)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if monitor != nil {
		monitor.Start()
	}

	stop := func(sig os.Signal) {
		slog.Info("received signal, shutting down...", "signal", sig.String())

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			srv.Stop(shutdownCtx)
			cancel()
		}
		if monitor != nil {
			monitor.Stop()
		}
	}

	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return nil
}
