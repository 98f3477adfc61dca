package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/flowmap/internal/scheduler"
	"github.com/rendis/flowmap/internal/store"
	"github.com/rendis/flowmap/internal/streaming"
	"github.com/rendis/flowmap/internal/workspace"
	"github.com/rendis/flowmap/pkg/mcp"
)

var flagNoScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the flowmap MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagNoScheduler, "no-scheduler", false, "do not run scheduled report jobs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ws, err := workspace.New(workspace.Deps{
		Store:    st,
		EventLog: store.NewEventLog(st),
		Logger:   logger,
		Hub:      streaming.NewMemoryHub(),
	})
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler && !flagNoScheduler {
		sched = scheduler.NewScheduler(st, ws, logger, scheduler.WithInterval(cfg.interval()))
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed report job recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := mcp.NewFlowmapServer(mcp.FlowmapServerDeps{
		Workspace:       ws,
		Store:           st,
		Scheduler:       sched,
		Logger:          logger,
		MermaidASCIIBin: cfg.BinDir,
	})

	logger.Info("flowmap serving on stdio",
		slog.String("db_path", cfg.DBPath),
		slog.Bool("scheduler", sched != nil),
	)
	return srv.Serve(ctx)
}
