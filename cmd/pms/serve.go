// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/pms/internal/scheduler"
	"github.com/pdiddy/pms/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes projects, records, and search runs over HTTP, with
Prometheus metrics on /metrics. When server.refresh_schedule holds a cron
spec, each project's latest search is re-run on that schedule.

When server.api_key is set, every request except /healthz must carry it in
the X-API-KEY header.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	o, err := newOrchestrator(reg, promReg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if spec := cfg.Server.RefreshSchedule; spec != "" {
		sched, err := scheduler.New(spec, reg, o, logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
		logger.Info("refresh scheduled", zap.String("schedule", spec))
	}

	srv := server.New(reg, o, server.Options{
		APIKey:   cfg.Server.APIKey,
		Gatherer: promReg,
		Defaults: cfg.Search,
		Logger:   logger,
	})
	return srv.ListenAndServe(ctx, addr)
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address (default from server.addr)")
	rootCmd.AddCommand(serveCmd)
}
