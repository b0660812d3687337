// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/config"
	"github.com/Thermoquad/tagbus/pkg/metrics"
	"github.com/Thermoquad/tagbus/pkg/tag"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

var (
	simMetricsAddr string
	simStoragePath string
	simPrintConfig bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated tag on a host link",
	Long: `Run the tag's bus: sensors, chain channels, the router and the bulk
transfer queue, answering host requests that arrive on the link.

The link is the serial port or WebSocket given by --port or --url. With
neither, frames are read from stdin and written to stdout, so two tagbus
processes can be joined with a pipe or socat.

Channel output sent to the advertisement, GATT, mesh, proprietary or NFC
target is forwarded to the host over the link. RAM and flash targets stay
on the tag; the RAM log is read back with LOG_READ.

Channel configuration persists in --storage, written every
storage.flush_interval and on exit. Channels with no stored record start
from the presets in the configuration file.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	simulateCmd.Flags().StringVar(&simStoragePath, "storage", "", "Channel configuration file (in memory when empty)")
	simulateCmd.Flags().BoolVar(&simPrintConfig, "print-config", false, "Print the effective configuration and exit")

	commandFlags["simulate"] = map[string]string{
		"metrics.addr": "metrics-addr",
		"storage.path": "storage",
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simPrintConfig {
		return config.Write(os.Stdout, cfg)
	}

	conn, connInfo, err := OpenConnection(cfg.Link)
	if errors.Is(err, ErrNoLink) {
		conn, connInfo, err = stdioConnection{Reader: os.Stdin, Writer: os.Stdout}, "stdio", nil
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	var tg *tag.Tag
	link := wire.NewLink(conn,
		wire.WithOutboxSize(cfg.Link.OutboxSize),
		wire.WithLogger(logger.Named("link")),
		wire.WithReadyHook(func() {
			if tg != nil {
				tg.Ready()
			}
		}))

	tg, err = tag.New(cfg, link, tag.WithLogger(logger), tag.WithMetrics(m))
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- link.Run(ctx) }()
	go func() { errc <- tg.Run(ctx) }()

	if err := tg.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("Tag running", zap.String("connection", connInfo))

	go func() {
		errc <- wire.ReadFrames(ctx, conn, func(f *wire.Frame, err error) {
			if err != nil {
				logger.Debug("Decode error", zap.Error(err))
				return
			}
			if f.Kind != bulk.KindRecord {
				logger.Debug("Ignoring host frame", zap.Stringer("kind", f.Kind))
				return
			}
			msg, err := f.Message()
			if err != nil {
				logger.Debug("Bad record", zap.Error(err))
				return
			}
			if err := tg.Deliver(msg); err != nil {
				logger.Warn("Request dropped", zap.Error(err))
			}
		})
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errc:
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
