// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/tagbus/pkg/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	configPath string
	verbose    bool

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger = zap.NewNop()
)

// linkFlags maps config keys to the persistent flags that override them.
var linkFlags = map[string]string{
	"link.port":          "port",
	"link.baud":          "baud",
	"link.url":           "url",
	"link.username":      "username",
	"link.no_ssl_verify": "no-ssl-verify",
}

var rootCmd = &cobra.Command{
	Use:   "tagbus",
	Short: "Sensor tag bus simulator and host tools",
	Long: `Tagbus - Simulate a BLE sensor tag's internal bus and talk to it from the host.

The tag routes fixed 11-byte messages between sensor endpoints and 16 chain
channels, which filter samples and forward them to transmission targets.
Larger results travel as bulk transfers split into numbered frames.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings are read from --config (YAML), then TAGBUS_* environment
variables, then flags. For WebSocket authentication, the password is read
from the TAGBUS_PASSWORD environment variable, or prompted interactively if
not set.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func setup(cmd *cobra.Command, args []string) error {
	l, err := newLogger(verbose)
	if err != nil {
		return err
	}
	logger = l

	bindings := make(map[string]string, len(linkFlags)+len(commandFlags[cmd.Name()]))
	for k, v := range linkFlags {
		bindings[k] = v
	}
	for k, v := range commandFlags[cmd.Name()] {
		bindings[k] = v
	}

	cfg, err = config.Load(configPath, config.WithFlags(cmd.Flags(), bindings))
	return err
}

// commandFlags holds per-command config bindings registered in init.
var commandFlags = map[string]map[string]string{}

// newLogger builds a console logger on stderr so stdout stays free for
// decoded output.
func newLogger(debug bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.DisableStacktrace = !debug
	zc.OutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zc.Build()
}

// Execute runs the root command
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}
