// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
	monFrameSize  int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and check frames sent by a tag",
	Long: `Continuously decode frames from the link, validate every message and
reassemble bulk transfers.

This command detects:
  - CRC errors and framing failures
  - Messages the tag would reject (unknown types, reserved rates, bad upstreams)
  - ERROR replies and the status bits they carry
  - Bulk transfers that arrive out of order or incomplete

By default only problems are displayed. Use --show-all to print every
message and completed transfer. The link is reopened automatically when it
drops.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().IntVar(&monFrameSize, "frame-size", bulk.FramePayloadSize, "Bulk frame payload size used by the tag")

	commandFlags["monitor"] = map[string]string{
		"bulk.frame_payload_size": "frame-size",
	}
}

// monitorEvent is one decoded frame, decode failure or finished transfer.
type monitorEvent struct {
	frame       *wire.Frame
	decodeErr   error
	anomalies   []endpoint.ValidationError
	transfer    *bulk.Transfer
	transferErr error
}

// linkEvent reports the link going down or coming back.
type linkEvent struct {
	connInfo string
	up       bool
}

// frameSource reads the link, reopening it when it fails, and turns the
// byte stream into monitor events.
type frameSource struct {
	reassembler  *bulk.Reassembler
	synchronized bool
	skipped      int
	onSync       func(skipped int)
	onEvent      func(monitorEvent)
	onLink       func(linkEvent)
}

func newFrameSource(frameSize int) *frameSource {
	return &frameSource{
		reassembler: bulk.NewReassembler(frameSize),
		onSync:      func(int) {},
		onEvent:     func(monitorEvent) {},
		onLink:      func(linkEvent) {},
	}
}

// handle classifies one decoder result. Decode errors before the first good
// frame are counted as skipped bytes rather than reported.
func (s *frameSource) handle(f *wire.Frame, err error) {
	if err != nil {
		if s.synchronized {
			s.onEvent(monitorEvent{decodeErr: err})
		} else {
			s.skipped++
		}
		return
	}
	if !s.synchronized {
		s.synchronized = true
		s.onSync(s.skipped)
	}

	ev := monitorEvent{frame: f}
	switch f.Kind {
	case bulk.KindRecord:
		if m, err := f.Message(); err == nil {
			ev.anomalies = endpoint.ValidateMessage(m)
		}
	case bulk.KindBulk:
		ev.transfer, ev.transferErr = s.reassembler.Feed(f.Data)
	}
	s.onEvent(ev)
}

func (s *frameSource) run(ctx context.Context, conn Connection, connInfo string) error {
	for {
		s.onLink(linkEvent{connInfo: connInfo, up: true})
		err := wire.ReadFrames(ctx, conn, s.handle)
		conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("Connection lost", zap.Error(err))
		s.onLink(linkEvent{connInfo: connInfo})

		// A restart mid-transfer leaves stale partials behind.
		s.reassembler.Reset()
		s.synchronized = false
		s.skipped = 0

		conn, connInfo, err = reconnect(ctx, cfg.Link)
		if err != nil {
			return nil
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := newFrameSource(cfg.Bulk.FramePayloadSize)
	if useTUI {
		return runMonitorTUI(ctx, src, conn, connInfo)
	}
	return runMonitorText(ctx, src, conn, connInfo)
}

func runMonitorTUI(ctx context.Context, src *frameSource, conn Connection, connInfo string) error {
	p := tea.NewProgram(initialMonitorModel(connInfo, statsInterval, showAll), tea.WithAltScreen())

	src.onSync = func(skipped int) { p.Send(syncMsg{invalidBytes: skipped}) }
	src.onEvent = func(ev monitorEvent) { p.Send(ev) }
	src.onLink = func(ev linkEvent) { p.Send(ev) }

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = src.run(ctx, conn, connInfo)
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(ctx context.Context, src *frameSource, conn Connection, connInfo string) error {
	fmt.Printf("Tagbus - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := wire.NewStatistics()
	events := make(chan monitorEvent, 64)

	src.onSync = func(skipped int) {
		if skipped > 0 {
			fmt.Printf("[SYNC] Synchronized after skipping %d invalid frames\n\n", skipped)
		} else {
			fmt.Printf("[SYNC] Synchronized\n\n")
		}
	}
	src.onEvent = func(ev monitorEvent) { events <- ev }

	done := make(chan error, 1)
	go func() { done <- src.run(ctx, conn, connInfo) }()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case ev := <-events:
			recordEvent(stats, ev)
			printEvent(ev, showAll)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-done:
			fmt.Println()
			fmt.Print(stats.String())
			return err
		}
	}
}

func recordEvent(stats *wire.Statistics, ev monitorEvent) {
	stats.Update(ev.frame, ev.decodeErr, ev.anomalies)
	if ev.transfer != nil || ev.transferErr != nil {
		stats.RecordTransfer(ev.transferErr)
	}
}

func printEvent(ev monitorEvent, all bool) {
	now := time.Now()
	timestamp := now.Format("15:04:05.000")

	switch {
	case ev.decodeErr != nil:
		label := "DECODE ERROR"
		if errors.Is(ev.decodeErr, wire.ErrCRCMismatch) {
			label = "CRC ERROR"
		}
		fmt.Printf("[%s] \033[1;31m%s:\033[0m %v\n", timestamp, label, ev.decodeErr)
		fmt.Printf("  >>> FRAME DROPPED <<<\n\n")

	case ev.transferErr != nil:
		fmt.Printf("[%s] \033[1;31mBULK ERROR:\033[0m %v\n\n", timestamp, ev.transferErr)

	case ev.transfer != nil:
		if all {
			printTransfer(ev.transfer, now)
		}

	case len(ev.anomalies) > 0:
		printAnomalies(ev.frame, ev.anomalies)

	case all && ev.frame.Kind == bulk.KindRecord:
		if m, err := ev.frame.Message(); err == nil {
			fmt.Print(endpoint.FormatMessage(m, ev.frame.Timestamp()))
		}
	}
}

// printAnomalies prints the validation errors of a message
func printAnomalies(f *wire.Frame, anomalies []endpoint.ValidationError) {
	m, err := f.Message()
	if err != nil {
		return
	}
	timestamp := f.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) %s -> %s\n", timestamp,
		endpoint.FormatType(m.Type), uint8(m.Type),
		endpoint.FormatEndpoint(m.Source), endpoint.FormatEndpoint(m.Destination))
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, a := range anomalies {
		switch a.Type {
		case endpoint.AnomalyErrorReply:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
			if status, ok := a.Details["status"].(uint32); ok {
				fmt.Printf("    status=0x%08X\n", status)
			}
		case endpoint.AnomalyUnknownType, endpoint.AnomalyInvalidEndpoint:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		}
	}
	fmt.Println()
}

// printTransfer prints a completed bulk transfer. Log reads carry whole
// messages, which are decoded one by one.
func printTransfer(t *bulk.Transfer, now time.Time) {
	fmt.Printf("[%s] BULK %s: %d bytes\n", now.Format("15:04:05.000"), endpoint.FormatEndpoint(t.Endpoint), len(t.Data))
	if !t.Endpoint.IsChain() || len(t.Data)%endpoint.MessageSize != 0 {
		fmt.Printf("  % X\n\n", t.Data)
		return
	}
	for i := 0; i < len(t.Data); i += endpoint.MessageSize {
		m, err := endpoint.DecodeMessage(t.Data[i : i+endpoint.MessageSize])
		if err != nil {
			break
		}
		fmt.Print("  " + endpoint.FormatMessage(m, now))
	}
	fmt.Println()
}
