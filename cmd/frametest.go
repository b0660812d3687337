// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tagbus/pkg/wire"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It ignores invalid bytes and waits for a complete frame that passes
the CRC check.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Tagbus - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frameChan := make(chan *wire.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		invalid := 0
		err := wire.ReadFrames(ctx, conn, func(f *wire.Frame, err error) {
			if err != nil {
				invalid++
				return
			}
			if invalid > 0 {
				fmt.Printf("(skipped %d invalid frames before sync)\n", invalid)
				invalid = 0
			}
			select {
			case frameChan <- f:
			default:
			}
			cancel()
		})
		if ctx.Err() == nil {
			if err == nil {
				err = ErrConnectionClosed
			}
			errChan <- err
		}
	}()

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Kind: %s (0x%02X)\n", f.Kind, uint8(f.Kind))
		fmt.Printf("  Length: %d bytes\n", len(f.Data))
		fmt.Printf("  CRC: 0x%04X\n", f.CRC())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
