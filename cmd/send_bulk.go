// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

var (
	sendBulkEndpoint  string
	sendBulkFrameSize int
	sendBulkTimeout   int
)

var sendBulkCmd = &cobra.Command{
	Use:   "send_bulk <file>",
	Short: "Send a file as bulk transfers",
	Long: `Split a file into bulk transfers and send them over the link.

Each transfer is a header frame followed by numbered data frames of
--frame-size bytes. Files larger than one transfer are sent as several
consecutive transfers to the same endpoint.

Useful for exercising a receiver's reassembly, e.g. "tagbus monitor
--show-all" on the other end of the link.`,
	Args: cobra.ExactArgs(1),
	RunE: runSendBulk,
}

func init() {
	rootCmd.AddCommand(sendBulkCmd)
	sendBulkCmd.Flags().StringVar(&sendBulkEndpoint, "endpoint", "chain_0", "Endpoint named in the transfer header")
	sendBulkCmd.Flags().IntVar(&sendBulkFrameSize, "frame-size", bulk.FramePayloadSize, "Data bytes per frame")
	sendBulkCmd.Flags().IntVar(&sendBulkTimeout, "timeout", 30, "Seconds to wait for the link to drain")

	commandFlags["send_bulk"] = map[string]string{
		"bulk.frame_payload_size": "frame-size",
	}
}

func runSendBulk(cmd *cobra.Command, args []string) error {
	ep, err := endpoint.ParseEndpoint(sendBulkEndpoint)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%s is empty", args[0])
	}

	conn, connInfo, err := OpenConnection(cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sendBulkTimeout)*time.Second)
	defer cancel()

	ready := make(chan struct{}, 1)
	link := wire.NewLink(conn,
		wire.WithOutboxSize(cfg.Link.OutboxSize),
		wire.WithLogger(logger.Named("link")),
		wire.WithReadyHook(func() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}))
	go func() { _ = link.Run(ctx) }()

	queue, err := bulk.NewQueue(link,
		bulk.WithFramePayloadSize(cfg.Bulk.FramePayloadSize),
		bulk.WithBulkCapacity(cfg.Bulk.BulkQueueSize),
		bulk.WithLogger(logger.Named("bulk")))
	if err != nil {
		return err
	}

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sending %d bytes to %s in transfers of up to %d bytes\n",
		len(data), endpoint.FormatEndpoint(ep), queue.MaxTransferSize())

	transfers := 0
	for off := 0; off < len(data) || !queue.Idle(); {
		if off < len(data) {
			end := min(off+queue.MaxTransferSize(), len(data))
			err := queue.EnqueueBulk(ep, bulk.NewPayload(data[off:end], nil))
			switch {
			case err == nil:
				off = end
				transfers++
				continue
			case !endpoint.IsTransient(err):
				return err
			}
		}

		if err := queue.Drain(); err != nil && !endpoint.IsTransient(err) {
			return fmt.Errorf("send failed: %w", err)
		}
		if queue.Idle() && off >= len(data) {
			break
		}

		select {
		case <-ready:
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("link did not drain: %w", ctx.Err())
		}
	}

	for link.Pending() > 0 {
		if err := link.Err(); err != nil {
			return err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("link did not drain: %w", ctx.Err())
		}
	}

	logger.Info("Bulk send complete", zap.Int("transfers", transfers), zap.Int("bytes", len(data)))
	fmt.Printf("Sent %d transfers\n", transfers)
	return link.Err()
}
