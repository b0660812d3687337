// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

var (
	pingTimeout  int
	pingCount    int
	pingEndpoint string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips by reading samples from a sensor",
	Long: `Send SENSOR_DATA_READ requests to a sensor endpoint and wait for the
sample it returns.

This is useful for verifying:
  - The link is established in both directions
  - HTTP Basic authentication works (WebSocket)
  - The tag routes host requests to its sensors

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().StringVar(&pingEndpoint, "endpoint", "temperature", "Sensor endpoint to read")
}

func runPing(cmd *cobra.Command, args []string) error {
	target, err := endpoint.ParseEndpoint(pingEndpoint)
	if err != nil {
		return err
	}

	s, err := openSession(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Tagbus - Ping Test\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Endpoint: %s\n", endpoint.FormatEndpoint(target))
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	req := endpoint.Message{Destination: target, Source: endpoint.EndpointHost, Type: endpoint.TypeSensorDataRead}
	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := s.send(req); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		reply, err := s.awaitReply(time.Duration(pingTimeout)*time.Second, target,
			endpoint.TypeInt8, endpoint.TypeUint8, endpoint.TypeInt16, endpoint.TypeUint16,
			endpoint.TypeInt32, endpoint.TypeUint32, endpoint.TypeError, endpoint.TypeUnknown)
		rtt := time.Since(startTime)

		switch {
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		case reply.Type == endpoint.TypeError:
			fmt.Printf("ERROR reply: %v, rtt=%v\n", reply.Status(), rtt.Round(time.Millisecond))
			failCount++
		case reply.Type == endpoint.TypeUnknown:
			fmt.Printf("UNKNOWN endpoint, rtt=%v\n", rtt.Round(time.Millisecond))
			failCount++
		default:
			fmt.Printf("sample [%s] from %s, rtt=%v\n", formatSamples(reply),
				endpoint.FormatEndpoint(reply.Source), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d samples received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

func formatSamples(m endpoint.Message) string {
	values, n, err := m.Samples()
	if err != nil {
		return "?"
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%g", values[i])
	}
	return strings.Join(parts, " ")
}
