// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

var (
	discoverTimeout int
	discoverChains  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the endpoints a tag answers for",
	Long: `Send a configuration read to every fixed sensor address, and with
--chains to every chain channel, then list the endpoints that answered.

Endpoints the tag has no handler for answer with an UNKNOWN reply and are
listed as absent.

Exit codes:
  0 - Discovery successful (at least one endpoint answered)
  1 - Discovery failed (no endpoints or timeout)
  2 - Connection error`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", 3, "Timeout in seconds for discovery")
	discoverCmd.Flags().BoolVar(&discoverChains, "chains", true, "Also read all chain channels")
}

var fixedEndpoints = []endpoint.Endpoint{
	endpoint.EndpointBattery,
	endpoint.EndpointRNG,
	endpoint.EndpointRTC,
	endpoint.EndpointTemperature,
	endpoint.EndpointHumidity,
	endpoint.EndpointPressure,
	endpoint.EndpointAcceleration,
	endpoint.EndpointMagnetometer,
	endpoint.EndpointGyroscope,
	endpoint.EndpointMovement,
}

// discoverRequests returns one configuration read per probed address.
func discoverRequests(chains bool) []endpoint.Message {
	reqs := make([]endpoint.Message, 0, len(fixedEndpoints)+endpoint.ChainChannels)
	for _, ep := range fixedEndpoints {
		reqs = append(reqs, endpoint.NewSensorConfigRead(endpoint.EndpointHost, ep))
	}
	if chains {
		for i := 0; i < endpoint.ChainChannels; i++ {
			reqs = append(reqs, endpoint.NewChainConfigRead(endpoint.EndpointHost, i))
		}
	}
	return reqs
}

func runDiscover(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	reqs := discoverRequests(discoverChains)

	fmt.Printf("Tagbus - Endpoint Discovery\n")
	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Printf("Probing %d endpoints, timeout %d seconds\n\n", len(reqs), discoverTimeout)

	pending := make(map[endpoint.Endpoint]bool, len(reqs))
	for _, req := range reqs {
		if err := s.send(req); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}
		pending[req.Destination] = true
	}

	found := 0
	deadline := time.Now().Add(time.Duration(discoverTimeout) * time.Second)
	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		f, err := s.await(remaining, func(f *wire.Frame) bool {
			m, err := f.Message()
			return err == nil && m.Destination == endpoint.EndpointHost && pending[m.Source]
		}, nil)
		if errors.Is(err, ErrTimeout) {
			break
		}
		if err != nil {
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)
		}

		m, _ := f.Message()
		delete(pending, m.Source)
		switch m.Type {
		case endpoint.TypeUnknown:
			continue
		case endpoint.TypeError:
			fmt.Printf("%-14s error: %v\n", endpoint.FormatEndpoint(m.Source), m.Status())
		default:
			fmt.Printf("%s\n%s", endpoint.FormatEndpoint(m.Source), endpoint.FormatConfig(m.Config()))
		}
		found++
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Endpoints found: %d\n", found)
	if len(pending) > 0 {
		fmt.Printf("No reply from %d endpoints\n", len(pending))
	}

	if found == 0 {
		fmt.Printf("No endpoints discovered. Check connection and that the tag is running.\n")
		os.Exit(1)
	}
	return nil
}
