// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/dsp"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
	"github.com/Thermoquad/tagbus/pkg/wire"
)

var configureTimeout int

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Send configuration requests to a tag",
	Long: `Configure sensors and chain channels on a tag and read their state back.

Every field left at "nochange" keeps the tag's current setting.

Rates accept stop, sample (every sample), single (once), an interval such
as 30s, 5m or 2h, or the raw encoded value. Targets are joined with "+":
adv, gatt, mesh, proprietary, nfc, ram, flash, chain. DSP functions are
last, min, max, average and stdev.

Examples:
  tagbus configure chain 0 --rate sample --target gatt+ram --dsp stdev --dsp-param 8
  tagbus configure upstream 0 acceleration --sample-rate 1s
  tagbus configure read chain_0
  tagbus configure log 0`,
}

// recordFlags collects the fields of a configuration record.
type recordFlags struct {
	sampleRate, rate, resolution, scale, dsp, dspParam, target string
}

func (r *recordFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&r.sampleRate, "sample-rate", "nochange", "Sample rate")
	fs.StringVar(&r.rate, "rate", "nochange", "Transmission rate")
	fs.StringVar(&r.resolution, "resolution", "nochange", "Sensor resolution")
	fs.StringVar(&r.scale, "scale", "nochange", "Sensor scale")
	fs.StringVar(&r.dsp, "dsp", "nochange", "DSP function")
	fs.StringVar(&r.dspParam, "dsp-param", "nochange", "DSP window length (1-255)")
	fs.StringVar(&r.target, "target", "nochange", "Transmission targets")
}

func (r *recordFlags) build() (endpoint.Config, error) {
	cfg := endpoint.NoChange
	var errs []error
	parse := func(dst *uint8, s string, fn func(string) (uint8, error)) {
		v, err := fn(s)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = v
	}
	parse(&cfg.SampleRate, r.sampleRate, endpoint.ParseRate)
	parse(&cfg.TransmissionRate, r.rate, endpoint.ParseRate)
	parse(&cfg.Resolution, r.resolution, parseByte)
	parse(&cfg.Scale, r.scale, parseByte)
	parse(&cfg.DSPFunction, r.dsp, parseDSPFunction)
	parse(&cfg.DSPParameter, r.dspParam, parseByte)

	t, err := endpoint.ParseTarget(r.target)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Target = t
	return cfg, errors.Join(errs...)
}

func parseByte(s string) (uint8, error) {
	if strings.EqualFold(s, "nochange") {
		return endpoint.ValueNoChange, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", s, endpoint.ErrInvalidParam)
	}
	return uint8(n), nil
}

func parseDSPFunction(s string) (uint8, error) {
	for _, f := range []dsp.Function{dsp.FunctionLast, dsp.FunctionMin, dsp.FunctionMax, dsp.FunctionAverage, dsp.FunctionStdev} {
		if strings.EqualFold(s, f.String()) {
			return uint8(f), nil
		}
	}
	return parseByte(s)
}

func parseChannel(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= endpoint.ChainChannels {
		return 0, fmt.Errorf("channel %q must be 0-%d", s, endpoint.ChainChannels-1)
	}
	return n, nil
}

var (
	chainRecord    recordFlags
	upstreamRecord recordFlags
	sensorRecord   recordFlags
)

var configureChainCmd = &cobra.Command{
	Use:   "chain <channel>",
	Short: "Configure a chain channel's DSP, targets and transmission rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := parseChannel(args[0])
		if err != nil {
			return err
		}
		rec, err := chainRecord.build()
		if err != nil {
			return err
		}
		return request(endpoint.NewChainConfigWrite(endpoint.EndpointHost, channel, rec),
			endpoint.TypeChainConfigWrite)
	},
}

var configureUpstreamCmd = &cobra.Command{
	Use:   "upstream <channel> <endpoint>",
	Short: "Bind a chain channel to the endpoint it pulls samples from",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := parseChannel(args[0])
		if err != nil {
			return err
		}
		upstream, err := endpoint.ParseEndpoint(args[1])
		if err != nil {
			return err
		}
		rec, err := upstreamRecord.build()
		if err != nil {
			return err
		}
		return request(endpoint.NewChainUpstreamWrite(endpoint.EndpointHost, channel, upstream, rec),
			endpoint.TypeChainConfigWrite)
	},
}

var configureSensorCmd = &cobra.Command{
	Use:   "sensor <endpoint>",
	Short: "Configure a sensor's sample rate, resolution and scale",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sensor, err := endpoint.ParseEndpoint(args[0])
		if err != nil {
			return err
		}
		rec, err := sensorRecord.build()
		if err != nil {
			return err
		}
		return request(endpoint.NewSensorConfigWrite(endpoint.EndpointHost, sensor, rec),
			endpoint.TypeSensorConfigReply)
	},
}

var configureReadCmd = &cobra.Command{
	Use:   "read <endpoint>",
	Short: "Read the configuration record of a sensor or chain channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := endpoint.ParseEndpoint(args[0])
		if err != nil {
			return err
		}
		if i, ok := target.ChainIndex(); ok {
			return request(endpoint.NewChainConfigRead(endpoint.EndpointHost, i), endpoint.TypeChainConfigWrite)
		}
		return request(endpoint.NewSensorConfigRead(endpoint.EndpointHost, target), endpoint.TypeSensorConfigReply)
	},
}

var configureSampleCmd = &cobra.Command{
	Use:   "sample <endpoint>",
	Short: "Read one sample from a sensor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sensor, err := endpoint.ParseEndpoint(args[0])
		if err != nil {
			return err
		}
		req := endpoint.Message{Destination: sensor, Source: endpoint.EndpointHost, Type: endpoint.TypeSensorDataRead}
		return request(req, endpoint.TypeInt8, endpoint.TypeUint8, endpoint.TypeInt16,
			endpoint.TypeUint16, endpoint.TypeInt32, endpoint.TypeUint32)
	},
}

var configureLogCmd = &cobra.Command{
	Use:   "log <channel>",
	Short: "Read a chain channel's RAM log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel, err := parseChannel(args[0])
		if err != nil {
			return err
		}
		return readLog(channel)
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.PersistentFlags().IntVar(&configureTimeout, "timeout", 5, "Seconds to wait for the reply")

	chainRecord.register(configureChainCmd.Flags())
	upstreamRecord.register(configureUpstreamCmd.Flags())
	sensorRecord.register(configureSensorCmd.Flags())

	configureCmd.AddCommand(configureChainCmd, configureUpstreamCmd, configureSensorCmd,
		configureReadCmd, configureSampleCmd, configureLogCmd)
}

// request sends req and prints the reply of one of the expected types, or
// the error reply.
func request(req endpoint.Message, expect ...endpoint.Type) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Connection: %s\n", s.connInfo)
	fmt.Print(endpoint.FormatMessage(req, time.Now()))

	if err := s.send(req); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	expect = append(expect, endpoint.TypeError, endpoint.TypeUnknown)
	reply, err := s.awaitReply(time.Duration(configureTimeout)*time.Second, req.Destination, expect...)
	if err != nil {
		return err
	}

	fmt.Print(endpoint.FormatMessage(reply, time.Now()))
	switch reply.Type {
	case endpoint.TypeError:
		return fmt.Errorf("request failed: %w", reply.Status())
	case endpoint.TypeUnknown:
		return fmt.Errorf("%s: %w", endpoint.FormatEndpoint(req.Destination), endpoint.ErrInvalidEndpoint)
	}
	return nil
}

// readLog requests a channel's RAM log and prints the messages of the bulk
// transfer that answers it.
func readLog(channel int) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	addr := endpoint.ChainEndpoint(channel)
	if err := s.send(endpoint.NewLogRead(endpoint.EndpointHost, channel)); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	reassembler := bulk.NewReassembler(cfg.Bulk.FramePayloadSize)
	var transfer *bulk.Transfer
	var reply *endpoint.Message
	_, err = s.await(time.Duration(configureTimeout)*time.Second, func(f *wire.Frame) bool {
		if f.Kind == bulk.KindBulk {
			t, err := reassembler.Feed(f.Data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Bulk frame rejected: %v\n", err)
				return false
			}
			if t != nil && t.Endpoint == addr {
				transfer = t
				return true
			}
			return false
		}
		m, err := f.Message()
		if err == nil && m.Source == addr && (m.Type == endpoint.TypeLogRead || m.Type == endpoint.TypeError) {
			reply = &m
			return true
		}
		return false
	}, nil)
	if err != nil {
		return err
	}

	if reply != nil {
		if reply.Type == endpoint.TypeError {
			return fmt.Errorf("log read failed: %w", reply.Status())
		}
		fmt.Printf("%s: log is empty\n", endpoint.FormatEndpoint(addr))
		return nil
	}

	count := len(transfer.Data) / endpoint.MessageSize
	fmt.Printf("%s: %d logged messages (%d bytes)\n\n", endpoint.FormatEndpoint(addr), count, len(transfer.Data))
	now := time.Now()
	for i := 0; i < count; i++ {
		m, err := endpoint.DecodeMessage(transfer.Data[i*endpoint.MessageSize : (i+1)*endpoint.MessageSize])
		if err != nil {
			return err
		}
		fmt.Print(endpoint.FormatMessage(m, now))
	}
	return nil
}
