// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m Message, ts time.Time) string {
	timestamp := ts.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) %s -> %s\n",
		timestamp, FormatType(m.Type), uint8(m.Type), FormatEndpoint(m.Source), FormatEndpoint(m.Destination))
	return result + FormatPayload(m)
}

// FormatEndpoint returns the human-readable name for an endpoint
func FormatEndpoint(e Endpoint) string {
	if i, ok := e.ChainIndex(); ok {
		return fmt.Sprintf("CHAIN_%d", i)
	}
	switch e {
	case EndpointNone:
		return "NONE"
	case EndpointMAM:
		return "MAM"
	case EndpointBattery:
		return "BATTERY"
	case EndpointRNG:
		return "RNG"
	case EndpointRTC:
		return "RTC"
	case EndpointTemperature:
		return "TEMPERATURE"
	case EndpointHumidity:
		return "HUMIDITY"
	case EndpointPressure:
		return "PRESSURE"
	case EndpointAcceleration:
		return "ACCELERATION"
	case EndpointMagnetometer:
		return "MAGNETOMETER"
	case EndpointGyroscope:
		return "GYROSCOPE"
	case EndpointMovement:
		return "MOVEMENT"
	case EndpointHost:
		return "HOST"
	default:
		return fmt.Sprintf("0x%02X", uint8(e))
	}
}

// FormatType returns the human-readable name for a message type
func FormatType(t Type) string {
	switch t {
	case TypeSensorConfigWrite:
		return "SENSOR_CONFIG_WRITE"
	case TypeSensorConfigRead:
		return "SENSOR_CONFIG_READ"
	case TypeSensorConfigReply:
		return "SENSOR_CONFIG_REPLY"
	case TypeSensorDataRead:
		return "SENSOR_DATA_READ"
	case TypeChainConfigWrite:
		return "CHAIN_CONFIG_WRITE"
	case TypeChainConfigRead:
		return "CHAIN_CONFIG_READ"
	case TypeChainUpstreamWrite:
		return "CHAIN_UPSTREAM_WRITE"
	case TypeChainDownstream:
		return "CHAIN_DOWNSTREAM_CONFIGURATION"
	case TypeLogRead:
		return "LOG_READ"
	case TypeInt8:
		return "INT8"
	case TypeUint8:
		return "UINT8"
	case TypeInt16:
		return "INT16"
	case TypeUint16:
		return "UINT16"
	case TypeInt32:
		return "INT32"
	case TypeUint32:
		return "UINT32"
	case TypeError:
		return "ERROR"
	case TypeUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("TYPE_0x%02X", uint8(t))
	}
}

// FormatTarget lists the sinks named by a target set
func FormatTarget(t Target) string {
	switch t {
	case TargetStop:
		return "stop"
	case TargetNoChange:
		return "no change"
	}
	names := []string{"adv", "gatt", "mesh", "proprietary", "nfc", "ram", "flash", "chain"}
	var parts []string
	for i, bit := range AllTargets {
		if t.Has(bit) {
			parts = append(parts, names[i])
		}
	}
	return strings.Join(parts, "+")
}

// FormatRate describes an encoded rate field
func FormatRate(rate uint8) string {
	switch rate {
	case RateStop:
		return "stop"
	case RateOnSample:
		return "on sample"
	case RateSingle:
		return "single"
	case RateNoChange:
		return "no change"
	}
	d, err := RateInterval(rate)
	if err != nil {
		return fmt.Sprintf("unsupported (%d)", rate)
	}
	return d.String()
}

// FormatConfig formats a configuration record
func FormatConfig(c Config) string {
	return fmt.Sprintf("  Sample: %s, Transmit: %s, Resolution: %d, Scale: %d\n  DSP: 0x%02X/%d, Target: %s\n",
		FormatRate(c.SampleRate), FormatRate(c.TransmissionRate), c.Resolution, c.Scale,
		c.DSPFunction, c.DSPParameter, FormatTarget(c.Target))
}

// FormatPayload formats the payload based on message type
func FormatPayload(m Message) string {
	switch m.Type {
	case TypeSensorConfigWrite, TypeSensorConfigReply, TypeChainConfigWrite, TypeChainDownstream:
		return FormatConfig(m.Config())

	case TypeChainUpstreamWrite:
		cfg := m.Config()
		return fmt.Sprintf("  Upstream: %s\n", FormatEndpoint(Endpoint(cfg.Reserved))) + FormatConfig(cfg)

	case TypeSensorConfigRead, TypeChainConfigRead, TypeSensorDataRead, TypeLogRead:
		return "  (no payload)\n"

	case TypeError:
		return fmt.Sprintf("  Status: %s\n", m.Status())
	}

	if m.Type.IsNumeric() {
		values, n, _ := m.Samples()
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			parts[i] = fmt.Sprintf("%g", values[i])
		}
		return fmt.Sprintf("  Values: [%s]\n", strings.Join(parts, ", "))
	}

	// Default: hex dump
	var sb strings.Builder
	sb.WriteString("  Payload: ")
	for _, b := range m.Payload {
		sb.WriteString(fmt.Sprintf("%02X ", b))
	}
	sb.WriteString("\n")
	return sb.String()
}
