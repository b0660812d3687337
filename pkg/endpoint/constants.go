// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package endpoint defines the tag's internal bus vocabulary: one-byte
// endpoint addresses, message types, the fixed 11-byte message record,
// the 8-byte sensor/chain configuration record, and the status codes
// surfaced to collaborators.
package endpoint

// Endpoint is a one-byte logical address on the bus.
type Endpoint uint8

// Fixed single-purpose endpoints
const (
	EndpointNone         Endpoint = 0x00
	EndpointMAM          Endpoint = 0x2A // masked authenticated messaging
	EndpointBattery      Endpoint = 0x30
	EndpointRNG          Endpoint = 0x31
	EndpointRTC          Endpoint = 0x32
	EndpointTemperature  Endpoint = 0x33
	EndpointHumidity     Endpoint = 0x34
	EndpointPressure     Endpoint = 0x35
	EndpointAcceleration Endpoint = 0x40
	EndpointMagnetometer Endpoint = 0x41
	EndpointGyroscope    Endpoint = 0x42
	EndpointMovement     Endpoint = 0x43
	EndpointHost         Endpoint = 0xF0 // requests issued by host tooling
)

// Chain channel address range
const (
	ChainBase     Endpoint = 0xE0
	ChainChannels          = 16
	ChainLast     Endpoint = ChainBase + ChainChannels - 1
)

// IsChain reports whether e addresses one of the chain channels.
func (e Endpoint) IsChain() bool {
	return e >= ChainBase && e <= ChainLast
}

// ChainIndex returns the channel index for a chain address.
func (e Endpoint) ChainIndex() (int, bool) {
	if !e.IsChain() {
		return 0, false
	}
	return int(e - ChainBase), true
}

// ChainEndpoint returns the address of chain channel index.
func ChainEndpoint(index int) Endpoint {
	return ChainBase + Endpoint(index)
}

// Type identifies how a message payload is interpreted.
type Type uint8

// Configuration and control message types
const (
	TypeSensorConfigWrite  Type = 0x01
	TypeSensorConfigRead   Type = 0x02
	TypeSensorConfigReply  Type = 0x03
	TypeSensorDataRead     Type = 0x04
	TypeChainConfigWrite   Type = 0x10
	TypeChainConfigRead    Type = 0x11
	TypeChainUpstreamWrite Type = 0x12 // config record, byte 7 carries the upstream endpoint
	TypeChainDownstream    Type = 0x13 // chain -> sensor: report into the source channel
	TypeLogRead            Type = 0x14
)

// Numeric payload types
const (
	TypeInt8   Type = 0x20
	TypeUint8  Type = 0x21
	TypeInt16  Type = 0x22
	TypeUint16 Type = 0x23
	TypeInt32  Type = 0x24
	TypeUint32 Type = 0x25
)

// Reply types
const (
	TypeError   Type = 0xFE
	TypeUnknown Type = 0xFF
)

// Known reports whether t is a message type this bus understands.
func (t Type) Known() bool {
	switch t {
	case TypeSensorConfigWrite, TypeSensorConfigRead, TypeSensorConfigReply, TypeSensorDataRead,
		TypeChainConfigWrite, TypeChainConfigRead, TypeChainUpstreamWrite, TypeChainDownstream,
		TypeLogRead, TypeError, TypeUnknown:
		return true
	}
	return t.IsNumeric()
}

// IsNumeric reports whether t carries an array of numeric samples.
func (t Type) IsNumeric() bool {
	return t >= TypeInt8 && t <= TypeUint32
}

// Record field sentinels shared by sensor and chain configuration
const (
	ValueNoChange uint8 = 0xFF
	ValueStop     uint8 = 0x00
)

// Rate encoding for sample and transmission rate fields
const (
	RateStop        uint8 = 0  // disable
	RateSecondsMax  uint8 = 59 // 1-59 seconds
	RateMinutesBase uint8 = 59 // 60-119 => value-59 minutes
	RateMinutesMax  uint8 = 119
	RateHoursBase   uint8 = 119 // 120-249 => value-119 hours
	RateHoursMax    uint8 = 249
	RateOnSample    uint8 = 250 // transmit on every sample
	RateSingle      uint8 = 251 // transmit once, then disarm
	RateNoChange    uint8 = ValueNoChange
)

// Target is a bit set of transmission sinks.
type Target uint8

// Transmission targets
const (
	TargetAdvertisement Target = 1 << 0
	TargetGATT          Target = 1 << 1
	TargetMesh          Target = 1 << 2
	TargetProprietary   Target = 1 << 3
	TargetNFC           Target = 1 << 4
	TargetRAM           Target = 1 << 5
	TargetFlash         Target = 1 << 6
	TargetChain         Target = 1 << 7

	TargetStop     Target = 0
	TargetNoChange Target = 0xFF
)

// AllTargets lists the individual sink bits in fan-out order.
var AllTargets = [...]Target{
	TargetAdvertisement,
	TargetGATT,
	TargetMesh,
	TargetProprietary,
	TargetNFC,
	TargetRAM,
	TargetFlash,
	TargetChain,
}

// Has reports whether every bit of bit is set in t.
func (t Target) Has(bit Target) bool {
	return bit != 0 && t&bit == bit
}

// Sizes of the fixed wire records
const (
	PayloadSize = 8
	MessageSize = 3 + PayloadSize
	ConfigSize  = 8
)
