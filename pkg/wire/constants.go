// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire frames bus traffic for the host link. Each frame is
//
//	START | stuff(kind, length, data, crc16) | END
//
// where kind is a bulk.Kind, the CRC-16-CCITT covers kind, length and data
// and is sent big-endian, and START, END and ESC inside the frame are
// escaped as ESC followed by the byte XOR 0x20.
package wire

// Framing bytes
const (
	StartByte byte = 0x7E
	EndByte   byte = 0x7F
	EscByte   byte = 0x7D
	EscXor    byte = 0x20
)

// Frame geometry
const (
	MaxDataSize  = 255 // length is a single byte
	overheadSize = 4   // kind, length, crc16
	MaxFrameSize = overheadSize + MaxDataSize
)

// CRC-16-CCITT parameters
const (
	crcPolynomial uint16 = 0x1021
	crcInitial    uint16 = 0xFFFF
)

// Decoder states
const (
	stateIdle = iota
	stateKind
	stateLength
	stateData
	stateCRC1
	stateCRC2
	stateEnd
)
