// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bulk

import (
	"fmt"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Frame geometry
const (
	FramePayloadSize = 18 // data bytes per frame on the radio link
	MaxChunks        = 255
	MaxTransferSize  = MaxChunks * FramePayloadSize

	HeaderIndex    = 0xFF // chunk index of a header frame; cursor value before the header is sent
	HeaderSize     = 4    // endpoint, index, count, checksum
	DataHeaderSize = 2    // endpoint, index
)

// Kind tells the transport what a frame carries.
type Kind uint8

// Frame kinds
const (
	KindRecord Kind = 0x01 // one encoded endpoint.Message
	KindBulk   Kind = 0x02 // bulk header or data frame
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindRecord:
		return "record"
	case KindBulk:
		return "bulk"
	default:
		return fmt.Sprintf("kind(0x%02X)", uint8(k))
	}
}

// Header is the first frame of a bulk transfer.
type Header struct {
	Endpoint endpoint.Endpoint
	Count    uint8
	Checksum uint8 // reserved, always zero
}

// Encode returns the 4-byte header frame.
func (h Header) Encode() [HeaderSize]byte {
	return [HeaderSize]byte{byte(h.Endpoint), HeaderIndex, h.Count, h.Checksum}
}

// AppendData appends a data frame carrying chunk to b.
func AppendData(b []byte, ep endpoint.Endpoint, index uint8, chunk []byte) []byte {
	b = append(b, byte(ep), index)
	return append(b, chunk...)
}

// Chunks returns the number of data frames needed for length bytes.
func Chunks(length, frameSize int) int {
	return (length + frameSize - 1) / frameSize
}

// IsHeader reports whether frame is a header frame.
func IsHeader(frame []byte) bool {
	return len(frame) == HeaderSize && frame[1] == HeaderIndex
}
