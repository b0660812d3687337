// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// ErrIncompleteEscape is returned when stuffed data ends on an ESC byte.
var ErrIncompleteEscape = errors.New("incomplete escape sequence at end of data")

// Encode returns the wire frame carrying data.
func Encode(kind bulk.Kind, data []byte) ([]byte, error) {
	return AppendEncode(nil, kind, data)
}

// AppendEncode appends the wire frame carrying data to b.
func AppendEncode(b []byte, kind bulk.Kind, data []byte) ([]byte, error) {
	if len(data) > MaxDataSize {
		return b, fmt.Errorf("frame data %d bytes (max %d): %w", len(data), MaxDataSize, endpoint.ErrTooLarge)
	}

	body := make([]byte, 0, overheadSize+len(data))
	body = append(body, byte(kind), byte(len(data)))
	body = append(body, data...)
	crc := CalculateCRC(body)
	body = append(body, byte(crc>>8), byte(crc&0xFF))

	b = append(b, StartByte)
	b = appendStuffed(b, body)
	return append(b, EndByte), nil
}

// EncodeMessage frames one bus message as a record.
func EncodeMessage(m endpoint.Message) []byte {
	frame, _ := Encode(bulk.KindRecord, m.Encode())
	return frame
}

// appendStuffed escapes START, END and ESC bytes of data onto b.
func appendStuffed(b, data []byte) []byte {
	for _, c := range data {
		if c == StartByte || c == EndByte || c == EscByte {
			b = append(b, EscByte, c^EscXor)
		} else {
			b = append(b, c)
		}
	}
	return b
}

// StuffBytes applies byte stuffing to data.
func StuffBytes(data []byte) []byte {
	return appendStuffed(make([]byte, 0, len(data)*2), data)
}

// UnstuffBytes removes byte stuffing. It is the inverse of StuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false
	for _, b := range data {
		switch {
		case escapeNext:
			result = append(result, b^EscXor)
			escapeNext = false
		case b == EscByte:
			escapeNext = true
		default:
			result = append(result, b)
		}
	}
	if escapeNext {
		return nil, ErrIncompleteEscape
	}
	return result, nil
}
