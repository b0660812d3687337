// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/tagbus/pkg/bulk"
	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	CRCErrors      uint64
	DecodeErrors   uint64
	Records        uint64
	BulkFrames     uint64
	Transfers      uint64
	TransferErrors uint64
	Anomalies      uint64
	ErrorReplies   uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decoded frame, or one decode failure.
func (s *Statistics) Update(frame *Frame, decodeErr error, anomalies []endpoint.ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	s.ValidFrames++
	switch frame.Kind {
	case bulk.KindRecord:
		s.Records++
	case bulk.KindBulk:
		s.BulkFrames++
	}

	for _, a := range anomalies {
		if a.Type == endpoint.AnomalyErrorReply {
			s.ErrorReplies++
		} else {
			s.Anomalies++
		}
	}
}

// RecordTransfer counts a finished or failed bulk reassembly.
func (s *Statistics) RecordTransfer(err error) {
	if err != nil {
		s.TransferErrors++
		return
	}
	s.Transfers++
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors+s.TransferErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))
	result += fmt.Sprintf("  Messages:       %7d\n", s.Records)
	result += fmt.Sprintf("  Bulk Frames:    %7d\n", s.BulkFrames)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.Transfers > 0 || s.TransferErrors > 0 {
		result += fmt.Sprintf("Transfers:       %8d (%d failed)\n", s.Transfers, s.TransferErrors)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}
	if s.ErrorReplies > 0 {
		result += fmt.Sprintf("Error Replies:   %8d\n", s.ErrorReplies)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
