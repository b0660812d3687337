// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyUnsupportedRate
	AnomalyInvalidUpstream
	AnomalyInvalidEndpoint
	AnomalyErrorReply
)

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage checks a message for values the tag would reject.
// Returns a slice of validation errors (empty if the message is valid)
func ValidateMessage(m Message) []ValidationError {
	errors := []ValidationError{}

	if !m.Type.Known() {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("Unknown message type 0x%02X", uint8(m.Type)),
			Details: map[string]interface{}{"type": uint8(m.Type)},
		})
	}

	switch m.Type {
	case TypeChainConfigWrite, TypeChainConfigRead, TypeLogRead:
		if !m.Destination.IsChain() {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidEndpoint,
				Message: fmt.Sprintf("%s addressed to non-chain endpoint %s", FormatType(m.Type), FormatEndpoint(m.Destination)),
				Details: map[string]interface{}{"destination": uint8(m.Destination)},
			})
		}
		if m.Type == TypeChainConfigWrite {
			errors = append(errors, validateConfig(m.Config())...)
		}

	case TypeChainUpstreamWrite:
		cfg := m.Config()
		upstream := Endpoint(cfg.Reserved)
		if upstream == EndpointNone || upstream == m.Destination {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidUpstream,
				Message: fmt.Sprintf("Invalid upstream endpoint %s", FormatEndpoint(upstream)),
				Details: map[string]interface{}{"upstream": uint8(upstream)},
			})
		}
		errors = append(errors, validateConfig(cfg)...)

	case TypeSensorConfigWrite, TypeChainDownstream:
		errors = append(errors, validateConfig(m.Config())...)

	case TypeError:
		errors = append(errors, ValidationError{
			Type:    AnomalyErrorReply,
			Message: fmt.Sprintf("Error reply from %s: %s", FormatEndpoint(m.Source), m.Status()),
			Details: map[string]interface{}{"status": uint32(m.Status())},
		})
	}

	return errors
}

// validateConfig flags rate fields in the reserved 252-254 range
func validateConfig(c Config) []ValidationError {
	errors := []ValidationError{}
	fields := []struct {
		name string
		rate uint8
	}{
		{"sample_rate", c.SampleRate},
		{"transmission_rate", c.TransmissionRate},
	}
	for _, f := range fields {
		name, rate := f.name, f.rate
		if rate > RateSingle && rate != RateNoChange {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnsupportedRate,
				Message: fmt.Sprintf("Unsupported %s=%d", name, rate),
				Details: map[string]interface{}{name: rate},
			})
		}
	}
	return errors
}
