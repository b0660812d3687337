// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parsers for command line values. Each accepts a plain number (decimal or
// 0x-prefixed) as well as the names used by the formatters.

func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "")
}

// ParseEndpoint parses an endpoint name ("temperature", "chain_3", "host")
// or address.
func ParseEndpoint(s string) (Endpoint, error) {
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		return Endpoint(n), nil
	}
	want := normalize(s)
	for e := 0; e <= 0xFF; e++ {
		if normalize(FormatEndpoint(Endpoint(e))) == want {
			return Endpoint(e), nil
		}
	}
	return 0, fmt.Errorf("unknown endpoint %q: %w", s, ErrInvalidParam)
}

var targetNames = map[string]Target{
	"adv":           TargetAdvertisement,
	"advertisement": TargetAdvertisement,
	"gatt":          TargetGATT,
	"mesh":          TargetMesh,
	"proprietary":   TargetProprietary,
	"nfc":           TargetNFC,
	"ram":           TargetRAM,
	"flash":         TargetFlash,
	"chain":         TargetChain,
}

// ParseTarget parses a target set such as "gatt+ram", "stop" or "0x22".
func ParseTarget(s string) (Target, error) {
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		return Target(n), nil
	}
	switch normalize(s) {
	case "stop", "none":
		return TargetStop, nil
	case "nochange", "no-change":
		return TargetNoChange, nil
	}
	var t Target
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' }) {
		bit, ok := targetNames[normalize(part)]
		if !ok {
			return 0, fmt.Errorf("unknown target %q: %w", part, ErrInvalidParam)
		}
		t |= bit
	}
	if t == TargetStop {
		return 0, fmt.Errorf("empty target %q: %w", s, ErrInvalidParam)
	}
	return t, nil
}

// ParseRate parses a rate field: "stop", "sample", "single", "nochange",
// an interval such as "30s" or "2h", or a raw encoded value.
func ParseRate(s string) (uint8, error) {
	if n, err := strconv.ParseUint(s, 0, 8); err == nil {
		return uint8(n), nil
	}
	switch normalize(s) {
	case "stop":
		return RateStop, nil
	case "sample", "onsample", "on-sample":
		return RateOnSample, nil
	case "single", "once":
		return RateSingle, nil
	case "nochange", "no-change":
		return RateNoChange, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("rate %q: %w", s, ErrInvalidParam)
	}
	return EncodeRate(d)
}
