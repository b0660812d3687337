// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package endpoint

import (
	"errors"
	"strings"
)

// Status is a bit set of result codes. Statuses from independent
// operations are OR-combined so a caller sees every failure of a partially
// applied request in one value.
type Status uint32

// Status codes surfaced to collaborators. Success is the zero value and is
// reported as a nil error.
const (
	StatusSuccess      Status = 0
	ErrInvalidEndpoint Status = 1 << 0
	ErrNotImplemented  Status = 1 << 1
	ErrNotSupported    Status = 1 << 2
	ErrHandler         Status = 1 << 3
	ErrNoCapacity      Status = 1 << 4
	ErrTooLarge        Status = 1 << 5
	ErrInvalidParam    Status = 1 << 6
	ErrInvalidType     Status = 1 << 7
	ErrBusy            Status = 1 << 8
)

var statusNames = []struct {
	code Status
	name string
}{
	{ErrInvalidEndpoint, "invalid endpoint"},
	{ErrNotImplemented, "not implemented"},
	{ErrNotSupported, "not supported"},
	{ErrHandler, "handler error"},
	{ErrNoCapacity, "no capacity"},
	{ErrTooLarge, "payload too large"},
	{ErrInvalidParam, "invalid parameter"},
	{ErrInvalidType, "invalid message type"},
	{ErrBusy, "busy"},
}

// Error implements the error interface
func (s Status) Error() string {
	if s == StatusSuccess {
		return "success"
	}
	var parts []string
	rest := s
	for _, n := range statusNames {
		if s&n.code != 0 {
			parts = append(parts, n.name)
			rest &^= n.code
		}
	}
	if rest != 0 {
		parts = append(parts, "unknown status")
	}
	return strings.Join(parts, " | ")
}

// Is matches when every flag of target is present in s, so errors.Is works
// against OR-combined statuses.
func (s Status) Is(target error) bool {
	t, ok := target.(Status)
	if !ok || t == StatusSuccess {
		return false
	}
	return s&t == t
}

// Err returns s as an error, or nil for success.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// Combine OR-accumulates the statuses of several operations. Errors that
// carry no status count as ErrHandler and stay reachable through the
// returned error.
func Combine(errs ...error) error {
	var status Status
	var others []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if s, ok := err.(Status); ok {
			status |= s
			continue
		}
		status |= StatusOf(err)
		others = append(others, err)
	}
	if len(others) == 0 {
		return status.Err()
	}
	return errors.Join(append([]error{status}, others...)...)
}

// StatusOf collects every status code reachable from err. A non-nil error
// without any status maps to ErrHandler.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	status := collectStatus(err)
	if status == StatusSuccess {
		return ErrHandler
	}
	return status
}

func collectStatus(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if s, ok := err.(Status); ok {
		return s
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var s Status
		for _, e := range u.Unwrap() {
			s |= collectStatus(e)
		}
		return s
	case interface{ Unwrap() error }:
		return collectStatus(u.Unwrap())
	}
	return StatusSuccess
}

// IsTransient reports whether err means "try again later": a busy
// transport or a full queue.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrNoCapacity)
}
