// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package storage provides the tag's persistent key-value store: records
// addressed by a file id and a record id.
package storage

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

// ErrNotFound is returned by Get for a record that was never set.
var ErrNotFound = errors.New("record not found")

// Store is the key-value interface consumed by the bus.
type Store interface {
	// Get returns the record, which is at most size bytes.
	Get(fileID, recordID uint16, size int) ([]byte, error)
	// Set replaces the record.
	Set(fileID, recordID uint16, data []byte) error
}

// Flusher is a Store that buffers writes until Flush.
type Flusher interface {
	Flush() error
}

type key struct {
	file   uint16
	record uint16
}

// MemoryStore keeps records in memory. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[key][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[key][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(fileID, recordID uint16, size int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[key{fileID, recordID}]
	if !ok {
		return nil, fmt.Errorf("file 0x%02X record %d: %w", fileID, recordID, ErrNotFound)
	}
	if len(data) > size {
		return nil, fmt.Errorf("file 0x%02X record %d is %d bytes (buffer %d): %w",
			fileID, recordID, len(data), size, endpoint.ErrTooLarge)
	}
	return slices.Clone(data), nil
}

// Set implements Store.
func (s *MemoryStore) Set(fileID, recordID uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key{fileID, recordID}] = slices.Clone(data)
	return nil
}

// Records returns the record ids stored under fileID in ascending order.
func (s *MemoryStore) Records(fileID uint16) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint16
	for k := range s.records {
		if k.file == fileID {
			ids = append(ids, k.record)
		}
	}
	slices.Sort(ids)
	return ids
}
