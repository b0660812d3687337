// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

type fileRecord struct {
	File   uint16 `cbor:"1,keyasint"`
	Record uint16 `cbor:"2,keyasint"`
	Data   []byte `cbor:"3,keyasint"`
}

type snapshot struct {
	Version uint8        `cbor:"0,keyasint"`
	Records []fileRecord `cbor:"1,keyasint"`
}

const snapshotVersion = 1

// FileStore is a MemoryStore persisted to a CBOR snapshot file. Set only
// updates memory; Flush writes the snapshot when anything changed.
type FileStore struct {
	*MemoryStore
	path  string
	mu    sync.Mutex // serialises snapshot writes, guards dirty
	dirty bool
}

var _ Flusher = (*FileStore)(nil)

// OpenFile loads the snapshot at path, or starts empty when the file does
// not exist yet.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{MemoryStore: NewMemoryStore(), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("store %s has version %d, want %d", path, snap.Version, snapshotVersion)
	}
	for _, r := range snap.Records {
		s.records[key{r.File, r.Record}] = r.Data
	}
	return s, nil
}

// Set stores the record and marks the snapshot stale.
func (s *FileStore) Set(fileID, recordID uint16, data []byte) error {
	if err := s.MemoryStore.Set(fileID, recordID, data); err != nil {
		return err
	}
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Flush rewrites the snapshot if a record changed since the last flush.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	if err := s.write(); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Dirty reports whether records changed since the last flush.
func (s *FileStore) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// write replaces the snapshot file atomically. The caller holds s.mu.
func (s *FileStore) write() error {
	s.MemoryStore.mu.RLock()
	snap := snapshot{Version: snapshotVersion, Records: make([]fileRecord, 0, len(s.records))}
	for k, v := range s.records {
		snap.Records = append(snap.Records, fileRecord{File: k.file, Record: k.record, Data: v})
	}
	s.MemoryStore.mu.RUnlock()

	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
