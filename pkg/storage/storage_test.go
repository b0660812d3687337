// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(0xC0, 1, 8)
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte{1, 2, 3}
	require.NoError(t, s.Set(0xC0, 1, data))
	data[0] = 9 // the store keeps its own copy

	got, err := s.Get(0xC0, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = s.Get(0xC0, 1, 2)
	assert.ErrorIs(t, err, endpoint.ErrTooLarge)

	require.NoError(t, s.Set(0xC0, 7, nil))
	require.NoError(t, s.Set(0xF1, 3, nil))
	assert.Equal(t, []uint16{1, 7}, s.Records(0xC0))
	assert.Equal(t, []uint16{3}, s.Records(0xF1))
	assert.Empty(t, s.Records(0x01))
}

func TestFileStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.cbor")

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(0xC0, 2, []byte{10, 20, 30}))
	require.NoError(t, s.Set(0xF1, 0x0201, []byte{0xAA}))
	require.NoError(t, s.Flush())
	assert.Equal(t, path, s.Path())

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	got, err := reopened.Get(0xC0, 2, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30}, got)
	assert.Equal(t, []uint16{0x0201}, reopened.Records(0xF1))
}

func TestFileStore_SetWaitsForFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.cbor")

	s, err := OpenFile(path)
	require.NoError(t, err)
	assert.False(t, s.Dirty())
	require.NoError(t, s.Flush())
	assert.NoFileExists(t, path, "a clean store writes nothing")

	for seq := uint16(0); seq < 64; seq++ {
		require.NoError(t, s.Set(0xF1, 0x0300|seq, []byte{byte(seq)}))
	}
	assert.True(t, s.Dirty())
	assert.NoFileExists(t, path)

	require.NoError(t, s.Flush())
	assert.False(t, s.Dirty())
	reopened, err := OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, reopened.Records(0xF1), 64)

	// nothing changed, so the file is not rewritten
	require.NoError(t, os.Remove(path))
	require.NoError(t, s.Flush())
	assert.NoFileExists(t, path)
}

func TestFileStore_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.cbor")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0x00, 0x13}, 0o600))

	_, err := OpenFile(path)
	assert.Error(t, err)
}

func TestStoreInterface(t *testing.T) {
	fs, err := OpenFile(filepath.Join(t.TempDir(), "s.cbor"))
	require.NoError(t, err)

	for name, s := range map[string]Store{"memory": NewMemoryStore(), "file": fs} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(1, 1, []byte("abc")))
			got, err := s.Get(1, 1, 3)
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)
		})
	}
}
