// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tagbus/pkg/endpoint"
)

func TestNew_RejectsEmptyCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := New[int](capacity)
		assert.ErrorIs(t, err, endpoint.ErrInvalidParam)
	}
}

func TestRing_FIFOAndLIFO(t *testing.T) {
	r, err := New[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 4, r.Cap())

	v, ok := r.PopFIFO()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.PopLIFO()
	require.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = r.PopFIFO()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = r.PopFIFO()
	assert.False(t, ok)
	_, ok = r.PopLIFO()
	assert.False(t, ok)
}

func TestRing_PeekWraps(t *testing.T) {
	r, err := New[int](3)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.Values())

	for i, want := range []int{3, 4, 5} {
		v, ok := r.Peek(i)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := r.Peek(3)
	assert.False(t, ok)
	_, ok = r.Peek(-1)
	assert.False(t, ok)
}

func TestRing_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  OverflowPolicy
		want    []int
		dropped []int
	}{
		{"drop oldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest", DropNewest, []int{1, 2, 5}, []int{3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			r, err := New[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
			)
			require.NoError(t, err)

			evictions := 0
			for i := 1; i <= 5; i++ {
				if r.Push(i) {
					evictions++
				}
			}
			assert.Equal(t, 2, evictions)
			assert.True(t, r.Full())
			assert.Equal(t, tt.want, r.Values())
			assert.Equal(t, tt.dropped, dropped)
		})
	}
}

func TestRing_Clear(t *testing.T) {
	r, err := New[string](2)
	require.NoError(t, err)

	r.Push("a")
	r.Push("b")
	r.Clear()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Values())

	r.Push("c")
	v, ok := r.Peek(0)
	require.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "drop_oldest", DropOldest.String())
	assert.Equal(t, "drop_newest", DropNewest.String())
}
