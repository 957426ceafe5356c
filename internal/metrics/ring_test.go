package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_PushEvictsOldest(t *testing.T) {
	r := newRing[int](3)
	r.push(1)
	r.push(2)
	r.push(3)
	assert.Equal(t, []int{1, 2, 3}, r.snapshot())

	r.push(4)
	assert.Equal(t, 3, r.len())
	assert.Equal(t, []int{2, 3, 4}, r.snapshot())
}

func TestRing_FrontAndPopFront(t *testing.T) {
	r := newRing[string](2)

	_, ok := r.front()
	require.False(t, ok)

	r.push("a")
	r.push("b")

	v, ok := r.front()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = r.popFront()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, r.len())

	v, ok = r.popFront()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = r.popFront()
	assert.False(t, ok)
}

func TestRing_WrapAround(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	r.popFront() // drops 3
	r.push(6)
	assert.Equal(t, []int{4, 5, 6}, r.snapshot())
}

func TestRing_Clear(t *testing.T) {
	r := newRing[int](4)
	r.push(1)
	r.push(2)
	r.clear()
	assert.Equal(t, 0, r.len())
	assert.Empty(t, r.snapshot())

	r.push(9)
	assert.Equal(t, []int{9}, r.snapshot())
}
