package client

import (
	"testing"

	"github.com/srg/hrmon/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readable(id uint16) *device.CharacteristicDescriptor {
	return &device.CharacteristicDescriptor{UUID: device.UUID16(id), Properties: device.PropRead}
}

func TestReadQueue_SingleInFlight(t *testing.T) {
	q := NewReadQueue()
	a, b, c := readable(0x2a38), readable(0x2a29), readable(0x2a19)
	q.Enqueue(a, b, c)

	first, ok := q.DrainNext()
	require.True(t, ok)
	assert.Same(t, a, first)

	_, ok = q.DrainNext()
	assert.False(t, ok, "second read MUST wait for the first to complete")
	assert.Same(t, a, q.InFlight())
	assert.Equal(t, 2, q.Len())

	require.True(t, q.Complete(a))
	second, ok := q.DrainNext()
	require.True(t, ok)
	assert.Same(t, b, second, "reads MUST drain in FIFO order")

	require.True(t, q.Complete(b))
	third, ok := q.DrainNext()
	require.True(t, ok)
	assert.Same(t, c, third)

	require.True(t, q.Complete(c))
	_, ok = q.DrainNext()
	assert.False(t, ok)
	assert.Nil(t, q.InFlight())
}

func TestReadQueue_CompleteIgnoresOtherReads(t *testing.T) {
	q := NewReadQueue()
	a, b := readable(0x2a38), readable(0x2a19)
	q.Enqueue(a, b)
	q.DrainNext()

	assert.False(t, q.Complete(b), "completion of a read not in flight MUST be ignored")
	assert.False(t, q.Complete(readable(0x2a38)), "completion MUST match the in-flight descriptor itself")
	assert.Same(t, a, q.InFlight())
}

func TestReadQueue_ReplaceDiscardsInFlight(t *testing.T) {
	q := NewReadQueue()
	stale := readable(0x2a38)
	q.Enqueue(stale)
	q.DrainNext()

	fresh := readable(0x2a19)
	q.Replace([]*device.CharacteristicDescriptor{fresh})

	assert.False(t, q.Complete(stale), "completion of a replaced read MUST be ignored")
	next, ok := q.DrainNext()
	require.True(t, ok)
	assert.Same(t, fresh, next)
}

func TestReadQueue_Clear(t *testing.T) {
	q := NewReadQueue()
	q.Enqueue(readable(0x2a38), readable(0x2a19))
	q.DrainNext()

	q.Clear()

	assert.Zero(t, q.Len())
	assert.Nil(t, q.InFlight())
	_, ok := q.DrainNext()
	assert.False(t, ok)
}
