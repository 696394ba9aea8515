package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPush_NewestFirstAndSaturatingCount(t *testing.T) {
	b := New(3)
	assert.Equal(t, []uint16{0, 0, 0}, b.Values())
	assert.Equal(t, 0, b.ValidCount())

	b.Push(10)
	b.Push(20)
	assert.Equal(t, []uint16{20, 10, 0}, b.Values())
	assert.Equal(t, 2, b.ValidCount())
	assert.False(t, b.Settled())

	b.Push(30)
	b.Push(40)
	assert.Equal(t, []uint16{40, 30, 20}, b.Values())
	assert.Equal(t, 3, b.ValidCount())
	assert.True(t, b.Settled())
}

func TestAverage_OnlyWhenSettled(t *testing.T) {
	b := New(3)
	b.Push(60000)
	b.Push(60000)

	_, ok := b.Average()
	assert.False(t, ok)

	b.Push(60000)
	avg, ok := b.Average()
	assert.True(t, ok)
	assert.InDelta(t, 60000.0, avg, 1e-9)
}

func TestReset_KeepsContents(t *testing.T) {
	b := New(2)
	b.Push(100)
	b.Push(200)
	b.Reset()

	assert.Equal(t, 0, b.ValidCount())
	assert.False(t, b.Settled())
	assert.Equal(t, []uint16{200, 100}, b.Values())

	b.Push(300)
	_, ok := b.Average()
	assert.False(t, ok)

	b.Push(400)
	avg, ok := b.Average()
	assert.True(t, ok)
	assert.InDelta(t, 350.0, avg, 1e-9)
}

func TestNew_MinimumCapacity(t *testing.T) {
	b := New(0)
	assert.Equal(t, 1, b.Capacity())
	b.Push(7)
	avg, ok := b.Average()
	assert.True(t, ok)
	assert.InDelta(t, 7.0, avg, 1e-9)
}

func TestClone_Independent(t *testing.T) {
	b := New(2)
	b.Push(1)
	c := b.Clone()
	b.Push(2)

	assert.Equal(t, []uint16{1, 0}, c.Values())
	assert.Equal(t, 1, c.ValidCount())
	assert.Equal(t, []uint16{2, 1}, b.Values())
}
