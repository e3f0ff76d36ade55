package energy

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New(-1, 0)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(10, 11)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(10, -1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestPushReturnsRemainder(t *testing.T) {
	c, err := New(100, 90)
	assert.NilError(t, err)

	rem := c.Push(4)
	assert.Equal(t, rem, 0.0)
	assert.Equal(t, c.Amount(), 94.0)

	rem = c.Push(10)
	assert.Equal(t, rem, 4.0)
	assert.Equal(t, c.Amount(), 100.0)
	assert.Equal(t, c.Headroom(), 0.0)
}

func TestPullReturnsSupplied(t *testing.T) {
	c, err := New(100, 30)
	assert.NilError(t, err)

	got := c.Pull(20)
	assert.Equal(t, got, 20.0)
	assert.Equal(t, c.Amount(), 10.0)

	got = c.Pull(50)
	assert.Equal(t, got, 10.0)
	assert.Equal(t, c.Amount(), 0.0)
}

func TestNegativeRequestsAreIgnored(t *testing.T) {
	c, err := New(100, 50)
	assert.NilError(t, err)

	assert.Equal(t, c.Push(-5), 0.0)
	assert.Equal(t, c.Pull(-5), 0.0)
	assert.Equal(t, c.Amount(), 50.0)
}

func TestSOC(t *testing.T) {
	c, _ := New(200, 50)
	assert.Equal(t, c.SOC(), 0.25)

	empty, _ := New(0, 0)
	assert.Equal(t, empty.SOC(), 0.0)
}
