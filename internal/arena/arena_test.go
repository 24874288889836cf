package arena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocAndFree(t *testing.T) {
	assert := require.New(t)
	base := LiveBytes()

	a := New("session", 0)
	b1, err := a.Alloc(10)
	assert.NoError(err)
	assert.Len(b1, 10)
	b2, err := a.Copy([]byte("hello"))
	assert.NoError(err)
	assert.Equal("hello", string(b2))

	// small allocations come from the same chunk without overlapping
	b1[9] = 'x'
	assert.Equal("hello", string(b2))

	big, err := a.Alloc(chunkSize + 1)
	assert.NoError(err)
	assert.Len(big, chunkSize+1)

	assert.Equal(15+chunkSize+1, a.Used())
	assert.Equal(base+int64(a.Used()), LiveBytes())

	a.Free()
	assert.True(a.Freed())
	assert.Equal(0, a.Used())
	assert.Equal(base, LiveBytes())

	_, err = a.Alloc(1)
	assert.ErrorIs(err, ErrFreed)
	a.Free()
	assert.Equal(base, LiveBytes())
}

func TestLimit(t *testing.T) {
	assert := require.New(t)

	a := New("rpc", 32)
	defer a.Free()

	_, err := a.Alloc(30)
	assert.NoError(err)
	_, err = a.Alloc(3)
	assert.ErrorIs(err, ErrOutOfMemory)
	assert.ErrorIs(a.Hold(struct{}{}, 8), ErrOutOfMemory)
	assert.NoError(a.Hold(struct{}{}, 2))
	assert.Equal(32, a.Used())
}

func TestUserCounting(t *testing.T) {
	assert := require.New(t)
	base := LiveBytes()

	a := New("rpc", 0)
	assert.NoError(a.Hold("decoded", 100))
	a.Acquire()
	assert.Equal(2, a.Users())

	assert.False(a.Release())
	assert.False(a.Freed())
	assert.True(a.Release())
	assert.True(a.Freed())
	assert.False(a.Release())
	assert.Equal(base, LiveBytes())
}
