package fdtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReturnsSmallestFreeIndex(t *testing.T) {
	t.Parallel()

	table := New[string](4)
	for i := 0; i < 4; i++ {
		fd, err := table.OpenFd("v")
		require.NoError(t, err)
		assert.Equal(t, i, fd)
	}

	require.True(t, table.CloseFd(2))
	require.True(t, table.CloseFd(0))

	fd, err := table.OpenFd("w")
	require.NoError(t, err)
	assert.Equal(t, 0, fd)

	fd, err = table.OpenFd("x")
	require.NoError(t, err)
	assert.Equal(t, 2, fd)
}

func TestExhaustion(t *testing.T) {
	t.Parallel()

	table := New[int](2)
	_, err := table.OpenFd(1)
	require.NoError(t, err)
	_, err = table.OpenFd(2)
	require.NoError(t, err)

	_, err = table.OpenFd(3)
	assert.ErrorIs(t, err, ErrNoFreeSlot)

	require.True(t, table.CloseFd(1))
	fd, err := table.OpenFd(4)
	require.NoError(t, err)
	assert.Equal(t, 1, fd)
}

func TestGetHandle(t *testing.T) {
	t.Parallel()

	table := New[string](4)
	fd, err := table.OpenFd("payload")
	require.NoError(t, err)

	v, ok := table.GetHandle(fd)
	require.True(t, ok)
	assert.Equal(t, "payload", v)

	_, ok = table.GetHandle(-1)
	assert.False(t, ok)
	_, ok = table.GetHandle(99)
	assert.False(t, ok)
	_, ok = table.GetHandle(fd + 1)
	assert.False(t, ok)
}

func TestDoubleClose(t *testing.T) {
	t.Parallel()

	table := New[string](4)
	fd, err := table.OpenFd("v")
	require.NoError(t, err)

	assert.True(t, table.CloseFd(fd))
	assert.False(t, table.CloseFd(fd))
	assert.False(t, table.CloseFd(-1))

	_, ok := table.GetHandle(fd)
	assert.False(t, ok)
}

func TestOpenCount(t *testing.T) {
	t.Parallel()

	table := New[int](8)
	assert.Equal(t, 0, table.OpenCount())
	assert.Equal(t, 8, table.Capacity())

	fd1, _ := table.OpenFd(1)
	fd2, _ := table.OpenFd(2)
	assert.Equal(t, 2, table.OpenCount())

	table.CloseFd(fd1)
	table.CloseFd(fd2)
	assert.Equal(t, 0, table.OpenCount())
}
