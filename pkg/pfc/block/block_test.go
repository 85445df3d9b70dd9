package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeIO struct {
	loc     string
	healthy bool
}

func (f fakeIO) Location() string { return f.loc }
func (f fakeIO) IsHealthy() bool  { return f.healthy }

func TestBlockLifecycle(t *testing.T) {
	b := New(2, 2<<20, 1<<20, 1<<20, false)
	require.False(t, b.IsFinished())

	b.IncRef()
	require.EqualValues(t, 1, b.RefCount())

	b.SetDownloaded(make([]byte, 1<<20))
	require.True(t, b.IsFinished())
	require.True(t, b.IsOK())
	require.False(t, b.IsFailed())

	b.DecRef()
	require.EqualValues(t, 0, b.RefCount())
}

func TestBlockErrorAndRebind(t *testing.T) {
	b := New(0, 0, 1<<20, 1<<20, true)
	io1 := fakeIO{loc: "io1", healthy: true}
	b.ResetErrorAndSetIO(io1)
	b.SetError(-5)
	require.True(t, b.IsFailed())
	require.False(t, b.IsOK())
	require.Equal(t, io1, b.LastIO())

	io2 := fakeIO{loc: "io2", healthy: true}
	b.ResetErrorAndSetIO(io2)
	require.False(t, b.IsFailed())
	require.Equal(t, io2, b.LastIO())
}
