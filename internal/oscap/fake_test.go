package oscap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeOpenOrCreateTracksCreatedAndRefs(t *testing.T) {
	f := NewFake()

	fd1, created, err := f.OpenOrCreate("/region", 16, 0o600, true)
	require.NoError(t, err)
	require.True(t, created)

	fd2, created, err := f.OpenOrCreate("/region", 16, 0o600, false)
	require.NoError(t, err)
	require.False(t, created)
	require.NotEqual(t, fd1, fd2)

	require.NoError(t, f.Close(fd1))
	require.NoError(t, f.Close(fd2))
}

func TestFakeMapGrowsUndersizedRegion(t *testing.T) {
	f := NewFake()
	fd, _, err := f.OpenOrCreate("/small", 4, 0o600, true)
	require.NoError(t, err)

	buf, err := f.Map(fd, 32)
	require.NoError(t, err)
	require.Len(t, buf, 32)
}

func TestFakeUnlinkRemovesRegion(t *testing.T) {
	f := NewFake()
	_, _, err := f.OpenOrCreate("/gone", 8, 0o600, true)
	require.NoError(t, err)

	require.NoError(t, f.Unlink("/gone"))
	_, err = f.GetFileDescriptorFromMemoryPath("/gone")
	require.Error(t, err)
}

func TestFakeTypedMemoryDefaultsTrueAndCanBeMarkedUntyped(t *testing.T) {
	f := NewFake()
	fd, _, err := f.OpenOrCreate("/typed", 8, 0o600, true)
	require.NoError(t, err)

	typed, err := f.IsSharedMemoryTypedFD(fd)
	require.NoError(t, err)
	require.True(t, typed)

	f.MarkUntyped("/typed")
	typed, err = f.IsSharedMemoryTypedFD(fd)
	require.NoError(t, err)
	require.False(t, typed)
}

func TestFakeCloseUnknownFDIsError(t *testing.T) {
	f := NewFake()
	require.Error(t, f.Close(999))
}

func TestFakeACLRoundTrip(t *testing.T) {
	a := NewFakeACL()
	require.NoError(t, a.SetDefaultACL("/foo", 0o640))

	mode, err := a.GetMode("/foo")
	require.NoError(t, err)
	require.Equal(t, 0o640, int(mode))

	_, err = a.GetMode("/never-set")
	require.Error(t, err)
}

func TestFakeDispatchAndProcess(t *testing.T) {
	d := FakeDispatch{}
	addr, err := d.OpenByName("svc")
	require.NoError(t, err)
	require.Equal(t, "svc", addr)
	require.NoError(t, d.CloseByName("svc"))

	p := FakeProcess{PID: 777}
	require.Equal(t, 777, p.Getpid())
}
