package scope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedFnInvokesWhileLive(t *testing.T) {
	s := New()
	calls := 0
	fn := s.Bind(func() { calls++ })

	require.True(t, fn.Invoke())
	require.True(t, fn.Invoke())
	require.Equal(t, 2, calls)
}

func TestScopedFnSkipsAfterExpire(t *testing.T) {
	s := New()
	calls := 0
	fn := s.Bind(func() { calls++ })

	s.Expire()
	require.False(t, fn.Invoke())
	require.Equal(t, 0, calls)
	require.True(t, s.IsExpired())
}

func TestMultipleScopedFnsShareScope(t *testing.T) {
	s := New()
	var aCalled, bCalled bool
	a := s.Bind(func() { aCalled = true })
	b := s.Bind(func() { bCalled = true })

	s.Expire()
	a.Invoke()
	b.Invoke()
	require.False(t, aCalled)
	require.False(t, bCalled)
}
