package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/fault"
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession()
	assert.Equal(t, StateUninitialized, s.State())

	require.NoError(t, s.BeginInitialize())
	assert.Equal(t, StateInitializing, s.State())

	require.NoError(t, s.MarkReady())
	assert.Equal(t, StateReady, s.State())
	assert.NoError(t, s.Require())

	require.NoError(t, s.BeginShutdown())
	assert.Equal(t, StateShuttingDown, s.State())
}

func TestSessionRequireBeforeReady(t *testing.T) {
	s := NewSession()
	err := s.Require()
	require.Error(t, err)
	assert.Equal(t, fault.Session, fault.CategoryOf(err))
	assert.Contains(t, err.Error(), "SessionNotReady")
	assert.Contains(t, err.Error(), "UNINITIALIZED")
}

func TestSessionDoubleInitialize(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.BeginInitialize())

	err := s.BeginInitialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InitializeInFlight")

	require.NoError(t, s.MarkReady())
	err = s.BeginInitialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AlreadyInitialized")
}

func TestSessionFailAndReset(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.BeginInitialize())

	cause := errors.New("engine instantiation failed")
	s.Fail(cause)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, cause, s.LastError())

	// Only Reset leaves FAILED.
	assert.Error(t, s.BeginInitialize())
	require.NoError(t, s.Reset())
	assert.Equal(t, StateUninitialized, s.State())
	assert.Nil(t, s.LastError())
	require.NoError(t, s.BeginInitialize())
}

func TestShutdownIsTerminal(t *testing.T) {
	s := NewSession()
	require.NoError(t, s.BeginInitialize())
	require.NoError(t, s.MarkReady())
	require.NoError(t, s.BeginShutdown())

	assert.Error(t, s.BeginInitialize())
	assert.Error(t, s.MarkReady())
	assert.Error(t, s.Reset())
}
