package multichain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestInstance(id string, status ChainStatus) *ChainInstance {
	ci := NewChainInstance(&ChainConfig{ID: id, ChainID: 1}, nil, zap.NewNop())
	ci.status = status
	return ci
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(DefaultManagerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := newTestManager(t)
	inst := newTestInstance("chain-a", StatusRegistered)

	require.NoError(t, m.register(inst))
	assert.ErrorIs(t, m.register(inst), ErrChainAlreadyExists)

	got, err := m.get("chain-a")
	require.NoError(t, err)
	assert.Same(t, inst, got)

	_, err = m.get("missing")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestManagerUnregister(t *testing.T) {
	m := newTestManager(t)
	inst := newTestInstance("chain-a", StatusRegistered)
	require.NoError(t, m.register(inst))

	require.NoError(t, m.unregister("chain-a"))
	assert.ErrorIs(t, m.unregister("chain-a"), ErrChainNotFound)
}

func TestManagerListAndCountByStatus(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.register(newTestInstance("a", StatusActive)))
	require.NoError(t, m.register(newTestInstance("b", StatusSyncing)))
	require.NoError(t, m.register(newTestInstance("c", StatusActive)))

	assert.Equal(t, 3, m.count())
	assert.Equal(t, 2, m.countByStatus(StatusActive))
	assert.Equal(t, 1, m.countByStatus(StatusSyncing))
	assert.Len(t, m.listByStatus(StatusActive), 2)
	assert.True(t, m.exists("a"))
	assert.False(t, m.exists("z"))
}
