package multichain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	require.NotNil(t, cfg)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 5*time.Minute, cfg.MaxUnhealthyDuration)
	assert.True(t, cfg.AutoRestart)
	assert.Equal(t, 30*time.Second, cfg.AutoRestartDelay)
}

func TestDefaultChainConfig(t *testing.T) {
	cfg := DefaultChainConfig()
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, uint64(2000), cfg.PageLimit)
	assert.Equal(t, uint64(64), cfg.FinalityBlockCount)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.RPCTimeout)
}

func TestChainConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChainConfig
		wantErr bool
	}{
		{
			name: "valid config fills in defaults",
			cfg:  ChainConfig{ID: "eth-mainnet", RPCEndpoint: "http://localhost:8545", ChainID: 1},
		},
		{
			name:    "missing id",
			cfg:     ChainConfig{RPCEndpoint: "http://localhost:8545", ChainID: 1},
			wantErr: true,
		},
		{
			name:    "missing rpc endpoint",
			cfg:     ChainConfig{ID: "eth-mainnet", ChainID: 1},
			wantErr: true,
		},
		{
			name:    "missing chain id",
			cfg:     ChainConfig{ID: "eth-mainnet", RPCEndpoint: "http://localhost:8545"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(2000), tc.cfg.PageLimit)
			assert.Equal(t, uint64(64), tc.cfg.FinalityBlockCount)
		})
	}
}

func TestManagerConfigValidateRejectsDuplicateChainIDs(t *testing.T) {
	cfg := &ManagerConfig{
		Enabled: true,
		Chains: []ChainConfig{
			{ID: "a", RPCEndpoint: "http://localhost:8545", ChainID: 1},
			{ID: "a", RPCEndpoint: "http://localhost:8546", ChainID: 2},
		},
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "duplicate")
}

func TestManagerConfigGetEnabledChains(t *testing.T) {
	cfg := &ManagerConfig{
		Chains: []ChainConfig{
			{ID: "a", Enabled: true},
			{ID: "b", Enabled: false},
			{ID: "c", Enabled: true},
		},
	}
	enabled := cfg.GetEnabledChains()
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].ID)
	assert.Equal(t, "c", enabled[1].ID)
}

func TestManagerConfigGetChainByID(t *testing.T) {
	cfg := &ManagerConfig{Chains: []ChainConfig{{ID: "a"}, {ID: "b"}}}
	found := cfg.GetChainByID("b")
	require.NotNil(t, found)
	assert.Equal(t, "b", found.ID)
	assert.Nil(t, cfg.GetChainByID("missing"))
}
