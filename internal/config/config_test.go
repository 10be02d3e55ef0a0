package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected default log format 'json', got %q", cfg.Log.Format)
	}
	if cfg.Metrics.Namespace != "syncengine" {
		t.Errorf("Expected default metrics namespace 'syncengine', got %q", cfg.Metrics.Namespace)
	}
	if cfg.MultiChain.HealthCheckInterval != 30*time.Second {
		t.Errorf("Expected default health check interval 30s, got %v", cfg.MultiChain.HealthCheckInterval)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: &Config{
				Database: DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:      LogConfig{Level: "info", Format: "json"},
			},
		},
		{
			name: "missing database path",
			config: &Config{
				Log: LogConfig{Level: "info", Format: "json"},
			},
			wantErr: true,
			errMsg:  "database path is required",
		},
		{
			name: "invalid log level",
			config: &Config{
				Database: DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:      LogConfig{Level: "verbose", Format: "json"},
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			config: &Config{
				Database: DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:      LogConfig{Level: "info", Format: "xml"},
			},
			wantErr: true,
		},
		{
			name: "multichain enabled with no chains",
			config: &Config{
				Database:   DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:        LogConfig{Level: "info", Format: "json"},
				MultiChain: MultiChainConfig{Enabled: true},
			},
			wantErr: true,
		},
		{
			name: "chain missing rpc endpoint",
			config: &Config{
				Database: DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:      LogConfig{Level: "info", Format: "json"},
				MultiChain: MultiChainConfig{
					Enabled: true,
					Chains:  []ChainConfig{{ID: "eth-mainnet", ChainID: 1}},
				},
			},
			wantErr: true,
		},
		{
			name: "duplicate chain id",
			config: &Config{
				Database: DatabaseConfig{Path: "/tmp/syncengine-test"},
				Log:      LogConfig{Level: "info", Format: "json"},
				MultiChain: MultiChainConfig{
					Enabled: true,
					Chains: []ChainConfig{
						{ID: "a", RPCEndpoint: "http://localhost:8545", ChainID: 1},
						{ID: "a", RPCEndpoint: "http://localhost:8546", ChainID: 2},
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && tt.errMsg != "" && err.Error() != tt.errMsg {
				t.Errorf("Validate() error message = %q, want %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SYNCENGINE_DB_PATH", "/data/syncengine")
	os.Setenv("SYNCENGINE_LOG_LEVEL", "debug")
	os.Setenv("SYNCENGINE_LOG_FORMAT", "console")
	os.Setenv("SYNCENGINE_METRICS_ENABLED", "true")
	os.Setenv("SYNCENGINE_METRICS_NAMESPACE", "custom")
	os.Setenv("SYNCENGINE_MULTICHAIN_ENABLED", "true")
	defer func() {
		os.Unsetenv("SYNCENGINE_DB_PATH")
		os.Unsetenv("SYNCENGINE_LOG_LEVEL")
		os.Unsetenv("SYNCENGINE_LOG_FORMAT")
		os.Unsetenv("SYNCENGINE_METRICS_ENABLED")
		os.Unsetenv("SYNCENGINE_METRICS_NAMESPACE")
		os.Unsetenv("SYNCENGINE_MULTICHAIN_ENABLED")
	}()

	cfg := NewConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Database.Path != "/data/syncengine" {
		t.Errorf("Expected database path '/data/syncengine', got %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("Expected log format 'console', got %q", cfg.Log.Format)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
	if cfg.Metrics.Namespace != "custom" {
		t.Errorf("Expected metrics namespace 'custom', got %q", cfg.Metrics.Namespace)
	}
	if !cfg.MultiChain.Enabled {
		t.Error("Expected multichain enabled")
	}
}

func TestLoadFromEnvChainEndpointOverride(t *testing.T) {
	os.Setenv("SYNCENGINE_CHAIN_ETH_MAINNET_RPC_ENDPOINT", "http://override:8545")
	defer os.Unsetenv("SYNCENGINE_CHAIN_ETH_MAINNET_RPC_ENDPOINT")

	cfg := NewConfig()
	cfg.MultiChain.Chains = []ChainConfig{{ID: "eth_mainnet", RPCEndpoint: "http://file:8545", ChainID: 1}}

	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.MultiChain.Chains[0].RPCEndpoint != "http://override:8545" {
		t.Errorf("Expected overridden rpc endpoint, got %q", cfg.MultiChain.Chains[0].RPCEndpoint)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: /tmp/test-db
  readonly: false

log:
  level: warn
  format: json

multichain:
  enabled: true
  chains:
    - id: eth-mainnet
      rpc_endpoint: http://localhost:9545
      chain_id: 1
      enabled: true
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test-db" {
		t.Errorf("Expected database path '/tmp/test-db', got %q", cfg.Database.Path)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %q", cfg.Log.Level)
	}
	if len(cfg.MultiChain.Chains) != 1 || cfg.MultiChain.Chains[0].RPCEndpoint != "http://localhost:9545" {
		t.Errorf("Expected one chain with rpc endpoint 'http://localhost:9545', got %+v", cfg.MultiChain.Chains)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent file, got nil")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
database:
  path: "/tmp/test-db
`
	if err := os.WriteFile(configFile, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("Failed to write invalid config file: %v", err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromFile(configFile); err == nil {
		t.Error("Expected error when loading invalid YAML, got nil")
	}
}

func TestSetDefaultsFillsChainConfig(t *testing.T) {
	cfg := &Config{MultiChain: MultiChainConfig{Chains: []ChainConfig{{ID: "a"}}}}
	cfg.SetDefaults()

	cc := cfg.MultiChain.Chains[0]
	if cc.PageLimit != 2000 {
		t.Errorf("Expected default page limit 2000, got %d", cc.PageLimit)
	}
	if cc.FinalityBlockCount != 64 {
		t.Errorf("Expected default finality block count 64, got %d", cc.FinalityBlockCount)
	}
	if cc.PollInterval != 3*time.Second {
		t.Errorf("Expected default poll interval 3s, got %v", cc.PollInterval)
	}
	if cc.RPCTimeout != 30*time.Second {
		t.Errorf("Expected default rpc timeout 30s, got %v", cc.RPCTimeout)
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  path: /tmp/test-db

log:
  level: info
  format: json
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/test-db" {
		t.Errorf("Expected database path '/tmp/test-db', got %q", cfg.Database.Path)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
multichain:
  enabled: true
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error when loading invalid config, got nil")
	}
}

func TestLoadWithEmptyFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Expected error when loading with no config and no env vars, got nil")
	}
}

func TestToMultichainConfig(t *testing.T) {
	mcc := &MultiChainConfig{
		Enabled: true,
		Chains: []ChainConfig{
			{ID: "a", RPCEndpoint: "http://localhost:8545", ChainID: 1, Enabled: true},
		},
		HealthCheckInterval: 45 * time.Second,
	}
	mc := mcc.ToManagerConfig()
	if !mc.Enabled {
		t.Error("Expected manager config enabled")
	}
	if len(mc.Chains) != 1 || mc.Chains[0].ID != "a" {
		t.Errorf("Expected one chain 'a', got %+v", mc.Chains)
	}
	if mc.HealthCheckInterval != 45*time.Second {
		t.Errorf("Expected health check interval 45s, got %v", mc.HealthCheckInterval)
	}
}
