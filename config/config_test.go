package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.RPCAddress)
	require.Equal(t, "local", cfg.Environment)
	require.Equal(t, "PAYFLOW_RPC_TOKEN", cfg.RPCTokenEnv)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file must be written")

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `RPCAddress = ":9000"
DataDir = "/var/lib/payflow"
Environment = "production"
StreamServiceURL = "https://escrow.internal:8443"
JWTSecretEnv = "PAYFLOW_JWT_SECRET"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.RPCAddress)
	require.Equal(t, "/var/lib/payflow", cfg.DataDir)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, "https://escrow.internal:8443", cfg.StreamServiceURL)
	require.Equal(t, "PAYFLOW_JWT_SECRET", cfg.JWTSecretEnv)
	// Unset fields fall back to defaults.
	require.Equal(t, "PAYFLOW_RPC_TOKEN", cfg.RPCTokenEnv)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAdress = \":9000\"\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestLoadRejectsBadStreamURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("StreamServiceURL = \"escrow.internal:8443\"\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRequiresRPCAddress(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())
	cfg.RPCAddress = ":8545"
	require.NoError(t, cfg.Validate())
}
