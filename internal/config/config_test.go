package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenttunnel/gateway/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "PublicViewer", cfg.PublicViewerTunnel)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENTTUNNEL_PORT", "9090")
	t.Setenv("AGENTTUNNEL_LOG_FORMAT", "json")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_YAMLFileOverridesEnv(t *testing.T) {
	t.Setenv("AGENTTUNNEL_PORT", "9090")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7070\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
}

func TestValidate_RejectsBadPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 70000}`), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}
