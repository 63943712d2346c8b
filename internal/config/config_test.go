package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	cfg := m.GetConfig()
	require.Equal(t, "./virtualStorage", cfg.ImagePath)
	require.Equal(t, uint16(10), cfg.BlockSize)
	require.Equal(t, uint16(128), cfg.BlockCount)
	require.Empty(t, cfg.MountPoint)
	require.False(t, cfg.DebugMode)
}

func TestJSONOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"imagePath": "/tmp/image",
		"blockSize": 64,
		"debugMode": true
	}`), 0600))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.GetConfig()
	require.Equal(t, "/tmp/image", cfg.ImagePath)
	require.Equal(t, uint16(64), cfg.BlockSize)
	require.True(t, cfg.DebugMode)

	// Untouched keys keep their defaults.
	require.Equal(t, uint16(128), cfg.BlockCount)
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blockCount: 512\nmountPoint: /mnt/vfs\n"), 0600))

	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.GetConfig()
	require.Equal(t, uint16(512), cfg.BlockCount)
	require.Equal(t, "/mnt/vfs", cfg.MountPoint)
}

func TestUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0600))

	_, err := NewManager(path)
	require.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := NewManager(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
