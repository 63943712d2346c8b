// Package config loads blockvfs configuration from built-in defaults and an
// optional JSON or YAML file.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config holds the runtime configuration of a blockvfs instance.
type Config struct {
	ImagePath  string `key:"imagePath" json:"image_path"`
	BlockSize  uint16 `key:"blockSize" json:"block_size"`
	BlockCount uint16 `key:"blockCount" json:"block_count"`
	MountPoint string `key:"mountPoint" json:"mount_point"`
	DebugMode  bool   `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool   `key:"prettyLogs" json:"pretty_logs"`
}

var defaultConfig = []byte(`{
	"imagePath": "./virtualStorage",
	"blockSize": 10,
	"blockCount": 128,
	"mountPoint": "",
	"debugMode": false,
	"prettyLogs": false
}`)

// Manager loads and hands out the configuration.
type Manager struct {
	k   *koanf.Koanf
	cfg Config
}

// NewManager builds a configuration from the built-in defaults, overlaid with
// the given config file if path is non-empty. JSON and YAML files are
// supported, chosen by file extension.
func NewManager(path string) (*Manager, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfig), json.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		parser, err := parserForPath(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	m := &Manager{k: k}
	if err := k.UnmarshalWithConf("", &m.cfg, koanf.UnmarshalConf{Tag: "key"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return m, nil
}

// GetConfig returns the loaded configuration.
func (m *Manager) GetConfig() Config {
	return m.cfg
}

func parserForPath(path string) (koanf.Parser, error) {
	switch filepath.Ext(path) {
	case ".json":
		return json.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", filepath.Ext(path))
	}
}
