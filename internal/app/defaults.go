package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment overrides for the default locations.
const (
	EnvConfigPath = "CLOUDSYNC_CONFIG_PATH"
	EnvHome       = "CLOUDSYNC_HOME"
)

// Paths are the locations used before a config file exists to say otherwise.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// DefaultPaths resolves Paths. CLOUDSYNC_CONFIG_PATH and CLOUDSYNC_HOME take
// precedence, then XDG_CONFIG_HOME and XDG_DATA_HOME, then ~/.config and
// ~/.local/share.
func DefaultPaths() (*Paths, error) {
	configPath, err := resolvePath(EnvConfigPath, "XDG_CONFIG_HOME", ".config", "cloudsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolvePath(EnvHome, "XDG_DATA_HOME", filepath.Join(".local", "share"), "cloudsync")
	if err != nil {
		return nil, err
	}
	return &Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// resolvePath returns $override as is, else $xdg/name when $xdg is absolute
// (relative XDG values are ignored), else ~/homeRel/name.
func resolvePath(override, xdg, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory (set %s): %w", override, err)
	}
	return filepath.Join(home, homeRel, name), nil
}
