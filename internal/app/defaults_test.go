package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		name       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name: "explicit overrides",
			env: map[string]string{
				EnvConfigPath:     "/custom/config.toml",
				EnvHome:           "/custom/cloudsync",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/custom/config.toml",
			wantBase:   "/custom/cloudsync",
		},
		{
			name: "xdg directories",
			env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			wantConfig: "/xdg/config/cloudsync.toml",
			wantBase:   "/xdg/data/cloudsync",
		},
		{
			name: "relative xdg ignored",
			env: map[string]string{
				"XDG_CONFIG_HOME": "relative/config",
			},
			wantConfig: filepath.Join(home, ".config", "cloudsync.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "cloudsync"),
		},
		{
			name:       "home fallback",
			wantConfig: filepath.Join(home, ".config", "cloudsync.toml"),
			wantBase:   filepath.Join(home, ".local", "share", "cloudsync"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, name := range []string{EnvConfigPath, EnvHome, "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(name, tt.env[name])
			}

			got, err := DefaultPaths()
			if err != nil {
				t.Fatalf("DefaultPaths() error = %v", err)
			}
			if got.ConfigPath != tt.wantConfig {
				t.Errorf("ConfigPath = %q, want %q", got.ConfigPath, tt.wantConfig)
			}
			if got.BaseDir != tt.wantBase {
				t.Errorf("BaseDir = %q, want %q", got.BaseDir, tt.wantBase)
			}
			if want := filepath.Join(tt.wantBase, "log"); got.LogDir != want {
				t.Errorf("LogDir = %q, want %q", got.LogDir, want)
			}
		})
	}
}
