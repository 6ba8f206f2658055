package app

import (
	"fmt"
	"io"
	"os"

	"cloudsync/internal/config"
	"cloudsync/internal/credentials"
)

// DriveBackendConfig returns the configured google_drive backend section.
func DriveBackendConfig(cfg *config.Config) (config.BackendConfig, error) {
	for _, b := range cfg.Backends {
		if b.Type == "google_drive" {
			if b.DriveTokenPath == "" {
				return b, fmt.Errorf("google_drive backend has no drive_token_path")
			}
			return b, nil
		}
	}
	return config.BackendConfig{}, fmt.Errorf("no google_drive backend configured")
}

// DrivePassphrase returns the token passphrase from the environment variable
// the drive backend names, if that variable is set.
func DrivePassphrase(bc config.BackendConfig) (string, bool) {
	if bc.DrivePassphraseEnv == "" {
		return "", false
	}
	return os.LookupEnv(bc.DrivePassphraseEnv)
}

// ImportDriveToken encrypts the OAuth token JSON read from r into the drive
// backend's token file.
func ImportDriveToken(bc config.BackendConfig, r io.Reader, passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}
	store := credentials.NewTokenStore(bc.DriveTokenPath)
	if _, err := store.Import(r, passphrase); err != nil {
		return fmt.Errorf("importing drive token: %w", err)
	}
	return nil
}
