package backend

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"cloudsync/internal/config"
	"cloudsync/internal/credentials"
	"cloudsync/internal/syncer"
)

// NewFromConfig creates a Backend implementation based on the backend config type.
// Secrets are read from the environment variables the config names.
func NewFromConfig(ctx context.Context, cfg config.BackendConfig) (syncer.Backend, error) {
	switch cfg.Type {
	case "local":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("local backend requires local_root to be set")
		}
		return NewLocalBackend(cfg.LocalRoot)
	case "memory":
		return NewMemoryBackend(syncer.BackendMemory), nil
	case "s3":
		return NewS3Backend(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     envValue(cfg.S3AccessKeyEnv),
			SecretAccessKey: envValue(cfg.S3SecretKeyEnv),
		})
	case "azure_blob":
		if cfg.AzureConnectionStringEnv == "" {
			return nil, fmt.Errorf("azure backend requires azure_connection_string_env to be set")
		}
		return NewAzureBackend(os.Getenv(cfg.AzureConnectionStringEnv), cfg.AzureContainer)
	case "google_drive":
		return newDriveFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// newDriveFromConfig builds the OAuth client from the downloaded client
// secret JSON and the encrypted refresh token imported with
// `cloudsync backend token import`.
func newDriveFromConfig(ctx context.Context, cfg config.BackendConfig) (*DriveBackend, error) {
	if cfg.DriveCredentialsPath == "" || cfg.DriveTokenPath == "" {
		return nil, fmt.Errorf("google_drive backend requires drive_credentials_path and drive_token_path")
	}
	secret, err := os.ReadFile(cfg.DriveCredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading drive client credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secret, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parsing drive client credentials: %w", err)
	}

	passphrase := envValue(cfg.DrivePassphraseEnv)
	store := credentials.NewTokenStore(cfg.DriveTokenPath)
	tok, err := store.Load(passphrase)
	if err != nil {
		return nil, fmt.Errorf("loading drive token: %w", err)
	}

	ts := store.TokenSource(oauthCfg.TokenSource(ctx, tok), tok, passphrase)
	return NewDriveBackend(ctx, ts, cfg.DriveFolderID)
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
