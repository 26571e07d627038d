package configs

import "os"

// Credentials and the data directory can be supplied through environment
// variables so that secrets stay out of the configuration file and the
// output location can be remapped in containers. Environment values win
// over file values.

const (
	envAPIKeyID     = "APCA_API_KEY_ID"
	envAPISecretKey = "APCA_API_SECRET_KEY"
	envDataDir      = "BARBACK_DATA_DIR"
)

// envOverride updates some configs by environment variables.
func envOverride(config *Config) {
	if v := os.Getenv(envAPIKeyID); v != "" {
		config.APIKeyID = v
	}

	if v := os.Getenv(envAPISecretKey); v != "" {
		config.APISecretKey = v
	}

	if v := os.Getenv(envDataDir); v != "" {
		config.DataDir = v
	}
}
