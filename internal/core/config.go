package core

import (
	"encoding/json"
	"log/slog"
)

// Config holds settings resolved from the environment. CLI flags override it.
type Config struct {
	APIBaseURL       string
	CacheBackend     string
	CacheDir         string
	ValkeyAddress    string
	ValkeyTLSEnabled bool
}

// LoadConfig builds a Config from environment variables and defaults.
func LoadConfig() Config {
	result := Config{
		APIBaseURL:       GetEnvStr(APIBaseEnvVar, APIBaseURL),
		CacheBackend:     GetEnvStr(CacheEnvVar, CacheMemory),
		CacheDir:         GetEnvStr(CacheDirEnvVar, CacheRoot()),
		ValkeyAddress:    GetEnvStr(ValkeyAddrEnvVar, DefaultValkeyAddr),
		ValkeyTLSEnabled: GetEnvBool(ValkeyTLSEnvVar, false),
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Warn("failed to marshal config", "error", err)
	}
	slog.Debug("loaded config", "config", string(data))

	return result
}
