// Package core provides shared constants and configuration for the stacktodo CLI.
package core

import (
	"os"
	"path/filepath"
)

// API configuration
const (
	APIBaseURL       = "https://stacktodo.com/api"
	PublishIndexPath = "tool/publish/posts"
	InviteJoinPath   = "tool/invite/join"
	FormSubmitPath   = "tool/form/submit"
)

// Environment variables
const (
	APIBaseEnvVar     = "STACKTODO_API_BASE"
	CacheEnvVar       = "STACKTODO_CACHE"
	CacheDirEnvVar    = "STACKTODO_CACHE_DIR"
	ValkeyAddrEnvVar  = "VALKEY_ADDRESS"
	ValkeyTLSEnvVar   = "VALKEY_TLS_ENABLED"
	DefaultValkeyAddr = "127.0.0.1:6379"
)

// Cache backends
const (
	CacheMemory     = "memory"
	CacheFilesystem = "fs"
	CacheValkey     = "valkey"
)

// Pagination
const (
	PageSize = 5
)

// MaxConcurrentFetches caps the post bodies fetched in parallel by a postset.
const MaxConcurrentFetches = 6

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".stacktodo", "cache")
}

// Version is the current CLI version.
const Version = "0.3.0"
