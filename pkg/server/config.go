package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/datalens-labs/datalens/pkg/store"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	Store             store.Store
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// MaxUploadBytes caps the accepted upload body size. Zero means
	// DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// SampleSize bounds schema inference. Zero means the inferencer default.
	SampleSize int
	// CacheTTL bounds how long aggregation results are served from cache.
	// Zero means cache.DefaultTTL.
	CacheTTL time.Duration
}

const DefaultMaxUploadBytes = 50 << 20 // 50MB

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	return nil
}
