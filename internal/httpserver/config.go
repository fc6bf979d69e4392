package httpserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultAdminIssuer     = "pointsd"
	defaultShutdownTimeout = 5 * time.Second
)

// Config aggregates runtime settings for the HTTP surface.
type Config struct {
	ListenAddr       string
	AllowedOrigins   []string
	AdminSigningKey  string
	AdminIssuer      string
	WebhookSecret    string
	DefaultListLimit int
	ShutdownTimeout  time.Duration
}

// Validate applies defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.AdminIssuer = defaultIfEmpty(cfg.AdminIssuer, defaultAdminIssuer)
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = ledger.DefaultListLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.DefaultListLimit > ledger.MaxListLimit {
		return fmt.Errorf("default list limit must not exceed %d", ledger.MaxListLimit)
	}
	if len(cfg.AdminSigningKey) == 0 {
		return fmt.Errorf("admin signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
