package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/pulse/pulse.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pulse", "pulse.yaml"))
	}

	paths = append(paths, "pulse.yaml")

	if envPath := os.Getenv("PULSE_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding values that are already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
		slog.Debug("loaded env file", "path", f)
	}
	return nil
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/pulse/pulse.yaml < ~/.config/pulse/pulse.yaml < ./pulse.yaml < $PULSE_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	if secret := os.Getenv("PULSE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if path := os.Getenv("PULSE_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if port := os.Getenv("PULSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		} else {
			slog.Warn("ignoring invalid PULSE_PORT", "value", port)
		}
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch strings.ToUpper(cfg.Auth.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
		cfg.Auth.JWTAlgorithm = strings.ToUpper(cfg.Auth.JWTAlgorithm)
	default:
		return fmt.Errorf("auth.jwt_algorithm must be HS256, HS384 or HS512, got %q", cfg.Auth.JWTAlgorithm)
	}

	if cfg.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be positive")
	}

	if c := cfg.Realtime.RejectCloseCode; c < 4000 || c > 4999 {
		return fmt.Errorf("realtime.reject_close_code must be in the 4000-4999 application range, got %d", c)
	}

	if cfg.Realtime.HeartbeatInterval < 0 {
		return fmt.Errorf("realtime.heartbeat_interval must not be negative")
	}

	if cfg.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute must be at least 1")
	}
	if cfg.RateLimit.LoginPerMinute < 1 {
		return fmt.Errorf("rate_limit.login_per_minute must be at least 1")
	}

	for _, p := range cfg.RateLimit.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("rate_limit.trusted_proxies: %q is not an IP or CIDR", p)
		}
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Auth.SecretDir = ExpandHome(cfg.Auth.SecretDir)

	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
