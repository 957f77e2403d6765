package config

import "time"

// Config is the root configuration for pulse.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	MCP       MCPConfig       `yaml:"mcp"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTAlgorithm   string        `yaml:"jwt_algorithm"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	// SecretDir holds the generated signing secret when JWTSecret is empty.
	SecretDir string `yaml:"secret_dir"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RealtimeConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	// HeartbeatInterval enables server pings when > 0. Zero keeps idle
	// connections open until the transport reports a close.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	RejectCloseCode   int           `yaml:"reject_close_code"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	LoginPerMinute    int `yaml:"login_per_minute"`
	// TrustedProxies lists reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For and X-Real-IP headers identify the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			LogLevel: "info",
		},
		Auth: AuthConfig{
			JWTAlgorithm:   "HS256",
			AccessTokenTTL: 8 * time.Hour,
			SecretDir:      "~/.config/pulse",
		},
		Database: DatabaseConfig{
			Path: "~/.config/pulse/pulse.db",
		},
		Realtime: RealtimeConfig{
			AllowedOrigins:  []string{"http://localhost:5173"},
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  4096,
			RejectCloseCode: 4003,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 300,
			Burst:             100,
			LoginPerMinute:    10,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
