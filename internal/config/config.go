package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API (users/projects REST surface)
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Streaming (workspace rooms, health probes, Prometheus metrics)
	SocketListenAddr string `envconfig:"SOCKET_LISTEN_ADDR" default:":8090"`

	// Session credentials
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// Revocation store. Path to the sqlite file holding logout markers;
	// "memory" selects the in-process store (dev/test only; revocations
	// do not survive a restart).
	RevocationStoreDSN string        `envconfig:"REVOCATION_STORE_DSN" default:"devsync-revocations.db"`
	RevocationMinTTL   time.Duration `envconfig:"REVOCATION_MIN_TTL" default:"1m"`
	RevocationMaxTTL   time.Duration `envconfig:"REVOCATION_MAX_TTL" default:"168h"`
	RevocationSweep    time.Duration `envconfig:"REVOCATION_SWEEP_INTERVAL" default:"10m"`

	// Durable project/user storage
	DBPath string `envconfig:"DB_PATH" default:"devsync.db"`

	// Rate limiting (HTTP API)
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"200"`

	// Sandbox execution
	SandboxRoot         string        `envconfig:"SANDBOX_ROOT"` // empty → os.TempDir()
	SandboxInstallCmd   string        `envconfig:"SANDBOX_INSTALL_CMD" default:"npm install"`
	SandboxStartCmd     string        `envconfig:"SANDBOX_START_CMD" default:"npm run dev"`
	SandboxReadyTimeout time.Duration `envconfig:"SANDBOX_READY_TIMEOUT" default:"2m"`
}

// Development returns true when running in the development environment.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// MemoryRevocationStore returns true when the in-process revocation store
// is selected instead of the sqlite-backed one.
func (c *Config) MemoryRevocationStore() bool {
	return strings.EqualFold(c.RevocationStoreDSN, "memory")
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.RevocationMinTTL > c.RevocationMaxTTL {
		return fmt.Errorf("REVOCATION_MIN_TTL %s exceeds REVOCATION_MAX_TTL %s",
			c.RevocationMinTTL, c.RevocationMaxTTL)
	}
	if c.SandboxInstallCmd == "" || c.SandboxStartCmd == "" {
		return fmt.Errorf("sandbox install and start commands must not be empty")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
