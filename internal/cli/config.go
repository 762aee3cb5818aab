package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pthm/rlsguard/pkg/model"
)

const (
	maxWalkDepth = 25
)

// Config represents the rlsguard configuration from rlsguard.yaml.
type Config struct {
	// Feed is the default linter feed path.
	Feed string `mapstructure:"feed"`

	Database DatabaseConfig `mapstructure:"database"`
	Output   OutputConfig   `mapstructure:"output"`
	Validate ValidateConfig `mapstructure:"validate"`
	Analyze  AnalyzeConfig  `mapstructure:"analyze"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`

	// Driver selects the database/sql driver: "postgres" (lib/pq) or "pgx".
	Driver string `mapstructure:"driver"`
}

// OutputConfig holds report and migration output settings.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// ValidateConfig holds semantic validation settings.
type ValidateConfig struct {
	Enabled  bool                `mapstructure:"enabled"`
	Contexts []UserContextConfig `mapstructure:"contexts"`
}

// UserContextConfig is one identity policies are evaluated as.
type UserContextConfig struct {
	UserID string         `mapstructure:"user_id"`
	Role   string         `mapstructure:"role"`
	Claims map[string]any `mapstructure:"claims"`
}

// AnalyzeConfig holds analysis settings.
type AnalyzeConfig struct {
	Concurrency int `mapstructure:"concurrency"`

	// Discover lists schemas whose policies are scanned for consolidation
	// candidates beyond those in the feed.
	Discover []string `mapstructure:"discover"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Drivers accepted in database.driver.
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

// Output formats accepted in output.format.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("RLSGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.check(); err != nil {
		return nil, configPath, err
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed", "")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.driver", DriverPQ)

	// Output defaults
	v.SetDefault("output.dir", "migrations")
	v.SetDefault("output.format", FormatText)

	// Validation defaults
	v.SetDefault("validate.enabled", true)

	// Analysis defaults
	v.SetDefault("analyze.concurrency", 4)
	v.SetDefault("analyze.discover", []string{})

	v.SetDefault("log.level", "info")
}

// check rejects values no command can work with.
func (c *Config) check() error {
	switch c.Database.Driver {
	case DriverPQ, DriverPGX:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPQ, DriverPGX, c.Database.Driver)
	}
	switch c.Output.Format {
	case FormatText, FormatJSON, FormatSARIF:
	default:
		return fmt.Errorf("output.format must be text, json or sarif, got %q", c.Output.Format)
	}
	if c.Analyze.Concurrency < 1 {
		return fmt.Errorf("analyze.concurrency must be at least 1, got %d", c.Analyze.Concurrency)
	}
	return nil
}

// HasDatabase reports whether any connection setting is present.
func (c *Config) HasDatabase() bool {
	return c.Database.URL != "" || c.Database.Host != ""
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for rlsguard.yaml or rlsguard.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Auto-discovery: walk up to .git or maxWalkDepth
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		// Try rlsguard.yaml then rlsguard.yml
		for _, name := range []string{"rlsguard.yaml", "rlsguard.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			break // Stop at repo root
		}

		// Move up
		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	// Build DSN from discrete fields
	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	// Build postgres:// URL
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// UserContexts converts the configured validation contexts. It returns nil
// when none are configured so callers fall back to the defaults.
func (c *Config) UserContexts() []model.UserContext {
	if len(c.Validate.Contexts) == 0 {
		return nil
	}
	out := make([]model.UserContext, len(c.Validate.Contexts))
	for i, uc := range c.Validate.Contexts {
		out[i] = model.UserContext{UserID: uc.UserID, Role: uc.Role, Claims: uc.Claims}
	}
	return out
}
