// config.go defines the assistant configuration and its YAML loader.
// Secrets come from the environment: the loader reads .env files and expands
// ${VAR} references in the YAML before parsing.
package assistant

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels/telegram"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/exporter"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
)

// Config holds the full assistant configuration.
type Config struct {
	// Name is the assistant name used in the system prompt and replies.
	Name string `yaml:"name"`

	// Instructions extend the base system prompt.
	Instructions string `yaml:"instructions"`

	// Language is the reply language (default Turkish).
	Language string `yaml:"language"`

	// LLM configures the model endpoint.
	LLM LLMConfig `yaml:"llm"`

	// Telegram configures the messaging transport.
	Telegram telegram.Config `yaml:"telegram"`

	// Gateway selects how queries reach the ERP database: through a remote
	// gateway server ("remote") or an in-process store ("local").
	Gateway GatewayConfig `yaml:"gateway"`

	// Licenses configures user licensing.
	Licenses LicenseConfig `yaml:"licenses"`

	// Exporter configures the report export pool.
	Exporter exporter.Config `yaml:"exporter"`

	// PDF configures the report renderer.
	PDF render.PDFConfig `yaml:"pdf"`

	// Reports configures scheduled report jobs.
	Reports []ReportJobConfig `yaml:"reports"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig selects and configures the query path. Server configures
// the standalone gateway process started with `erpzek gateway`.
type GatewayConfig struct {
	Mode   string               `yaml:"mode"` // "remote" or "local"
	Client gateway.ClientConfig `yaml:"client"`
	Store  gateway.StoreConfig  `yaml:"store"`
	Server gateway.ServerConfig `yaml:"server"`
}

// LicenseConfig configures the license registry.
type LicenseConfig struct {
	// Path is the SQLite file for persistence; empty keeps licenses in memory.
	Path string `yaml:"path"`

	// Admins are user IDs allowed to run admin commands.
	Admins []string `yaml:"admins"`
}

// ReportJobConfig is one scheduled report.
type ReportJobConfig struct {
	// Schedule is a cron expression (e.g. "0 8 * * 1-5").
	Schedule string `yaml:"schedule"`

	// Operation is the catalog operation to run.
	Operation string `yaml:"operation"`

	// Params are the operation parameters.
	Params map[string]any `yaml:"params"`

	// ChatID is the conversation the report is delivered to.
	ChatID string `yaml:"chat_id"`

	// Title overrides the report title.
	Title string `yaml:"title"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:     "ERP ZEK",
		Language: "tr",
		LLM:      LLMConfig{Model: "gpt-4o-mini"},
		Telegram: telegram.DefaultConfig(),
		Gateway:  GatewayConfig{Mode: "local"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} references.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadConfig reads a YAML config file. A .env file next to the process is
// loaded first; existing environment variables win.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		groups := envVarPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Gateway.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("gateway.mode must be \"local\" or \"remote\", got %q", c.Gateway.Mode)
	}
	if c.Gateway.Mode == "remote" && c.Gateway.Client.BaseURL == "" {
		return fmt.Errorf("gateway.client.base_url is required in remote mode")
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
