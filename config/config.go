// Package config loads the service configuration from YAML.
//
// ${VAR} and ${VAR:-default} references are replaced with environment
// values before parsing, so secrets can stay out of the file:
//
//	model:
//	  provider: openai
//	  api_key: ${OPENAI_API_KEY}
//	checkpoint:
//	  driver: sqlite
//	  dsn: ${DATA_DIR:-/var/lib/agentic-chat}/checkpoints.db
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shapeshift/agentic-chat/checkpoint"
	"github.com/shapeshift/agentic-chat/flow"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/tools/bebop"
	"github.com/shapeshift/agentic-chat/tools/evm"
	"github.com/shapeshift/agentic-chat/tools/portals"
	"github.com/shapeshift/agentic-chat/transport/amqp"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
	ProviderGemini:    "gemini-2.0-flash",
}

// Config is the root configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Model      ModelConfig       `yaml:"model"`
	Loop       LoopConfig        `yaml:"loop"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	AMQP       amqp.Config       `yaml:"amqp"`
	Tools      ToolsConfig       `yaml:"tools"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// LoopConfig mirrors flow.LoopOptions.
type LoopConfig struct {
	MaxSteps         int           `yaml:"max_steps"`
	ModelTimeout     time.Duration `yaml:"model_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	// Stream defaults to true.
	Stream *bool `yaml:"stream"`
}

// Options converts the section to loop options.
func (c LoopConfig) Options() flow.LoopOptions {
	stream := true
	if c.Stream != nil {
		stream = *c.Stream
	}
	return flow.LoopOptions{
		MaxSteps:         c.MaxSteps,
		ModelTimeout:     c.ModelTimeout,
		ToolTimeout:      c.ToolTimeout,
		MaxRetries:       c.MaxRetries,
		MaxParallelTools: c.MaxParallelTools,
		Stream:           stream,
	}
}

// ToolsConfig configures the domain tools. A tool whose credentials are
// missing is not registered.
type ToolsConfig struct {
	Portals portals.Config `yaml:"portals"`
	Bebop   bebop.Config   `yaml:"bebop"`
	EVM     evm.Config     `yaml:"evm"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoggerConfig converts the section to a logging config writing to w.
func (c LoggingConfig) LoggerConfig(w io.Writer) *logging.LoggerConfig {
	return &logging.LoggerConfig{
		Level:  logging.ParseLevel(c.Level),
		Format: c.Format,
		Output: w,
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse expands environment references in data, decodes it, applies the
// defaults and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}

	expanded := ExpandEnv(string(data))
	if strings.TrimSpace(expanded) != "" {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string. A bare $VAR
// is left alone.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}

	if c.Model.Provider == "" {
		c.Model.Provider = ProviderOpenAI
	}
	c.Model.Provider = strings.ToLower(c.Model.Provider)
	if c.Model.Name == "" {
		c.Model.Name = defaultModels[c.Model.Provider]
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = 4096
	}

	if c.Loop.MaxSteps == 0 {
		c.Loop.MaxSteps = flow.DefaultMaxSteps
	}
	if c.Loop.ModelTimeout == 0 {
		c.Loop.ModelTimeout = 2 * time.Minute
	}
	if c.Loop.ToolTimeout == 0 {
		c.Loop.ToolTimeout = 30 * time.Second
	}
	if c.Loop.MaxRetries == 0 {
		c.Loop.MaxRetries = 2
	}
	if c.Loop.MaxParallelTools == 0 {
		c.Loop.MaxParallelTools = 4
	}

	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = checkpoint.DriverMemory
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		c.AMQP.Exchange = amqp.DefaultExchange
	}
	if c.Tools.Bebop.BaseURL == "" {
		c.Tools.Bebop.BaseURL = bebop.DefaultBaseURL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, ok := defaultModels[c.Model.Provider]; !ok {
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model temperature %v out of range [0, 2]", c.Model.Temperature)
	}

	switch c.Checkpoint.Driver {
	case checkpoint.DriverMemory:
	case checkpoint.DriverSQLite, checkpoint.DriverMySQL:
		if c.Checkpoint.DSN == "" {
			return fmt.Errorf("checkpoint driver %s requires a dsn", c.Checkpoint.Driver)
		}
	case checkpoint.DriverRedis:
		if c.Checkpoint.Redis.Addr == "" {
			return errors.New("checkpoint driver redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown checkpoint driver %q", c.Checkpoint.Driver)
	}

	if c.Loop.ModelTimeout < 0 || c.Loop.ToolTimeout < 0 {
		return errors.New("loop timeouts must not be negative")
	}
	if c.Loop.MaxRetries < 0 || c.Loop.MaxParallelTools < 0 {
		return errors.New("loop max_retries and max_parallel_tools must not be negative")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server path %q must start with /", c.Server.Path)
	}
	return nil
}
