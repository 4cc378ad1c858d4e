// Package config loads the mailops YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultPath is used when neither --config nor MAILOPS_CONFIG is set.
const DefaultPath = "mailops.yaml"

// EnvPath names the environment variable holding the config path.
const EnvPath = "MAILOPS_CONFIG"

// Config is the main configuration structure for mailops.
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Mail     MailConfig     `yaml:"mail"`
	Tools    ToolsConfig    `yaml:"tools"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	Environment       string        `yaml:"environment"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Development reports whether debug endpoints may be exposed.
func (s ServerConfig) Development() bool {
	return strings.EqualFold(s.Environment, "development")
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// AuthConfig holds the basic auth credentials the inbound webhook must present.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LLMConfig struct {
	// Provider is "gemini", "openai" or "anthropic".
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	SystemPrompt  string        `yaml:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type MailConfig struct {
	ServerToken       string   `yaml:"server_token"`
	From              string   `yaml:"from"`
	ReplyToPattern    string   `yaml:"reply_to_pattern"`
	AuthorizedSenders []string `yaml:"authorized_senders"`
	Tag               string   `yaml:"tag"`
	MessageStream     string   `yaml:"message_stream"`
	BaseURL           string   `yaml:"base_url"`
	RateLimit         float64  `yaml:"rate_limit"`
	RateBurst         int      `yaml:"rate_burst"`
}

type ToolsConfig struct {
	DockerHost    string        `yaml:"docker_host"`
	PrometheusURL string        `yaml:"prometheus_url"`
	ScratchDir    string        `yaml:"scratch_dir"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
}

type ProtocolConfig struct {
	// Strict fails a turn whose reply lacks the subject or body region.
	// Defaults to true.
	Strict *bool `yaml:"strict"`
}

// IsStrict reports the effective strict setting.
func (p ProtocolConfig) IsStrict() bool {
	return p.Strict == nil || *p.Strict
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// DefaultSystemPrompt is the operating instruction seeded into new threads.
const DefaultSystemPrompt = `You are an operations assistant that answers email from the team running a server.
You can inspect and manage Docker containers and query Prometheus for system metrics using the provided tools.
When a tool returns a file_name for a chart, reference it in your reply as a markdown image: ![description](file_name).
Always answer in exactly this format:
<subject>a short subject line</subject>
<markdown_body>the reply body in markdown</markdown_body>`

// ResolvePath picks the config path from the flag, the environment or the default.
func ResolvePath(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	if env := strings.TrimSpace(os.Getenv(EnvPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads, parses, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = "production"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "mailops.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 && cfg.Database.Driver == "postgres" {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "gemini"
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.LLM.MaxIterations == 0 {
		cfg.LLM.MaxIterations = 10
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Mail.MessageStream == "" {
		cfg.Mail.MessageStream = "outbound"
	}
	if cfg.Tools.ScratchDir == "" {
		cfg.Tools.ScratchDir = os.TempDir()
	}
	if cfg.Tools.ToolTimeout == 0 {
		cfg.Tools.ToolTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Validate checks the configuration for missing or inconsistent settings.
func (c *Config) Validate() error {
	var issues []string

	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d is out of range", c.Server.HTTPPort))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		issues = append(issues, fmt.Sprintf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		issues = append(issues, "database.dsn is required")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "google", "openai", "anthropic":
	default:
		issues = append(issues, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.MaxIterations < 0 {
		issues = append(issues, "llm.max_iterations must be positive")
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		issues = append(issues, "auth.username and auth.password must be set together")
	}
	if c.Mail.ReplyToPattern != "" && strings.Count(c.Mail.ReplyToPattern, "%s") != 1 {
		issues = append(issues, "mail.reply_to_pattern must contain exactly one %s")
	}
	if c.Mail.RateLimit < 0 {
		issues = append(issues, "mail.rate_limit must not be negative")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ServeIssues returns the settings missing for running the webhook server.
// Commands such as migrate only need the database section.
func (c *Config) ServeIssues() []string {
	var issues []string
	if c.Auth.Username == "" {
		issues = append(issues, "auth.username and auth.password are required to serve")
	}
	if c.Mail.ServerToken == "" {
		issues = append(issues, "mail.server_token is required to serve")
	}
	if c.Mail.From == "" {
		issues = append(issues, "mail.from is required to serve")
	}
	if c.LLM.APIKey == "" {
		issues = append(issues, "llm.api_key is required to serve")
	}
	return issues
}
