package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for challengechat.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Arxiv         ArxivConfig         `yaml:"arxiv"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Database      DatabaseConfig      `yaml:"database"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	// ModelsFile is the path of the deployment profile table. Relative paths
	// resolve against the directory of the main config file.
	ModelsFile string `yaml:"models_file"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins       []string      `yaml:"cors_origins"`
}

// LLMConfig configures the Azure OpenAI collaborator.
type LLMConfig struct {
	AzureEndpoint     string `yaml:"azure_endpoint"`
	APIKey            string `yaml:"api_key"`
	APIVersion        string `yaml:"api_version"`
	DefaultDeployment string `yaml:"default_deployment"`
	MaxRetries        int    `yaml:"max_retries"`

	// SummarizationDeployment and SummarizationTemperature drive the
	// non-streaming paper summarization call.
	SummarizationDeployment  string  `yaml:"summarization_deployment"`
	SummarizationTemperature float64 `yaml:"summarization_temperature"`
}

type ToolsConfig struct {
	// UseSummarization swaps the fetch tool for the summarize tool.
	UseSummarization   bool `yaml:"use_summarization"`
	SearchMaxResults   int  `yaml:"search_max_results"`
	SummarizeMaxPapers int  `yaml:"summarize_max_papers"`
}

type DocumentsConfig struct {
	AssetsDir       string        `yaml:"assets_dir"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

type ArxivConfig struct {
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
	UserAgent         string  `yaml:"user_agent"`
}

type OrchestratorConfig struct {
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// SystemPromptPath overrides the embedded system prompt template.
	SystemPromptPath string `yaml:"system_prompt_path"`
}

type SessionsConfig struct {
	// IdleTTL expires threads untouched for this long. Zero disables expiry.
	IdleTTL time.Duration `yaml:"idle_ttl"`

	// MaxMessages caps stored messages per thread. Zero means unlimited.
	MaxMessages int `yaml:"max_messages"`

	// LockTimeout bounds how long a turn waits for the thread lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type DatabaseConfig struct {
	// URL is either a postgres:// DSN or a SQLite file path.
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ObservabilityConfig struct {
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate"`
	Insecure        bool    `yaml:"insecure"`
	Environment     string  `yaml:"environment"`
}

// ConfigValidationError lists every problem found in a loaded config.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Load reads and parses the configuration file.
//
// A .env.local file next to the config is loaded into the process
// environment before ${VAR} references are expanded.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(path); err != nil {
		return nil, err
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	cfg.ModelsFile = resolveRelative(path, cfg.ModelsFile)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8000
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.LLM.APIVersion == "" {
		cfg.LLM.APIVersion = "2024-10-21"
	}
	if cfg.LLM.DefaultDeployment == "" {
		cfg.LLM.DefaultDeployment = "gpt-4o"
	}
	if cfg.LLM.SummarizationDeployment == "" {
		cfg.LLM.SummarizationDeployment = "gpt-4o-mini"
	}
	if cfg.LLM.SummarizationTemperature == 0 {
		cfg.LLM.SummarizationTemperature = 0.3
	}
	if cfg.Tools.SearchMaxResults == 0 {
		cfg.Tools.SearchMaxResults = 10
	}
	if cfg.Tools.SummarizeMaxPapers == 0 {
		cfg.Tools.SummarizeMaxPapers = 3
	}
	if cfg.Documents.AssetsDir == "" {
		cfg.Documents.AssetsDir = "assets"
	}
	if cfg.Documents.DownloadTimeout == 0 {
		cfg.Documents.DownloadTimeout = 60 * time.Second
	}
	if cfg.Arxiv.BaseURL == "" {
		cfg.Arxiv.BaseURL = "https://export.arxiv.org/api/query"
	}
	if cfg.Arxiv.RequestsPerSecond == 0 {
		cfg.Arxiv.RequestsPerSecond = 1.0 / 3.0
	}
	if cfg.Arxiv.UserAgent == "" {
		cfg.Arxiv.UserAgent = "challengechat/1.0"
	}
	if cfg.Orchestrator.MaxToolRounds == 0 {
		cfg.Orchestrator.MaxToolRounds = 8
	}
	if cfg.Sessions.IdleTTL == 0 {
		cfg.Sessions.IdleTTL = 24 * time.Hour
	}
	if cfg.Sessions.LockTimeout == 0 {
		cfg.Sessions.LockTimeout = 2 * time.Minute
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "db.sqlite3"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.ModelsFile == "" {
		cfg.ModelsFile = "model_config.yaml"
	}
}

func validate(cfg *Config) error {
	var issues []string
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d out of range", cfg.Server.HTTPPort))
	}
	if cfg.Orchestrator.MaxToolRounds < 0 {
		issues = append(issues, "orchestrator.max_tool_rounds must be >= 0")
	}
	if cfg.Arxiv.MaxRetries < 0 {
		issues = append(issues, "arxiv.max_retries must be >= 0")
	}
	if cfg.Arxiv.RequestsPerSecond < 0 {
		issues = append(issues, "arxiv.requests_per_second must be >= 0")
	}
	if cfg.LLM.MaxRetries < 0 {
		issues = append(issues, "llm.max_retries must be >= 0")
	}
	if cfg.Sessions.IdleTTL < 0 {
		issues = append(issues, "sessions.idle_ttl must be >= 0")
	}
	if cfg.Sessions.MaxMessages < 0 {
		issues = append(issues, "sessions.max_messages must be >= 0")
	}
	if cfg.Tools.SummarizeMaxPapers < 0 {
		issues = append(issues, "tools.summarize_max_papers must be >= 0")
	}
	if t := cfg.LLM.SummarizationTemperature; t < 0 || t > 2 {
		issues = append(issues, "llm.summarization_temperature must be between 0 and 2")
	}
	if r := cfg.Observability.SamplingRate; r < 0 || r > 1 {
		issues = append(issues, "observability.sampling_rate must be between 0 and 1")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
