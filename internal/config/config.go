package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lux configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Filesystem layout
	Paths PathsConfig `yaml:"paths"`

	// Reasoning / code generation service
	LLM LLMConfig `yaml:"llm"`

	// Safe executor
	Execution ExecutionConfig `yaml:"execution"`

	// Test & repair loop
	Testing TestingConfig `yaml:"testing"`

	// Static analysis gates
	Security SecurityConfig `yaml:"security"`

	// Third-party dependency allow-list
	Dependencies DependenciesConfig `yaml:"dependencies"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig describes where functions, logs and state documents live.
// Empty entries are derived from DataDir by Resolve.
type PathsConfig struct {
	DataDir          string `yaml:"data_dir"`
	FunctionsDir     string `yaml:"functions_dir"`
	BackupsDir       string `yaml:"backups_dir"`
	LogsDir          string `yaml:"logs_dir"`
	SandboxDir       string `yaml:"sandbox_dir"`
	RegistryFile     string `yaml:"registry_file"`
	PermissionsFile  string `yaml:"permissions_file"`
	DependenciesFile string `yaml:"dependencies_file"`
	MetricsDB        string `yaml:"metrics_db"`
}

// LLMConfig configures the Gemini-backed collaborators.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Name:    "lux",
		Version: "1.0.0",

		Paths: PathsConfig{
			DataDir: "resources",
		},

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "60s",
		},

		Execution:    DefaultExecutionConfig(),
		Testing:      DefaultTestingConfig(),
		Security:     DefaultSecurityConfig(),
		Dependencies: DefaultDependenciesConfig(),

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: true,
		},
	}
	cfg.Paths.Resolve()
	return cfg
}

// Resolve fills empty paths from DataDir.
func (p *PathsConfig) Resolve() {
	if p.DataDir == "" {
		p.DataDir = "resources"
	}
	set := func(target *string, parts ...string) {
		if *target == "" {
			*target = filepath.Join(append([]string{p.DataDir}, parts...)...)
		}
	}
	set(&p.FunctionsDir, "functions")
	set(&p.BackupsDir, "functions", "backups")
	set(&p.LogsDir, "logs")
	set(&p.SandboxDir, "sandbox")
	set(&p.RegistryFile, "functions", "registry.json")
	set(&p.PermissionsFile, "permissions.json")
	set(&p.DependenciesFile, "dependencies.json")
	set(&p.MetricsDB, "logs", "metrics.db")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		// Derived paths are recomputed from whatever data_dir the file sets.
		cfg.Paths = PathsConfig{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Paths.Resolve()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	// GEMINI_API_KEY wins over GOOGLE_API_KEY when both are set
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("LUX_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if dir := os.Getenv("LUX_DATA_DIR"); dir != "" && dir != c.Paths.DataDir {
		c.Paths = PathsConfig{DataDir: dir}
	}
	if lvl := os.Getenv("LUX_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if d := os.Getenv("LUX_EXEC_TIMEOUT"); d != "" {
		c.Execution.Timeout = d
	}
	if v := os.Getenv("LUX_ISOLATED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Execution.Isolated = b
		}
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetExecutionTimeout returns the executor wall-clock timeout.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetSmokeTimeout returns the timeout used for smoke runs in the repair loop.
func (c *Config) GetSmokeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Testing.SmokeTimeout)
	if err != nil || d <= 0 {
		return c.GetExecutionTimeout()
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Testing.MaxRepairAttempts < 1 {
		return fmt.Errorf("testing.max_repair_attempts must be at least 1, got %d", c.Testing.MaxRepairAttempts)
	}
	if c.Execution.MemoryLimitMB < 0 || c.Execution.CPUSeconds < 0 {
		return fmt.Errorf("execution limits must not be negative")
	}
	if _, err := time.ParseDuration(c.Execution.Timeout); err != nil {
		return fmt.Errorf("invalid execution.timeout %q: %w", c.Execution.Timeout, err)
	}
	for module, version := range c.Dependencies.Allowed {
		if !validVersion(version) {
			return fmt.Errorf("dependency %s has invalid pinned version %q", module, version)
		}
	}
	return nil
}

// ValidateLLM reports whether the collaborators can be constructed.
func (c *Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	if c.LLM.Provider != "gemini" {
		return fmt.Errorf("invalid LLM provider: %s (valid: gemini)", c.LLM.Provider)
	}
	return nil
}
