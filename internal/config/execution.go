package config

// ExecutionConfig configures the safe executor.
type ExecutionConfig struct {
	// Wall-clock timeout for a single execution
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// Run functions in a resource-limited child process instead of in-process
	Isolated bool `yaml:"isolated" json:"isolated,omitempty"`

	// Child command for isolated mode; empty means "<self> sandbox-child"
	ChildCommand []string `yaml:"child_command" json:"child_command,omitempty"`

	// POSIX-only limits applied by the child process (0 = unlimited)
	MemoryLimitMB int `yaml:"memory_limit_mb" json:"memory_limit_mb,omitempty"`
	CPUSeconds    int `yaml:"cpu_seconds" json:"cpu_seconds,omitempty"`
	MaxOpenFiles  int `yaml:"max_open_files" json:"max_open_files,omitempty"`
}

// DefaultExecutionConfig returns executor defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Timeout:       "30s",
		Isolated:      false,
		MemoryLimitMB: 2048,
		CPUSeconds:    30,
		MaxOpenFiles:  100,
	}
}

// TestingConfig configures the test & repair loop.
type TestingConfig struct {
	MaxRepairAttempts int    `yaml:"max_repair_attempts" json:"max_repair_attempts,omitempty"`
	SmokeTimeout      string `yaml:"smoke_timeout" json:"smoke_timeout,omitempty"`
}

// DefaultTestingConfig returns three patch attempts plus one full rewrite.
func DefaultTestingConfig() TestingConfig {
	return TestingConfig{
		MaxRepairAttempts: 4,
		SmokeTimeout:      "10s",
	}
}
