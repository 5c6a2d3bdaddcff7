package config

import "golang.org/x/mod/semver"

// SecurityConfig configures the static analysis gates.
type SecurityConfig struct {
	// Directories literal file paths must stay within
	AllowedDirs []string `yaml:"allowed_dirs" json:"allowed_dirs,omitempty"`

	// Extra stdlib packages generated code may import
	ExtraAllowedImports []string `yaml:"extra_allowed_imports" json:"extra_allowed_imports,omitempty"`

	// Thresholds for the resource-usage heuristic
	MaxLoopDepth     int `yaml:"max_loop_depth" json:"max_loop_depth,omitempty"`
	MaxDistinctNames int `yaml:"max_distinct_names" json:"max_distinct_names,omitempty"`
}

// DefaultSecurityConfig returns the reference analyzer policy.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedDirs:      []string{"resources", "logs", "temp"},
		MaxLoopDepth:     2,
		MaxDistinctNames: 50,
	}
}

// DependenciesConfig configures the third-party module allow-list.
type DependenciesConfig struct {
	// module path -> pinned minimum version
	Allowed map[string]string `yaml:"allowed" json:"allowed,omitempty"`
}

// DefaultDependenciesConfig returns the pure-Go modules generated code may use.
func DefaultDependenciesConfig() DependenciesConfig {
	return DependenciesConfig{
		Allowed: map[string]string{
			"github.com/google/uuid":        "v1.6.0",
			"github.com/dustin/go-humanize": "v1.0.1",
			"github.com/sahilm/fuzzy":       "v0.1.1",
			"github.com/mattn/go-runewidth": "v0.0.16",
		},
	}
}

func validVersion(v string) bool {
	return semver.IsValid(v)
}
