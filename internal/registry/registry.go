// Package registry is the persistent catalog of generated functions. Every
// mutation is written through to registry.json.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"

	"lux/internal/faults"
	"lux/internal/jsonstore"
	"lux/internal/logging"
)

// Function types.
const (
	TypeDefault       = "default"
	TypeGame          = "game"
	TypeWebSearch     = "web_search"
	TypeFileOperation = "file_operation"
	TypeUtility       = "utility"
)

// DefaultVersion is assigned on registration.
const DefaultVersion = "1.0.0"

// Backup is one snapshot taken before an in-place code update.
type Backup struct {
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	FilePath  string `json:"file_path"`
}

// Record is the metadata of a generated function.
type Record struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	FilePath             string     `json:"file_path"`
	Enabled              bool       `json:"enabled"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Tags                 []string   `json:"tags"`
	FunctionType         string     `json:"function_type"`
	UsageCount           int        `json:"usage_count"`
	ErrorCount           int        `json:"error_count"`
	SuccessRate          float64    `json:"success_rate"`
	AverageExecutionTime float64    `json:"average_execution_time"`
	LastUsed             *time.Time `json:"last_used"`
	Version              string     `json:"version"`
	BackupHistory        []Backup   `json:"backup_history,omitempty"`
}

// Stats is the usage view of a record.
type Stats struct {
	UsageCount           int        `json:"usage_count"`
	AverageExecutionTime float64    `json:"average_execution_time"`
	LastUsed             *time.Time `json:"last_used"`
	ErrorCount           int        `json:"error_count"`
	SuccessRate          float64    `json:"success_rate"`
}

func (r *Record) clone() Record {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	c.BackupHistory = append([]Backup(nil), r.BackupHistory...)
	if r.LastUsed != nil {
		t := *r.LastUsed
		c.LastUsed = &t
	}
	return c
}

// Registry is the in-memory map plus its JSON document.
type Registry struct {
	path       string
	backupsDir string
	now        func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
}

// Open loads the registry at path. A corrupt document is moved aside and the
// registry starts empty.
func Open(path, backupsDir string) (*Registry, error) {
	r := &Registry{
		path:       path,
		backupsDir: backupsDir,
		now:        time.Now,
		records:    make(map[string]*Record),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	records := make(map[string]*Record)
	found, err := jsonstore.Read(r.path, &records)
	if err != nil && !found {
		return err
	}
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%s", r.path, r.now().Format("20060102_150405"))
		logging.RegistryError("registry corrupt (%v); moving to %s", err, aside)
		if rerr := os.Rename(r.path, aside); rerr != nil {
			return fmt.Errorf("failed to move corrupt registry aside: %w", rerr)
		}
		records = make(map[string]*Record)
		found = false
	}
	if records == nil {
		records = make(map[string]*Record)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
	for name, rec := range r.records {
		if rec == nil {
			delete(r.records, name)
			continue
		}
		rec.Name = name
	}
	if !found {
		return r.saveLocked()
	}
	logging.Registry("loaded %d functions from %s", len(r.records), r.path)
	return nil
}

// Reload replaces the in-memory map with the document on disk.
func (r *Registry) Reload() error {
	return r.load()
}

func (r *Registry) saveLocked() error {
	if err := jsonstore.Write(r.path, r.records); err != nil {
		logging.RegistryError("failed to save registry: %v", err)
		return err
	}
	return nil
}

// Register adds rec, overwriting any entry of the same name. Usage counters
// start from zero.
func (r *Registry) Register(rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("function name is required")
	}
	now := r.now()
	stored := &Record{
		Name:         rec.Name,
		Description:  rec.Description,
		FilePath:     rec.FilePath,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Tags:         NormalizeTags(rec.Tags),
		FunctionType: rec.FunctionType,
		SuccessRate:  100,
		Version:      rec.Version,
	}
	if stored.FunctionType == "" {
		stored.FunctionType = TypeUtility
	}
	if stored.Version == "" {
		stored.Version = DefaultVersion
	}
	if stored.Description == "" {
		stored.Description = "No description"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Name] = stored
	logging.Registry("registered %s (%s)", rec.Name, stored.FunctionType)
	return r.saveLocked()
}

// NormalizeTags lowercases, sorts and deduplicates tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Get returns a copy of the record called name.
func (r *Registry) Get(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Remove deletes the entry and its source file.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return faults.New(faults.NotFound, name, "function not registered")
	}
	if rec.FilePath != "" {
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", rec.FilePath, err)
		}
	}
	delete(r.records, name)
	logging.Registry("removed %s", name)
	return r.saveLocked()
}

// List returns every record ordered by name.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.records))
	for name := range r.records {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Search matches query case-insensitively against names and descriptions.
func (r *Registry) Search(query string) []Record {
	q := strings.ToLower(query)
	var out []Record
	for _, rec := range r.List() {
		if strings.Contains(strings.ToLower(rec.Name), q) || strings.Contains(strings.ToLower(rec.Description), q) {
			out = append(out, rec)
		}
	}
	return out
}

// Enable marks name executable.
func (r *Registry) Enable(name string) error { return r.setEnabled(name, true) }

// Disable prevents name from being executed.
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	return r.mutate(name, func(rec *Record) {
		rec.Enabled = enabled
		logging.Registry("%s enabled=%v", name, enabled)
	})
}

// IsEnabled reports whether name exists and is enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return ok && rec.Enabled
}

// UpdateUsage counts one execution taking d and updates the running mean.
func (r *Registry) UpdateUsage(name string, d time.Duration) error {
	return r.mutate(name, func(rec *Record) {
		now := r.now()
		rec.UsageCount++
		n := float64(rec.UsageCount)
		rec.AverageExecutionTime = (rec.AverageExecutionTime*(n-1) + d.Seconds()) / n
		rec.LastUsed = &now
		rec.SuccessRate = successRate(rec.UsageCount, rec.ErrorCount)
	})
}

// IncrementErrorCount counts one failed execution.
func (r *Registry) IncrementErrorCount(name string) error {
	return r.mutate(name, func(rec *Record) {
		rec.ErrorCount++
		rec.SuccessRate = successRate(rec.UsageCount, rec.ErrorCount)
	})
}

func successRate(usage, errors int) float64 {
	if usage <= 0 {
		if errors > 0 {
			return 0
		}
		return 100
	}
	rate := float64(usage-errors) / float64(usage) * 100
	if rate < 0 {
		return 0
	}
	if rate > 100 {
		return 100
	}
	return rate
}

// Stats returns the usage view of name.
func (r *Registry) Stats(name string) (Stats, bool) {
	rec, ok := r.Get(name)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		UsageCount:           rec.UsageCount,
		AverageExecutionTime: rec.AverageExecutionTime,
		LastUsed:             rec.LastUsed,
		ErrorCount:           rec.ErrorCount,
		SuccessRate:          rec.SuccessRate,
	}, true
}

// UpdateCode snapshots the current file into the backups directory, then
// overwrites it with code. An empty version bumps the patch number.
func (r *Registry) UpdateCode(name, code, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return faults.New(faults.NotFound, name, "function not registered")
	}
	if version != "" && !semver.IsValid("v"+version) {
		return fmt.Errorf("invalid version %q", version)
	}

	now := r.now()
	if current, err := os.ReadFile(rec.FilePath); err == nil {
		stamp := now.Format("20060102_150405")
		backup := filepath.Join(r.backupsDir, fmt.Sprintf("%s_%s%s", name, stamp, filepath.Ext(rec.FilePath)))
		if err := os.MkdirAll(r.backupsDir, 0755); err != nil {
			return fmt.Errorf("failed to create backups dir: %w", err)
		}
		if err := os.WriteFile(backup, current, 0644); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
		rec.BackupHistory = append(rec.BackupHistory, Backup{Timestamp: stamp, Version: rec.Version, FilePath: backup})
		logging.Registry("backed up %s v%s to %s", name, rec.Version, backup)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", rec.FilePath, err)
	}

	if err := os.WriteFile(rec.FilePath, []byte(code), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", rec.FilePath, err)
	}
	if version == "" {
		version = bumpPatch(rec.Version)
	}
	rec.Version = version
	rec.UpdatedAt = now
	return r.saveLocked()
}

// bumpPatch turns 1.2.3 into 1.2.4. Unparseable versions restart at 1.0.1.
func bumpPatch(v string) string {
	if !semver.IsValid("v" + v) {
		return "1.0.1"
	}
	core := strings.TrimPrefix(semver.Canonical("v"+v), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	patch, _ := strconv.Atoi(parts[2])
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
}

// Backups returns the backup history of name.
func (r *Registry) Backups(name string) []Backup {
	rec, ok := r.Get(name)
	if !ok {
		return nil
	}
	return rec.BackupHistory
}

func (r *Registry) mutate(name string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return faults.New(faults.NotFound, name, "function not registered")
	}
	fn(rec)
	return r.saveLocked()
}
