package dependencies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"lux/internal/jsonstore"
	"lux/internal/logging"
)

// GoModInstaller downloads modules with the go tool and copies them into a
// GOPATH-style tree the interpreter imports from.
type GoModInstaller struct {
	GoPath   string
	GoBinary string
	Timeout  time.Duration

	mu sync.Mutex
}

// NewGoModInstaller creates an installer rooted at gopath.
func NewGoModInstaller(gopath string) *GoModInstaller {
	return &GoModInstaller{GoPath: gopath, GoBinary: "go", Timeout: 5 * time.Minute}
}

// downloadInfo is the subset of `go mod download -json` output in use.
type downloadInfo struct {
	Path    string
	Version string
	Dir     string
	Error   string
}

func (g *GoModInstaller) manifestPath() string {
	return filepath.Join(g.GoPath, "installed.json")
}

// Install fetches module@version and copies it to <gopath>/src/<module>.
func (g *GoModInstaller) Install(ctx context.Context, module, version string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := os.MkdirAll(g.GoPath, 0755); err != nil {
		return fmt.Errorf("failed to create gopath: %w", err)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.GoBinary, "mod", "download", "-json", module+"@"+version)
	cmd.Dir = g.GoPath
	cmd.Env = append(os.Environ(), "GO111MODULE=on")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var info downloadInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil && runErr == nil {
		return fmt.Errorf("failed to parse go mod download output: %w", err)
	}
	if info.Error != "" {
		return fmt.Errorf("go mod download %s@%s: %s", module, version, info.Error)
	}
	if runErr != nil {
		return fmt.Errorf("go mod download %s@%s: %w: %s", module, version, runErr, stderr.String())
	}
	if info.Dir == "" {
		return fmt.Errorf("go mod download %s@%s returned no directory", module, version)
	}

	dst := filepath.Join(g.GoPath, "src", filepath.FromSlash(module))
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to clear %s: %w", dst, err)
	}
	if err := copyTree(info.Dir, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", module, err)
	}

	installed, err := g.readManifest()
	if err != nil {
		return err
	}
	installed[module] = info.Version
	if info.Version == "" {
		installed[module] = version
	}
	logging.Dependencies("installed %s@%s into %s", module, installed[module], dst)
	return jsonstore.Write(g.manifestPath(), installed)
}

// ListInstalled returns the manifest of installed modules.
func (g *GoModInstaller) ListInstalled(_ context.Context) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readManifest()
}

func (g *GoModInstaller) readManifest() (map[string]string, error) {
	installed := make(map[string]string)
	if _, err := jsonstore.Read(g.manifestPath(), &installed); err != nil {
		return nil, err
	}
	if installed == nil {
		installed = make(map[string]string)
	}
	return installed, nil
}

// copyTree copies regular files from src to dst. Module cache files are
// read-only, so modes are reset.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
