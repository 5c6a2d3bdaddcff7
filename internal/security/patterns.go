package security

import "regexp"

// maliciousPatterns are scanned over the raw source text, comments included.
var maliciousPatterns = []struct {
	category string
	pattern  *regexp.Regexp
}{
	{"shell_commands", regexp.MustCompile(`exec\.Command|syscall\.Exec|/bin/(ba)?sh\b|cmd\.exe|powershell`)},
	{"network_access", regexp.MustCompile(`\bnet\.(Dial|Listen)\w*\(|\bhttp\.(Get|Post|Head|PostForm|NewRequest\w*|DefaultClient)\b`)},
	{"file_operations", regexp.MustCompile(`\bos\.(Remove|RemoveAll|Rename|Truncate|Chmod|Chown|Link|Symlink)\(`)},
	{"code_execution", regexp.MustCompile(`\b(eval|exec|compile)\s*\(|\binterp\.New\(|\bplugin\.Open\(|\breflect\.MakeFunc\(`)},
	{"system_info", regexp.MustCompile(`\bos\.(Hostname|Getuid|Geteuid|Getpid|Getppid)\(|\bruntime\.(Version|GOOS)\b`)},
	{"process_manipulation", regexp.MustCompile(`\bos\.(FindProcess|StartProcess|Exit)\(|\bsyscall\.Kill\(|\.Kill\(\)|\bsignal\.Notify\(`)},
	{"memory_manipulation", regexp.MustCompile(`\bunsafe\.Pointer\b|\breflect\.(SliceHeader|StringHeader)\b|\bsyscall\.Mmap\(|\bruntime\.GC\(|\bdebug\.SetGCPercent\(`)},
	{"environment_vars", regexp.MustCompile(`\bos\.(Getenv|Setenv|Unsetenv|Environ|LookupEnv|ExpandEnv|Clearenv)\(`)},
}

// sensitivePatterns annotate call text with the permissions it needs.
var sensitivePatterns = []struct {
	category    string
	pattern     *regexp.Regexp
	permissions []string
}{
	{"file", regexp.MustCompile(`^(os\.(Open|OpenFile|Create|ReadFile|WriteFile|ReadDir|Stat|Remove|RemoveAll|Mkdir|MkdirAll|Rename)|ioutil\.\w+|filepath\.Walk\w*)$`), []string{"file_read", "file_write"}},
	{"network", regexp.MustCompile(`^(net\.\w+|http\.\w+|\w+\.(Do|Dial\w*))$`), []string{"network_access"}},
	{"system", regexp.MustCompile(`^(exec\.Command\w*|syscall\.\w+|os\.StartProcess)$`), []string{"system_exec"}},
}

// fileCalls take a path as their first argument.
var fileCalls = map[string]bool{
	"os.Open":      true,
	"os.OpenFile":  true,
	"os.Create":    true,
	"os.ReadFile":  true,
	"os.WriteFile": true,
	"os.Remove":    true,
	"os.RemoveAll": true,
	"os.Mkdir":     true,
	"os.MkdirAll":  true,
}

// interactiveInput is read directly from the terminal.
var interactiveInput = map[string]bool{
	"fmt.Scan":   true,
	"fmt.Scanf":  true,
	"fmt.Scanln": true,
	"os.Stdin":   true,
}

// DefaultAllowedImports is the standard library base generated code may use.
var DefaultAllowedImports = []string{
	"bufio",
	"bytes",
	"context",
	"crypto/md5",
	"crypto/sha256",
	"encoding/base64",
	"encoding/csv",
	"encoding/hex",
	"encoding/json",
	"errors",
	"fmt",
	"html",
	"io",
	"io/fs",
	"math",
	"math/rand",
	"os",
	"path",
	"path/filepath",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"text/template",
	"time",
	"unicode",
	"unicode/utf8",
}

// DefaultProhibitedImports are rejected outright.
var DefaultProhibitedImports = []string{
	"os/exec",
	"syscall",
	"net",
	"net/http",
	"net/rpc",
	"net/smtp",
	"unsafe",
	"plugin",
	"runtime/cgo",
	"runtime/debug",
	"os/signal",
	"sync",
	"sync/atomic",
	"golang.org/x/sys/unix",
	"C",
}

// dangerousCallees are flagged by the policy regardless of imports.
var dangerousCallees = []string{
	"eval",
	"exec",
	"compile",
	"exec.Command",
	"exec.CommandContext",
	"syscall.Exec",
	"syscall.ForkExec",
	"plugin.Open",
}

var dangerousMethods = []string{"Eval"}
