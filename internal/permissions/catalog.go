// Package permissions derives the capabilities a generated function needs,
// decides whether they may be granted and persists the grants.
package permissions

// RiskLevel grades a capability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Permission is a named capability.
type Permission struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

const (
	FileRead      = "file_read"
	FileWrite     = "file_write"
	NetworkAccess = "network_access"
	SystemExec    = "system_exec"
	GUIAccess     = "gui_access"
	InputDevice   = "input_device"
)

// catalog is ordered; results follow this order.
var catalog = []Permission{
	{Name: FileRead, Description: "Read files", RiskLevel: RiskMedium},
	{Name: FileWrite, Description: "Write files", RiskLevel: RiskHigh},
	{Name: NetworkAccess, Description: "Access the network", RiskLevel: RiskHigh},
	{Name: SystemExec, Description: "Run system commands", RiskLevel: RiskCritical},
	{Name: GUIAccess, Description: "Create graphical interfaces", RiskLevel: RiskLow},
	{Name: InputDevice, Description: "Access input devices", RiskLevel: RiskMedium},
}

// Catalog returns every known permission.
func Catalog() []Permission {
	return append([]Permission(nil), catalog...)
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Permission, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Permission{}, false
}

// Grantable reports whether the risk level admits an automatic grant.
func (p Permission) Grantable() bool {
	return p.RiskLevel == RiskLow || p.RiskLevel == RiskMedium
}

// importPermissions maps import path prefixes to the capability they imply.
var importPermissions = map[string]string{
	"net":                             NetworkAccess,
	"os/exec":                         SystemExec,
	"syscall":                         SystemExec,
	"golang.org/x/sys":                SystemExec,
	"fyne.io":                         GUIAccess,
	"gioui.org":                       GUIAccess,
	"github.com/hajimehoshi/ebiten":   GUIAccess,
	"github.com/eiannone/keyboard":    InputDevice,
	"github.com/micmonay/keybd_event": InputDevice,
}

// referencePermissions maps qualified identifiers to capabilities.
var referencePermissions = map[string]string{
	"os.Open":             FileRead,
	"os.ReadFile":         FileRead,
	"os.ReadDir":          FileRead,
	"os.Stat":             FileRead,
	"os.Create":           FileWrite,
	"os.WriteFile":        FileWrite,
	"os.OpenFile":         FileWrite,
	"os.Remove":           FileWrite,
	"os.RemoveAll":        FileWrite,
	"os.Mkdir":            FileWrite,
	"os.MkdirAll":         FileWrite,
	"os.Rename":           FileWrite,
	"exec.Command":        SystemExec,
	"exec.CommandContext": SystemExec,
	"os.Stdin":            InputDevice,
	"fmt.Scan":            InputDevice,
	"fmt.Scanf":           InputDevice,
	"fmt.Scanln":          InputDevice,
}

// Names returns the names of perms in order.
func Names(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}
