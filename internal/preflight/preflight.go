// Package preflight checks that the external tools a project needs are
// installed.
package preflight

import (
	"os/exec"

	"github.com/cameronsjo/rigger/internal/config"
)

// BinaryCheck represents a required binary and its purpose.
type BinaryCheck struct {
	Name        string
	Purpose     string
	Required    bool   // false = warning only
	InstallHint string // e.g., "brew install sops" or "https://..."
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

var (
	dockerCheck = BinaryCheck{
		Name:        "docker",
		Purpose:     "image build",
		Required:    true,
		InstallHint: "Install Docker: https://docs.docker.com/get-docker/",
	}
	sopsCheck = BinaryCheck{
		Name:        "sops",
		Purpose:     "editing encrypted generator sources",
		InstallHint: "Install sops: brew install sops",
	}
)

// Binaries returns the binaries cfg depends on. The build step needs
// docker; the credential step needs its command.
func Binaries(cfg *config.Config) []BinaryCheck {
	var checks []BinaryCheck
	if cfg.Build.Image != "" {
		checks = append(checks, dockerCheck)
	}
	if len(cfg.Cluster.Credentials) > 0 {
		checks = append(checks, BinaryCheck{
			Name:        cfg.Cluster.Credentials[0],
			Purpose:     "cluster credentials",
			Required:    true,
			InstallHint: "Install the cluster provider CLI",
		})
	}
	return append(checks, sopsCheck)
}

// Check looks up every binary in checks. Errors are for missing required
// binaries, warnings are for missing optional binaries.
func Check(checks []BinaryCheck) (warnings []string, errors []string) {
	for _, bin := range checks {
		if IsBinaryAvailable(bin.Name) {
			continue
		}
		msg := bin.Name + " (" + bin.Purpose + "): " + bin.InstallHint
		if bin.Required {
			errors = append(errors, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}
	return warnings, errors
}

// IsBinaryAvailable checks if a specific binary is available in PATH.
func IsBinaryAvailable(name string) bool {
	_, err := lookPath(name)
	return err == nil
}
