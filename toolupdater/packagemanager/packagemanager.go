package packagemanager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"

	cm "github.com/steelcutops/toolupdater/toolupdater/commandmanager"
)

// PackagePlaceholder is replaced with the package id in probe and apply arguments.
const PackagePlaceholder = "{package}"

// PackageManager lists installed packages, probes them for updates and applies updates.
// None of the methods report process failures as errors: a tool that could not be
// run lists nothing, has no update and fails to update.
type PackageManager interface {
	ListPackages(ctx context.Context) []string
	CheckUpdate(ctx context.Context, pkg string) bool
	UpgradePackage(ctx context.Context, pkg string) UpdateOutcome
}

// Commands describes how the package tool is invoked. Argument strings are split
// with shell rules, so quoting works the way it does on a command line.
type Commands struct {
	Binary    string
	ListArgs  string
	ProbeArgs string
	ApplyArgs string
	Env       []string
	Sudo      bool
	Timeout   time.Duration
}

// DefaultCommands returns the commands for .NET global tools.
func DefaultCommands() Commands {
	return Commands{
		Binary:    "dotnet",
		ListArgs:  "tool list --global",
		ProbeArgs: "tool update " + PackagePlaceholder + " --dry-run",
		ApplyArgs: "tool update " + PackagePlaceholder,
	}
}

// Validate checks that every argument string splits and that the per package
// commands mention the package.
func (c Commands) Validate() error {
	if strings.TrimSpace(c.Binary) == "" {
		return fmt.Errorf("binary is required")
	}
	for name, args := range map[string]string{"list": c.ListArgs, "probe": c.ProbeArgs, "apply": c.ApplyArgs} {
		if _, err := shlex.Split(args); err != nil {
			return fmt.Errorf("invalid %s arguments %q: %w", name, args, err)
		}
	}
	if !strings.Contains(c.ProbeArgs, PackagePlaceholder) {
		return fmt.Errorf("probe arguments %q must contain %s", c.ProbeArgs, PackagePlaceholder)
	}
	if !strings.Contains(c.ApplyArgs, PackagePlaceholder) {
		return fmt.Errorf("apply arguments %q must contain %s", c.ApplyArgs, PackagePlaceholder)
	}
	return nil
}

func (c Commands) config(args, pkg string) (cm.CommandConfig, error) {
	fields, err := shlex.Split(args)
	if err != nil {
		return cm.CommandConfig{}, fmt.Errorf("split arguments %q: %w", args, err)
	}
	for i, field := range fields {
		fields[i] = strings.ReplaceAll(field, PackagePlaceholder, pkg)
	}
	return cm.CommandConfig{
		Command: c.Binary,
		Args:    fields,
		Env:     c.Env,
		Sudo:    c.Sudo,
		Timeout: c.Timeout,
	}, nil
}
