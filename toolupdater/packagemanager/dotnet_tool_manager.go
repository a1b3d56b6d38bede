package packagemanager

import (
	"context"

	"github.com/steelcutops/toolupdater/logger"
	cm "github.com/steelcutops/toolupdater/toolupdater/commandmanager"
)

type DotnetToolManager struct {
	CommandManager cm.CommandManager
	Commands       Commands
	Parser         ListingParser
	Probe          UpdateProbe
	Policy         ClassifyPolicy
	Logger         logger.Logger
}

type Option func(*DotnetToolManager)

func WithCommands(commands Commands) Option {
	return func(m *DotnetToolManager) {
		m.Commands = commands
	}
}

func WithListingParser(parser ListingParser) Option {
	return func(m *DotnetToolManager) {
		m.Parser = parser
	}
}

func WithUpdateProbe(probe UpdateProbe) Option {
	return func(m *DotnetToolManager) {
		m.Probe = probe
	}
}

func WithClassifyPolicy(policy ClassifyPolicy) Option {
	return func(m *DotnetToolManager) {
		m.Policy = policy
	}
}

func WithLogger(l logger.Logger) Option {
	return func(m *DotnetToolManager) {
		if l != nil {
			m.Logger = l
		}
	}
}

// NewDotnetToolManager returns a manager for `dotnet tool` global tools. Options
// replace the defaults, so the same manager drives any tool with a compatible
// list/dry-run/update command set.
func NewDotnetToolManager(commandManager cm.CommandManager, opts ...Option) *DotnetToolManager {
	m := &DotnetToolManager{
		CommandManager: commandManager,
		Commands:       DefaultCommands(),
		Parser:         DefaultListingParser(),
		Probe:          DefaultUpdateProbe(),
		Policy:         ClassifyStderr,
		Logger:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ListPackages runs the list command. A list command that cannot run yields an
// empty listing, the same as a tool with nothing installed.
func (m *DotnetToolManager) ListPackages(ctx context.Context) []string {
	output, ok := m.run(ctx, m.Commands.ListArgs, "")
	if !ok {
		return []string{}
	}
	packages := m.Parser.Parse(output.STDOUT)
	m.Logger.Debug("Listed packages", "count", len(packages))
	return packages
}

// CheckUpdate runs the dry-run update for pkg once. Failures count as "no update".
func (m *DotnetToolManager) CheckUpdate(ctx context.Context, pkg string) bool {
	output, ok := m.run(ctx, m.Commands.ProbeArgs, pkg)
	if !ok {
		return false
	}
	available := m.Probe.UpdateAvailable(output.STDOUT)
	m.Logger.Debug("Probed package", "package", pkg, "updateAvailable", available)
	return available
}

func (m *DotnetToolManager) UpgradePackage(ctx context.Context, pkg string) UpdateOutcome {
	config, err := m.Commands.config(m.Commands.ApplyArgs, pkg)
	if err != nil {
		m.Logger.Error("Invalid apply command", "package", pkg, "error", err)
		return UpdateOutcome{Package: pkg, Status: Failed, Diagnostic: err.Error()}
	}

	result, err := m.CommandManager.Run(ctx, config)
	if err != nil {
		m.Logger.Error("Update command did not complete", "package", pkg, "command", config.Command, "error", err)
		return UpdateOutcome{
			Package:    pkg,
			Status:     Failed,
			Output:     result.STDOUT,
			Diagnostic: err.Error(),
			ExitCode:   result.ExitCode,
			Exited:     result.Exited,
		}
	}

	outcome := Classify(pkg, result, m.Policy)
	m.Logger.Info("Update finished", "package", pkg, "status", outcome.Status.String(), "exitCode", result.ExitCode, "duration", result.Duration)
	return outcome
}

func (m *DotnetToolManager) run(ctx context.Context, args, pkg string) (cm.CommandResult, bool) {
	config, err := m.Commands.config(args, pkg)
	if err != nil {
		m.Logger.Error("Invalid command arguments", "package", pkg, "error", err)
		return cm.CommandResult{}, false
	}

	result, err := m.CommandManager.Run(ctx, config)
	if err != nil {
		m.Logger.Warn("Command did not complete, treating output as empty", "command", config.Command, "args", config.Args, "error", err)
		return cm.CommandResult{}, false
	}
	return result, true
}
