// Package updatemanager walks the installed packages, probes each for an update,
// asks before applying it and reports the result. Packages are handled one at a
// time and a failure never stops the run.
package updatemanager

import (
	"context"
	"fmt"
	"io"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/steelcutops/toolupdater/logger"
	pm "github.com/steelcutops/toolupdater/toolupdater/packagemanager"
	"github.com/steelcutops/toolupdater/toolupdater/promptmanager"
)

type Decision int

const (
	NotAsked Decision = iota
	Accepted
	Declined
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Declined:
		return "declined"
	default:
		return "not asked"
	}
}

// PackageReport is what one loop iteration learned about a package.
type PackageReport struct {
	Package         string
	Excluded        bool
	UpdateAvailable bool
	Decision        Decision
	Outcome         *pm.UpdateOutcome // nil unless an update was attempted
}

type Summary struct {
	Packages []PackageReport
}

func (s Summary) Available() int {
	return s.count(func(r PackageReport) bool { return r.UpdateAvailable })
}

func (s Summary) Updated() int {
	return s.count(func(r PackageReport) bool { return r.Outcome != nil && r.Outcome.Succeeded() })
}

func (s Summary) Failed() int {
	return s.count(func(r PackageReport) bool { return r.Outcome != nil && !r.Outcome.Succeeded() })
}

func (s Summary) Declined() int {
	return s.count(func(r PackageReport) bool { return r.Decision == Declined })
}

func (s Summary) count(match func(PackageReport) bool) int {
	n := 0
	for _, r := range s.Packages {
		if match(r) {
			n++
		}
	}
	return n
}

type UpdateManager struct {
	PackageManager pm.PackageManager
	Prompter       promptmanager.Prompter
	Reporter       *Reporter
	Logger         logger.Logger
	Exclude        []string
	// CheckOnly probes every package but never prompts or updates.
	CheckOnly bool
}

// Run lists the installed packages and processes them in order. The returned
// error aggregates failed updates, prompt errors and cancellation; the summary
// covers every package that was reached. Cancellation is honoured after the
// listing and after each package, including while waiting for an answer.
func (m *UpdateManager) Run(ctx context.Context) (Summary, error) {
	m.setDefaults()
	summary := Summary{Packages: []PackageReport{}}

	m.Reporter.Banner()
	if err := ctx.Err(); err != nil {
		m.Reporter.Interrupted()
		return summary, fmt.Errorf("update run interrupted: %w", err)
	}

	packages := m.PackageManager.ListPackages(ctx)
	// an interrupted listing comes back empty and must not read as "nothing installed"
	if err := ctx.Err(); err != nil {
		m.Reporter.Interrupted()
		return summary, fmt.Errorf("update run interrupted while listing packages: %w", err)
	}
	if len(packages) == 0 {
		m.Reporter.NoPackages()
		return summary, nil
	}
	m.Logger.Info("Checking packages", "count", len(packages))

	var result *multierror.Error
	for _, pkg := range packages {
		report, err := m.process(ctx, pkg)
		summary.Packages = append(summary.Packages, report)
		if err != nil {
			result = multierror.Append(result, err)
		}

		if err := ctx.Err(); err != nil {
			m.Reporter.Interrupted()
			result = multierror.Append(result, fmt.Errorf("update run interrupted after %s: %w", pkg, err))
			break
		}
	}

	m.Reporter.Summary(summary)
	return summary, result.ErrorOrNil()
}

func (m *UpdateManager) process(ctx context.Context, pkg string) (PackageReport, error) {
	report := PackageReport{Package: pkg}

	if m.excluded(pkg) {
		report.Excluded = true
		m.Reporter.Excluded(pkg)
		return report, nil
	}

	report.UpdateAvailable = m.PackageManager.CheckUpdate(ctx, pkg)
	m.Reporter.Availability(pkg, report.UpdateAvailable)
	if !report.UpdateAvailable || m.CheckOnly {
		return report, nil
	}

	confirmed, err := m.Prompter.Confirm(ctx, fmt.Sprintf(PromptFmt, pkg))
	if err != nil {
		report.Decision = Declined
		m.Reporter.Declined(pkg)
		if ctx.Err() != nil {
			// Run reports the interruption
			return report, nil
		}
		m.Logger.Warn("Prompt failed, leaving package untouched", "package", pkg, "error", err)
		return report, fmt.Errorf("prompt for %s: %w", pkg, err)
	}
	if !confirmed {
		report.Decision = Declined
		m.Reporter.Declined(pkg)
		return report, nil
	}

	report.Decision = Accepted
	m.Reporter.Updating(pkg)
	outcome := m.PackageManager.UpgradePackage(ctx, pkg)
	report.Outcome = &outcome
	m.Reporter.Outcome(outcome)
	return report, outcome.Err()
}

func (m *UpdateManager) excluded(pkg string) bool {
	for _, name := range m.Exclude {
		if strings.EqualFold(strings.TrimSpace(name), pkg) {
			return true
		}
	}
	return false
}

func (m *UpdateManager) setDefaults() {
	if m.Reporter == nil {
		m.Reporter = NewReporter(io.Discard)
	}
	if m.Logger == nil {
		m.Logger = logger.NewNop()
	}
	if m.Prompter == nil {
		m.Prompter = promptmanager.AutoPrompter{}
	}
}
