package updatemanager

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	pm "github.com/steelcutops/toolupdater/toolupdater/packagemanager"
)

const (
	BannerMsg      = "Checking for updates to installed tools..."
	NoPackagesMsg  = "No packages installed."
	InterruptedMsg = "Interrupted, remaining packages were not checked."
	PromptFmt      = "Update %s?"
	ExcludedFmt    = "Skipping %s (excluded)."
	AvailableFmt   = "Update available for %s!"
	UpToDateFmt    = "No update available for %s."
	DeclinedFmt    = "Update of %s cancelled."
	UpdatingFmt    = "Updating %s..."
	SucceededFmt   = "%s updated successfully."
	FailedFmt      = "Error while updating %s."
	DiagnosticFmt  = "Error: %s"
	SummaryFmt     = "%d checked, %d with updates, %d updated, %d declined, %d failed."
)

// Reporter prints the user facing progress of a run.
type Reporter struct {
	out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

func (r *Reporter) Banner() {
	r.println(BannerMsg)
	r.println("")
}

func (r *Reporter) NoPackages() {
	r.println(NoPackagesMsg)
}

func (r *Reporter) Interrupted() {
	r.println(color.YellowString(InterruptedMsg))
}

func (r *Reporter) Excluded(pkg string) {
	r.println(fmt.Sprintf(ExcludedFmt, pkg))
}

func (r *Reporter) Availability(pkg string, available bool) {
	if available {
		r.println(color.YellowString(AvailableFmt, pkg))
		return
	}
	r.println(fmt.Sprintf(UpToDateFmt, pkg))
}

func (r *Reporter) Declined(pkg string) {
	r.println(fmt.Sprintf(DeclinedFmt, pkg))
}

func (r *Reporter) Updating(pkg string) {
	r.println(fmt.Sprintf(UpdatingFmt, pkg))
}

// Outcome echoes the update command's standard output, then its verdict.
func (r *Reporter) Outcome(outcome pm.UpdateOutcome) {
	if output := strings.TrimRight(outcome.Output, "\n"); output != "" {
		r.println(output)
	}
	if outcome.Succeeded() {
		r.println(color.GreenString(SucceededFmt, outcome.Package))
		return
	}
	r.println(color.RedString(FailedFmt, outcome.Package))
	if diagnostic := strings.TrimSpace(outcome.Diagnostic); diagnostic != "" {
		r.println(color.RedString(DiagnosticFmt, diagnostic))
	}
}

func (r *Reporter) Summary(s Summary) {
	r.println("")
	line := fmt.Sprintf(SummaryFmt, len(s.Packages), s.Available(), s.Updated(), s.Declined(), s.Failed())
	if s.Failed() > 0 {
		line = color.New(color.FgRed).Sprint(line)
	}
	r.println(line)
}

// List prints one package id per line.
func (r *Reporter) List(packages []string) {
	if len(packages) == 0 {
		r.NoPackages()
		return
	}
	for _, pkg := range packages {
		r.println(pkg)
	}
}

func (r *Reporter) println(s string) {
	_, _ = fmt.Fprintln(r.out, s)
}
