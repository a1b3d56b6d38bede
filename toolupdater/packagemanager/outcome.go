package packagemanager

import (
	"fmt"
	"strings"

	cm "github.com/steelcutops/toolupdater/toolupdater/commandmanager"
)

type UpdateStatus int

const (
	Succeeded UpdateStatus = iota
	Failed
)

func (s UpdateStatus) String() string {
	if s == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// UpdateOutcome is the classified result of one update invocation. Both the exit
// status and the standard error text are kept regardless of the policy used.
type UpdateOutcome struct {
	Package    string
	Status     UpdateStatus
	Output     string
	Diagnostic string
	ExitCode   int
	Exited     bool
}

func (o UpdateOutcome) Succeeded() bool {
	return o.Status == Succeeded
}

// Err returns an *UpdateError for a failed outcome and nil otherwise.
func (o UpdateOutcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return &UpdateError{Package: o.Package, Diagnostic: o.Diagnostic, ExitCode: o.ExitCode}
}

type UpdateError struct {
	Package    string
	Diagnostic string
	ExitCode   int
}

func (e *UpdateError) Error() string {
	diagnostic := strings.TrimSpace(e.Diagnostic)
	if diagnostic == "" {
		return fmt.Sprintf("update %s failed", e.Package)
	}
	return fmt.Sprintf("update %s failed: %s", e.Package, diagnostic)
}

// ClassifyPolicy selects which signal decides whether an update succeeded.
type ClassifyPolicy string

const (
	// ClassifyStderr treats any non-blank standard error as failure. Tools that
	// print warnings on stderr are reported as failed under this policy.
	ClassifyStderr ClassifyPolicy = "stderr"
	// ClassifyExitCode trusts the exit status; stderr is kept as diagnostics only.
	ClassifyExitCode ClassifyPolicy = "exit-code"
	// ClassifyStrict fails when either signal reports a problem.
	ClassifyStrict ClassifyPolicy = "strict"
)

func ParseClassifyPolicy(s string) (ClassifyPolicy, error) {
	switch p := ClassifyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ClassifyStderr, nil
	case ClassifyStderr, ClassifyExitCode, ClassifyStrict:
		return p, nil
	default:
		return "", fmt.Errorf("unknown classify policy %q (want %s, %s or %s)", s, ClassifyStderr, ClassifyExitCode, ClassifyStrict)
	}
}

// Classify derives the outcome of an update from the captured process result.
func Classify(pkg string, result cm.CommandResult, policy ClassifyPolicy) UpdateOutcome {
	outcome := UpdateOutcome{
		Package:    pkg,
		Status:     Succeeded,
		Output:     result.STDOUT,
		Diagnostic: result.STDERR,
		ExitCode:   result.ExitCode,
		Exited:     result.Exited,
	}

	stderrFailed := strings.TrimSpace(result.STDERR) != ""
	exitFailed := !result.Exited || result.ExitCode != 0

	var failed bool
	switch policy {
	case ClassifyExitCode:
		failed = exitFailed
	case ClassifyStrict:
		failed = stderrFailed || exitFailed
	default:
		failed = stderrFailed
	}

	if failed {
		outcome.Status = Failed
		if !stderrFailed {
			outcome.Diagnostic = exitDiagnostic(result)
		}
	}
	return outcome
}

func exitDiagnostic(result cm.CommandResult) string {
	if !result.Exited {
		return "process did not exit normally"
	}
	return fmt.Sprintf("exit status %d", result.ExitCode)
}
