package updatemanager

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pm "github.com/steelcutops/toolupdater/toolupdater/packagemanager"
)

type MockPackageManager struct {
	Packages []string
	Updates  map[string]bool
	Outcomes map[string]pm.UpdateOutcome
	Calls    []string
	OnList   func()
}

func (m *MockPackageManager) ListPackages(ctx context.Context) []string {
	m.Calls = append(m.Calls, "list")
	if m.OnList != nil {
		m.OnList()
	}
	return m.Packages
}

func (m *MockPackageManager) CheckUpdate(ctx context.Context, pkg string) bool {
	m.Calls = append(m.Calls, "probe "+pkg)
	return m.Updates[pkg]
}

func (m *MockPackageManager) UpgradePackage(ctx context.Context, pkg string) pm.UpdateOutcome {
	m.Calls = append(m.Calls, "apply "+pkg)
	if outcome, ok := m.Outcomes[pkg]; ok {
		return outcome
	}
	return pm.UpdateOutcome{Package: pkg, Status: pm.Succeeded}
}

type MockPrompter struct {
	Answers   []bool
	Err       error
	Questions []string
	OnConfirm func()
}

func (p *MockPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	p.Questions = append(p.Questions, question)
	if p.OnConfirm != nil {
		p.OnConfirm()
	}
	if p.Err != nil {
		return false, p.Err
	}
	if len(p.Answers) == 0 {
		return false, nil
	}
	answer := p.Answers[0]
	p.Answers = p.Answers[1:]
	return answer, nil
}

func TestRunNoPackages(t *testing.T) {
	var out bytes.Buffer
	pkgs := &MockPackageManager{Packages: []string{}}
	prompter := &MockPrompter{}
	manager := UpdateManager{PackageManager: pkgs, Prompter: prompter, Reporter: NewReporter(&out)}

	summary, err := manager.Run(context.Background())

	require.NoError(t, err)
	assert.Empty(t, summary.Packages)
	assert.Equal(t, []string{"list"}, pkgs.Calls)
	assert.Empty(t, prompter.Questions)
	assert.Contains(t, out.String(), NoPackagesMsg)
}

func TestRunSequentialFlow(t *testing.T) {
	var out bytes.Buffer
	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB", "PackC"},
		Updates:  map[string]bool{"PackA": true, "PackC": true},
		Outcomes: map[string]pm.UpdateOutcome{
			"PackA": {Package: "PackA", Status: pm.Succeeded, Output: "Tool 'packa' was successfully updated.\n"},
		},
	}
	prompter := &MockPrompter{Answers: []bool{true, false}}
	manager := UpdateManager{PackageManager: pkgs, Prompter: prompter, Reporter: NewReporter(&out)}

	summary, err := manager.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"list", "probe PackA", "apply PackA", "probe PackB", "probe PackC"}, pkgs.Calls)
	assert.Equal(t, []string{"Update PackA?", "Update PackC?"}, prompter.Questions)

	require.Len(t, summary.Packages, 3)
	assert.Equal(t, Accepted, summary.Packages[0].Decision)
	assert.NotNil(t, summary.Packages[0].Outcome)
	assert.False(t, summary.Packages[1].UpdateAvailable)
	assert.Equal(t, NotAsked, summary.Packages[1].Decision)
	assert.Equal(t, Declined, summary.Packages[2].Decision)
	assert.Nil(t, summary.Packages[2].Outcome)

	assert.Equal(t, 2, summary.Available())
	assert.Equal(t, 1, summary.Updated())
	assert.Equal(t, 1, summary.Declined())
	assert.Equal(t, 0, summary.Failed())

	report := out.String()
	assert.Contains(t, report, BannerMsg)
	assert.Contains(t, report, "Update available for PackA!")
	assert.Contains(t, report, "Tool 'packa' was successfully updated.")
	assert.Contains(t, report, "PackA updated successfully.")
	assert.Contains(t, report, "No update available for PackB.")
	assert.Contains(t, report, "Update of PackC cancelled.")
	assert.Contains(t, report, "3 checked, 2 with updates, 1 updated, 1 declined, 0 failed.")
}

func TestRunFailureDoesNotStopBatch(t *testing.T) {
	var out bytes.Buffer
	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true, "PackB": true},
		Outcomes: map[string]pm.UpdateOutcome{
			"PackA": {Package: "PackA", Status: pm.Failed, Diagnostic: "Error: network unreachable"},
		},
	}
	manager := UpdateManager{
		PackageManager: pkgs,
		Prompter:       &MockPrompter{Answers: []bool{true, true}},
		Reporter:       NewReporter(&out),
	}

	summary, err := manager.Run(context.Background())

	require.Error(t, err)
	var updateErr *pm.UpdateError
	require.True(t, errors.As(err, &updateErr))
	assert.Equal(t, "PackA", updateErr.Package)

	assert.Equal(t, []string{"list", "probe PackA", "apply PackA", "probe PackB", "apply PackB"}, pkgs.Calls)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 1, summary.Updated())
	assert.Contains(t, out.String(), "Error while updating PackA.")
	assert.Contains(t, out.String(), "Error: network unreachable")
}

func TestRunCheckOnly(t *testing.T) {
	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true},
	}
	prompter := &MockPrompter{Answers: []bool{true}}
	manager := UpdateManager{PackageManager: pkgs, Prompter: prompter, CheckOnly: true}

	summary, err := manager.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"list", "probe PackA", "probe PackB"}, pkgs.Calls)
	assert.Empty(t, prompter.Questions)
	assert.Equal(t, 1, summary.Available())
}

func TestRunExclude(t *testing.T) {
	var out bytes.Buffer
	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true, "PackB": true},
	}
	manager := UpdateManager{
		PackageManager: pkgs,
		Prompter:       &MockPrompter{Answers: []bool{true}},
		Reporter:       NewReporter(&out),
		Exclude:        []string{" packa "},
	}

	summary, err := manager.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"list", "probe PackB", "apply PackB"}, pkgs.Calls)
	assert.True(t, summary.Packages[0].Excluded)
	assert.Contains(t, out.String(), "Skipping PackA (excluded).")
}

func TestRunPromptErrorDeclines(t *testing.T) {
	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true},
	}
	manager := UpdateManager{PackageManager: pkgs, Prompter: &MockPrompter{Err: errors.New("tty gone")}}

	summary, err := manager.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt for PackA: tty gone")
	assert.Equal(t, []string{"list", "probe PackA", "probe PackB"}, pkgs.Calls)
	assert.Equal(t, Declined, summary.Packages[0].Decision)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	pkgs := &MockPackageManager{Packages: []string{"PackA"}}
	manager := UpdateManager{PackageManager: pkgs}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pkgs.Calls)
}

func TestRunCancelledBetweenPackages(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true, "PackB": true},
	}
	manager := UpdateManager{
		PackageManager: pkgs,
		Prompter:       &MockPrompter{Answers: []bool{true, true}, OnConfirm: cancel},
		Reporter:       NewReporter(&out),
	}

	summary, err := manager.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"list", "probe PackA", "apply PackA"}, pkgs.Calls)
	assert.Len(t, summary.Packages, 1)
	assert.Contains(t, out.String(), InterruptedMsg)
}

func TestRunCancelledWhileListing(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pkgs := &MockPackageManager{Packages: []string{}, OnList: cancel}
	manager := UpdateManager{PackageManager: pkgs, Reporter: NewReporter(&out)}

	summary, err := manager.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, summary.Packages)
	assert.Contains(t, out.String(), InterruptedMsg)
	assert.NotContains(t, out.String(), NoPackagesMsg)
}

func TestRunCancelledAtPrompt(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pkgs := &MockPackageManager{
		Packages: []string{"PackA", "PackB"},
		Updates:  map[string]bool{"PackA": true, "PackB": true},
	}
	manager := UpdateManager{
		PackageManager: pkgs,
		Prompter:       &MockPrompter{Err: context.Canceled, OnConfirm: cancel},
		Reporter:       NewReporter(&out),
	}

	summary, err := manager.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "prompt for")
	assert.Equal(t, []string{"list", "probe PackA"}, pkgs.Calls)
	require.Len(t, summary.Packages, 1)
	assert.Equal(t, Declined, summary.Packages[0].Decision)
	assert.Contains(t, out.String(), InterruptedMsg)
}

func TestRunDefaultsDeclineWithoutPrompter(t *testing.T) {
	pkgs := &MockPackageManager{
		Packages: []string{"PackA"},
		Updates:  map[string]bool{"PackA": true},
	}
	manager := UpdateManager{PackageManager: pkgs}

	summary, err := manager.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"list", "probe PackA"}, pkgs.Calls)
	assert.Equal(t, 1, summary.Declined())
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "not asked", NotAsked.String())
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "declined", Declined.String())
}

func TestReporterList(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out)

	r.List([]string{"PackA", "PackB"})
	r.List(nil)

	assert.Equal(t, "PackA\nPackB\n"+NoPackagesMsg+"\n", out.String())
}
