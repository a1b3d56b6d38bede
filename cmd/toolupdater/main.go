package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steelcutops/toolupdater/logger"
	cm "github.com/steelcutops/toolupdater/toolupdater/commandmanager"
	"github.com/steelcutops/toolupdater/toolupdater/config"
	pm "github.com/steelcutops/toolupdater/toolupdater/packagemanager"
	"github.com/steelcutops/toolupdater/toolupdater/promptmanager"
	"github.com/steelcutops/toolupdater/toolupdater/updatemanager"
)

// exitInterrupted is the conventional status for a run stopped by SIGINT.
const exitInterrupted = 130

var (
	newPackageManagerFunc = newPackageManager
	readSecretFunc        = readSecret
)

type mode int

const (
	modeUpdate mode = iota
	modeList
	modeCheck
)

type flags struct {
	AssumeYes          bool
	ConfigPath         string
	Debug              bool
	Exclude            []string
	Hostname           string
	KeyPassPrompt      bool
	LogFileName        string
	NoColor            bool
	PasswordPrompt     bool
	SudoPasswordPrompt bool
	Timeout            time.Duration
	Username           string
}

func main() {
	runMain(os.Args, os.Stdin, os.Stdout, os.Stderr, os.Exit)
}

// runMain executes the CLI and maps the returned error to an exit status.
func runMain(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// a second interrupt falls through to the default handler and kills the process
		<-ctx.Done()
		stop()
	}()

	err := execute(ctx, args, stdin, stdout, stderr)
	if err == nil {
		return
	}
	_, _ = fmt.Fprintln(stderr, color.RedString("Error: %v", err))
	if errors.Is(err, context.Canceled) {
		exit(exitInterrupted)
		return
	}
	exit(1)
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	cmd := newRootCmd()
	if len(args) > 1 {
		cmd.SetArgs(args[1:])
	} else {
		cmd.SetArgs([]string{})
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "toolupdater",
		Short:         "Check installed tools for updates and apply them one by one",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, modeUpdate)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.ConfigPath, "config", "c", "", "Path to INI config file (default ~/.config/toolupdater/config.ini)")
	pf.BoolVarP(&f.AssumeYes, "yes", "y", false, "Apply every available update without asking")
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	pf.StringVar(&f.LogFileName, "log", "", "Append logs to this file instead of stderr")
	pf.DurationVar(&f.Timeout, "timeout", 0, "Timeout for each tool invocation (0 disables)")
	pf.StringSliceVar(&f.Exclude, "exclude", nil, "Package ids to skip, may be repeated")
	pf.BoolVar(&f.NoColor, "no-color", false, "Disable colored output")
	pf.StringVar(&f.Hostname, "hostname", "", "Run the tool on this host over SSH")
	pf.StringVar(&f.Username, "username", "", "Username to use for SSH connection")
	pf.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for the SSH password")
	pf.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the SSH key passphrase")
	pf.BoolVar(&f.SudoPasswordPrompt, "sudo-password", false, "Prompt for the sudo password")

	root.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, f, modeList)
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Report which packages have updates without applying them",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, f, modeCheck)
			},
		},
	)
	return root
}

func run(cmd *cobra.Command, f *flags, m mode) error {
	if f.NoColor {
		color.NoColor = true
	}

	log, closeLog, err := configureLogger(f, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Debug("Configuration loaded", "binary", cfg.Runtime.Binary, "hostname", cfg.Remote.Hostname)

	creds, err := readCredentials(f, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if creds.User == "" {
		creds.User = cfg.Remote.User
	}

	packages, err := newPackageManagerFunc(cfg, creds, log)
	if err != nil {
		return err
	}

	reporter := updatemanager.NewReporter(cmd.OutOrStdout())
	if m == modeList {
		reporter.List(packages.ListPackages(cmd.Context()))
		return cmd.Context().Err()
	}

	manager := updatemanager.UpdateManager{
		PackageManager: packages,
		Prompter:       promptmanager.New(cmd.InOrStdin(), cmd.OutOrStdout(), f.AssumeYes),
		Reporter:       reporter,
		Logger:         log,
		Exclude:        cfg.Excluded(),
		CheckOnly:      m == modeCheck,
	}
	_, err = manager.Run(cmd.Context())
	return err
}

func configureLogger(f *flags, stderr io.Writer) (logger.Logger, func(), error) {
	opts := logger.Options{Output: stderr, Level: logrus.WarnLevel}
	if f.Debug {
		opts.Level = logrus.DebugLevel
	}

	if f.LogFileName == "" {
		return logger.New(opts), func() {}, nil
	}
	file, err := os.OpenFile(f.LogFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	opts.Output = file
	if !f.Debug {
		opts.Level = logrus.InfoLevel
	}
	return logger.New(opts), func() { _ = file.Close() }, nil
}

// applyFlags lets command line values override the config file.
func applyFlags(cfg *config.Config, f *flags) {
	if f.Timeout > 0 {
		cfg.Runtime.Timeout = f.Timeout
	}
	if f.Hostname != "" {
		cfg.Remote.Hostname = f.Hostname
	}
	if f.Username != "" {
		cfg.Remote.User = f.Username
	}
	cfg.Packages.Exclude = append(cfg.Packages.Exclude, f.Exclude...)
}

func readCredentials(f *flags, prompts io.Writer) (cm.Credentials, error) {
	creds := cm.Credentials{User: f.Username}

	secrets := []struct {
		enabled bool
		prompt  string
		target  *string
	}{
		{f.PasswordPrompt, "Enter the password: ", &creds.Password},
		{f.KeyPassPrompt, "Enter the key passphrase: ", &creds.KeyPassphrase},
		{f.SudoPasswordPrompt, "Enter the sudo password: ", &creds.SudoPassword},
	}
	for _, s := range secrets {
		if !s.enabled {
			continue
		}
		value, err := readSecretFunc(s.prompt, prompts)
		if err != nil {
			return creds, err
		}
		*s.target = value
	}
	return creds, nil
}

func readSecret(prompt string, out io.Writer) (string, error) {
	_, _ = fmt.Fprint(out, prompt)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(value), nil
}

func newPackageManager(cfg config.Config, creds cm.Credentials, log logger.Logger) (pm.PackageManager, error) {
	probe, err := cfg.UpdateProbe()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.ClassifyPolicy()
	if err != nil {
		return nil, err
	}

	commands := &cm.UnixCommandManager{
		Hostname:              cfg.Remote.Hostname,
		Port:                  cfg.Remote.Port,
		SSHClient:             cm.RealSSHDialer{},
		KnownHostsPath:        cfg.Remote.KnownHosts,
		InsecureIgnoreHostKey: cfg.Remote.InsecureIgnoreHostKey,
		Logger:                log,
		Credentials:           creds,
	}

	return pm.NewDotnetToolManager(commands,
		pm.WithCommands(cfg.Commands()),
		pm.WithListingParser(cfg.ListingParser()),
		pm.WithUpdateProbe(probe),
		pm.WithClassifyPolicy(policy),
		pm.WithLogger(log),
	), nil
}
