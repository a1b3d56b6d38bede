package commandmanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/steelcutops/toolupdater/logger"
)

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 30 * time.Second
	defaultKnownHosts  = "~/.ssh/known_hosts"

	// waitDelay bounds how long Wait keeps draining pipes after the process is killed.
	waitDelay = 5 * time.Second
)

type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

// RealSSHDialer dials with golang.org/x/crypto/ssh.
type RealSSHDialer struct{}

func (RealSSHDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	cfg := *config
	cfg.Timeout = timeout
	return ssh.Dial(network, addr, &cfg)
}

type UnixCommandManager struct {
	Hostname              string
	Port                  int
	SSHClient             SSHDialer
	Keys                  KeySource
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	Logger                logger.Logger
	Credentials
}

func (u *UnixCommandManager) RunLocal(ctx context.Context, config CommandConfig) (CommandResult, error) {
	ctx, cancel := withTimeout(ctx, config.Timeout)
	defer cancel()

	name, args := config.Command, config.Args
	if config.Sudo {
		args = append([]string{"-S", name}, args...)
		name = "sudo"
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}
	if config.Sudo {
		cmd.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	result := CommandResult{
		Command:   commandLine(name, args),
		Timestamp: start,
	}
	u.log().Debug("Running local command", "command", result.Command)

	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		return result, &StartError{Command: config.Command, Err: err}
	}
	err := cmd.Wait()

	result.Duration = time.Since(start)
	result.STDOUT = stdout.String()
	result.STDERR = stderr.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s did not finish: %w", config.Command, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Exited = true
	case errors.As(err, &exitErr):
		result.Exited = exitErr.Exited()
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, err
	}

	if config.Sudo {
		if err := sudoError(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (u *UnixCommandManager) RunRemote(ctx context.Context, config CommandConfig) (CommandResult, error) {
	u.log().Debug("Executing remote command", "hostname", u.Hostname, "command", config.Command)

	if u.SSHClient == nil {
		return CommandResult{}, errors.New("SSHClient is not initialized")
	}

	ctx, cancel := withTimeout(ctx, config.Timeout)
	defer cancel()

	sshConfig, err := u.getSSHConfig()
	if err != nil {
		return CommandResult{}, err
	}

	dialTimeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}

	client, err := u.SSHClient.Dial("tcp", u.address(), sshConfig, dialTimeout)
	if err != nil {
		return CommandResult{}, &StartError{Command: config.Command, Err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, &StartError{Command: config.Command, Err: err}
	}
	defer session.Close()

	cmdStr := remoteCommandLine(config)
	if config.Sudo {
		cmdStr = "sudo -S " + cmdStr
		session.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	result := CommandResult{Command: cmdStr, Timestamp: start}

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		_ = client.Close()
		<-done
		result.Duration = time.Since(start)
		result.STDOUT = stdout.String()
		result.STDERR = stderr.String()
		return result, fmt.Errorf("%s over SSH did not finish: %w", config.Command, ctx.Err())
	}

	result.Duration = time.Since(start)
	result.STDOUT = stdout.String()
	result.STDERR = stderr.String()

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		result.Exited = true
	case errors.As(err, &exitErr):
		result.Exited = true
		result.ExitCode = exitErr.ExitStatus()
	default:
		u.log().Error("Failed to execute command over SSH", "command", cmdStr, "error", err)
		return result, err
	}

	if config.Sudo {
		if err := sudoError(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (u *UnixCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if u.isLocal() {
		return u.RunLocal(ctx, config)
	}
	return u.RunRemote(ctx, config)
}

func (u *UnixCommandManager) isLocal() bool {
	return u.Hostname == "" || u.Hostname == "localhost" || u.Hostname == "127.0.0.1"
}

func (u *UnixCommandManager) address() string {
	port := u.Port
	if port == 0 {
		port = defaultSSHPort
	}
	return net.JoinHostPort(u.Hostname, strconv.Itoa(port))
}

func (u *UnixCommandManager) log() logger.Logger {
	if u.Logger == nil {
		return logger.NewNop()
	}
	return u.Logger
}

func (u *UnixCommandManager) getSSHConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if u.Password != "" {
		u.log().Debug("Using password authentication", "hostname", u.Hostname)
		authMethod = ssh.Password(u.Password)
	} else {
		u.log().Debug("Using public key authentication", "hostname", u.Hostname)
		source := u.Keys
		if source == nil {
			source = defaultKeySource(u.KeyPassphrase)
		}

		keys, err := source.Signers(u.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("public key authentication: %w", err)
		}

		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	hostKeyCallback, err := u.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	username := u.User
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("could not get current user: %w", err)
		}
		username = current.Username
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (u *UnixCommandManager) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if u.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := u.KnownHostsPath
	if path == "" {
		path = defaultKnownHosts
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	callback, err := knownhosts.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", expanded, err)
	}
	return callback, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func sudoError(result CommandResult) error {
	output := result.STDOUT + result.STDERR
	if strings.Contains(output, "incorrect password") {
		return errors.New("sudo: incorrect password provided")
	}
	if strings.Contains(output, "is not in the sudoers file") {
		return errors.New("sudo: user is not in the sudoers file")
	}
	return nil
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

func remoteCommandLine(config CommandConfig) string {
	parts := make([]string, 0, len(config.Env)+len(config.Args)+2)
	if len(config.Env) > 0 {
		parts = append(parts, "env")
		for _, kv := range config.Env {
			parts = append(parts, shellQuote(kv))
		}
	}
	parts = append(parts, shellQuote(config.Command))
	for _, arg := range config.Args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

// shellQuote quotes s for a POSIX shell unless it only has safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("_-./:=@%+,", r)
}
