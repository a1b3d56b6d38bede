package commandmanager

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	multierror "github.com/hashicorp/go-multierror"
	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const defaultKeyPattern = "~/.ssh/id_*"

// KeySource supplies the signers offered for public key authentication.
type KeySource interface {
	Signers(passphrase string) ([]ssh.Signer, error)
}

// KeyFiles reads private keys from the files matching Pattern (~/.ssh/id_* when
// empty). Public halves are ignored.
type KeyFiles struct {
	Pattern string
}

func (k KeyFiles) Signers(passphrase string) ([]ssh.Signer, error) {
	pattern := k.Pattern
	if pattern == "" {
		pattern = defaultKeyPattern
	}
	pattern, err := homedir.Expand(pattern)
	if err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("key pattern %s: %w", pattern, err)
	}

	var signers []ssh.Signer
	var skipped *multierror.Error
	for _, path := range paths {
		if filepath.Ext(path) == ".pub" {
			continue
		}
		signer, err := parseKeyFile(path, passphrase)
		if err != nil {
			skipped = multierror.Append(skipped, err)
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) > 0 {
		return signers, nil
	}
	if err := skipped.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("no usable private key matches %s: %w", pattern, err)
	}
	return nil, fmt.Errorf("no private key matches %s", pattern)
}

func parseKeyFile(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var signer ssh.Signer
	if passphrase == "" {
		signer, err = ssh.ParsePrivateKey(data)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return signer, nil
}

// AgentKeys asks a running ssh-agent. Socket defaults to $SSH_AUTH_SOCK.
type AgentKeys struct {
	Socket string
}

func (a AgentKeys) Signers(string) ([]ssh.Signer, error) {
	socket := a.Socket
	if socket == "" {
		socket = os.Getenv("SSH_AUTH_SOCK")
	}
	if socket == "" {
		return nil, errors.New("no ssh-agent: SSH_AUTH_SOCK is not set")
	}

	// agent signers sign through this connection, so it stays open
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connect to ssh-agent: %w", err)
	}

	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("list ssh-agent keys: %w", err)
	}
	if len(signers) == 0 {
		_ = conn.Close()
		return nil, errors.New("ssh-agent holds no keys")
	}
	return signers, nil
}

// FallbackKeys uses the first source that yields any signer.
type FallbackKeys []KeySource

func (f FallbackKeys) Signers(passphrase string) ([]ssh.Signer, error) {
	if len(f) == 0 {
		return nil, errors.New("no key sources configured")
	}
	var result *multierror.Error
	for _, source := range f {
		signers, err := source.Signers(passphrase)
		if err == nil {
			return signers, nil
		}
		result = multierror.Append(result, err)
	}
	return nil, result
}

// defaultKeySource prefers key files when a passphrase was given and the agent otherwise.
func defaultKeySource(passphrase string) KeySource {
	if passphrase != "" {
		return FallbackKeys{KeyFiles{}, AgentKeys{}}
	}
	return FallbackKeys{AgentKeys{}, KeyFiles{}}
}
