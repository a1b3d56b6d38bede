package commandmanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func writeKey(t *testing.T, path, passphrase string) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return priv
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "id_ed25519"), "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_ed25519.pub"), []byte("ssh-ed25519 AAAA"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_garbage"), []byte("not a key"), 0o600))

	signers, err := KeyFiles{Pattern: filepath.Join(dir, "id_*")}.Signers("")

	require.NoError(t, err)
	require.Len(t, signers, 1)
	assert.Equal(t, ssh.KeyAlgoED25519, signers[0].PublicKey().Type())
}

func TestKeyFilesPassphrase(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "id_ed25519"), "hunter2")
	pattern := filepath.Join(dir, "id_*")

	signers, err := KeyFiles{Pattern: pattern}.Signers("hunter2")
	require.NoError(t, err)
	assert.Len(t, signers, 1)

	_, err = KeyFiles{Pattern: pattern}.Signers("wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_ed25519")
}

func TestKeyFilesNoMatch(t *testing.T) {
	dir := t.TempDir()

	_, err := KeyFiles{Pattern: filepath.Join(dir, "id_*")}.Signers("")

	assert.EqualError(t, err, "no private key matches "+filepath.Join(dir, "id_*"))
}

func TestKeyFilesReportsUnusableKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id_garbage"), []byte("not a key"), 0o600))

	_, err := KeyFiles{Pattern: filepath.Join(dir, "id_*")}.Signers("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable private key")
	assert.Contains(t, err.Error(), "id_garbage")
}

func TestAgentKeysWithoutSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	_, err := AgentKeys{}.Signers("")

	assert.EqualError(t, err, "no ssh-agent: SSH_AUTH_SOCK is not set")
}

func TestAgentKeys(t *testing.T) {
	dir, err := os.MkdirTemp("", "agent")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "agent.sock")

	keyring := agent.NewKeyring()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, keyring.Add(agent.AddedKey{PrivateKey: priv}))

	listener, err := net.Listen("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for ctx.Err() == nil {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	signers, err := AgentKeys{Socket: socket}.Signers("")

	require.NoError(t, err)
	require.Len(t, signers, 1)
	signature, err := signers[0].Sign(rand.Reader, []byte("payload"))
	require.NoError(t, err)
	assert.NoError(t, signers[0].PublicKey().Verify([]byte("payload"), signature))
}

type staticKeys struct {
	signers []ssh.Signer
	err     error
	calls   *int
}

func (s staticKeys) Signers(string) ([]ssh.Signer, error) {
	*s.calls++
	return s.signers, s.err
}

func TestFallbackKeys(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, filepath.Join(dir, "id_ed25519"), "")
	var agentCalls, fileCalls int

	source := FallbackKeys{
		staticKeys{err: errors.New("ssh-agent holds no keys"), calls: &agentCalls},
		KeyFiles{Pattern: filepath.Join(dir, "id_*")},
		staticKeys{calls: &fileCalls},
	}

	signers, err := source.Signers("")

	require.NoError(t, err)
	assert.Len(t, signers, 1)
	assert.Equal(t, 1, agentCalls)
	assert.Equal(t, 0, fileCalls)
}

func TestFallbackKeysAllFail(t *testing.T) {
	var calls int
	source := FallbackKeys{
		staticKeys{err: errors.New("agent down"), calls: &calls},
		staticKeys{err: errors.New("no key files"), calls: &calls},
	}

	_, err := source.Signers("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent down")
	assert.Contains(t, err.Error(), "no key files")
	assert.Equal(t, 2, calls)

	_, err = FallbackKeys{}.Signers("")
	assert.Error(t, err)
}

func TestRemoteAuthUsesConfiguredKeys(t *testing.T) {
	var calls int
	manager := UnixCommandManager{
		Hostname:              "remote",
		SSHClient:             &MockSSHClient{dialError: errors.New("unreachable")},
		InsecureIgnoreHostKey: true,
		Keys:                  staticKeys{err: errors.New("no keys here"), calls: &calls},
		Credentials:           Credentials{User: "user"},
	}

	_, err := manager.RunRemote(context.Background(), CommandConfig{Command: "dotnet"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key authentication: no keys here")
	assert.Equal(t, 1, calls)
}
