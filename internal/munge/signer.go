package munge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/qiskit-community/qrmi/internal/util"
)

// HeaderName is the request header carrying the credential.
const HeaderName = "X-Munge-Cred"

// DefaultCommand is the munge client binary.
const DefaultCommand = "munge"

// Signer produces MUNGE credentials.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (string, error)
}

// CommandSigner encodes credentials with the munge client.
type CommandSigner struct {
	// Command defaults to DefaultCommand.
	Command string
	// Socket overrides the munged socket path.
	Socket string
}

// Sign runs the munge client with payload on stdin. An empty payload is
// encoded with -n.
func (s *CommandSigner) Sign(ctx context.Context, payload []byte) (string, error) {
	command := s.Command
	if command == "" {
		command = DefaultCommand
	}

	var args []string
	if len(payload) == 0 {
		args = append(args, "-n")
	}
	if s.Socket != "" {
		args = append(args, "-S", s.Socket)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	if len(payload) > 0 {
		cmd.Stdin = bytes.NewReader(payload)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: munge client %q not found", util.ErrCredentialsMissing, command)
		}
		return "", fmt.Errorf("munge encode failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	cred := strings.TrimSpace(stdout.String())
	if cred == "" {
		return "", fmt.Errorf("%w: munge returned an empty credential", util.ErrMalformedCredential)
	}
	return cred, nil
}

// StaticSigner returns Credential for every payload.
type StaticSigner struct {
	Credential string
}

// Sign implements Signer.
func (s StaticSigner) Sign(context.Context, []byte) (string, error) {
	if s.Credential == "" {
		return "", fmt.Errorf("%w: static munge credential is empty", util.ErrCredentialsMissing)
	}
	return s.Credential, nil
}

// Authenticator supplies a freshly signed credential per request.
type Authenticator struct {
	Signer Signer
	// Payload is signed into every credential.
	Payload []byte
}

// NewAuthenticator wraps signer.
func NewAuthenticator(signer Signer) *Authenticator {
	return &Authenticator{Signer: signer}
}

// GetToken signs a new credential.
func (a *Authenticator) GetToken(ctx context.Context) (string, error) {
	if a.Signer == nil {
		return "", fmt.Errorf("%w: no munge signer", util.ErrCredentialsMissing)
	}
	return a.Signer.Sign(ctx, a.Payload)
}

// Renew signs a new credential after a rejection.
func (a *Authenticator) Renew(ctx context.Context, _ string) (string, error) {
	return a.GetToken(ctx)
}

var (
	_ Signer = (*CommandSigner)(nil)
	_ Signer = StaticSigner{}
)
