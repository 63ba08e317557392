package sign

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type (
	// GPGOption modifies the gpg invocation.
	GPGOption func(*GPG)

	// GPG shells out to the gpg binary. Key management stays with gpg; this
	// type only builds command lines and moves bytes.
	GPG struct {
		bin     string
		keyID   string
		keyring string
		homedir string
	}
)

// WithKeyID selects the signing key (gpg --local-user).
func WithKeyID(keyID string) GPGOption {
	return func(g *GPG) {
		g.keyID = keyID
	}
}

// WithKeyring verifies against a specific keyring file instead of the
// default one.
func WithKeyring(path string) GPGOption {
	return func(g *GPG) {
		g.keyring = path
	}
}

// WithHomedir points gpg at an alternate home directory.
func WithHomedir(dir string) GPGOption {
	return func(g *GPG) {
		g.homedir = dir
	}
}

// WithBinary overrides the gpg executable path.
func WithBinary(bin string) GPGOption {
	return func(g *GPG) {
		g.bin = bin
	}
}

// NewGPG builds a gpg-backed signer.
func NewGPG(opts ...GPGOption) *GPG {
	g := &GPG{bin: "gpg"}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

// ExitError exposes the subprocess exit code so the CLI can propagate it
// unchanged.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("gpg exited %d: %s", e.Code, e.Stderr)
}

func (g *GPG) args(signing bool, extra ...string) []string {
	args := []string{"--batch", "--yes"}
	if g.homedir != "" {
		args = append(args, "--homedir", g.homedir)
	}
	if g.keyring != "" {
		args = append(args, "--no-default-keyring", "--keyring", g.keyring)
	}
	if signing && g.keyID != "" {
		args = append(args, "--local-user", g.keyID)
	}
	return append(args, extra...)
}

func (g *GPG) run(ctx context.Context, stdin []byte, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if xerr, ok := err.(*exec.ExitError); ok {
			return nil, &ExitError{Code: xerr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Detached produces an armored detached signature of data.
func (g *GPG) Detached(ctx context.Context, data []byte) ([]byte, error) {
	return g.run(ctx, data, g.args(true, "--armor", "--detach-sign", "--output", "-"))
}

// Clearsign produces an inline-clearsigned copy of data.
func (g *GPG) Clearsign(ctx context.Context, data []byte) ([]byte, error) {
	return g.run(ctx, data, g.args(true, "--clearsign", "--output", "-"))
}

// Verify checks a clearsigned document and returns the embedded payload.
func (g *GPG) Verify(ctx context.Context, signed []byte) ([]byte, error) {
	return g.run(ctx, signed, g.args(false, "--decrypt", "--output", "-"))
}
