// Package installer runs the platform's silent installer against a cached artifact.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/procattr"
)

const (
	DefaultTimeout = 60 * time.Second

	// waitDelay bounds how long Wait blocks on inherited handles after the installer was killed
	waitDelay = 2 * time.Second
)

var ErrInstallTimeout = errors.New("installation timed out")

// ExitError reports an installer that ran to completion with a non-zero status
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("installer exited with code %d", e.Code)
}

type Installer struct {
	timeout time.Duration
}

type Option func(*Installer)

func WithTimeout(timeout time.Duration) Option {
	return func(i *Installer) {
		i.timeout = timeout
	}
}

func New(opts ...Option) *Installer {
	i := &Installer{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install runs the silent installer for target and waits for it to exit.
// Repeated calls are not deduplicated.
func (i *Installer) Install(ctx context.Context, target platform.Target, artifact string) error {
	if !cache.IsValid(artifact) {
		if err := cache.Sanitize(artifact); err != nil {
			log.Warnf("failed to remove invalid artifact: %v", err)
		}
		return fmt.Errorf("installer artifact %s is missing or empty", artifact)
	}

	if target.MarkExecutable {
		if err := os.Chmod(artifact, 0o755); err != nil {
			return fmt.Errorf("set permissions on %s: %w", artifact, err)
		}
	}

	command, args := target.InstallInvocation(artifact)

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	procattr.Detach(cmd)
	cmd.Cancel = func() error {
		return procattr.KillTree(cmd.Process)
	}
	cmd.WaitDelay = waitDelay

	log.Infof("running helper installer: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start installer: %w", err)
	}
	log.Infof("installer started with PID %d", cmd.Process.Pid)

	err := cmd.Wait()
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Errorf("helper installation timed out after %s", i.timeout)
		return ErrInstallTimeout
	case ctx.Err() != nil:
		return fmt.Errorf("installation cancelled: %w", ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Errorf("helper installation finished with code: %d", exitErr.ExitCode())
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait for installer: %w", err)
	}

	log.Infof("helper installation finished with code: 0")
	return nil
}
