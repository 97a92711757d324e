// Package supervisor launches the helper service as a detached process and tracks its handle.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/netbirdio/qzmanager/client/errors"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/procattr"
)

const DefaultGrace = 2 * time.Second

var ErrLauncherNotFound = errors.New("helper launcher not found")

type Supervisor struct {
	target   platform.Target
	grace    time.Duration
	lookPath func(string) (string, error)

	mu     sync.Mutex
	proc   *os.Process
	onExit func(error)
}

type Option func(*Supervisor)

// WithGrace sets how long Launch waits after a successful spawn
func WithGrace(grace time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = grace
	}
}

func New(target platform.Target, opts ...Option) *Supervisor {
	s := &Supervisor{
		target:   target,
		grace:    DefaultGrace,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnExit registers a hook called when the tracked process exits without being stopped
func (s *Supervisor) OnExit(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Launch spawns the helper and returns once the spawn succeeded and the grace delay passed.
// It does not wait for the service to accept connections.
func (s *Supervisor) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil {
		pid := s.proc.Pid
		s.mu.Unlock()
		log.Infof("helper process %d is already running", pid)
		return nil
	}

	command, args, err := s.resolve()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	cmd := exec.Command(command, args...)
	procattr.Detach(cmd)

	log.Infof("starting helper: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start helper: %w", err)
	}
	s.proc = cmd.Process
	s.mu.Unlock()

	go s.wait(cmd)

	select {
	case <-time.After(s.grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	log.Infof("helper startup initiated")
	return nil
}

// Running reports whether a process handle is held
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// PID of the tracked process, 0 when none is held
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid
}

// Stop kills the tracked process and its descendants and clears the handle
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p == nil {
		return nil
	}

	log.Infof("stopping helper process %d", p.Pid)
	return terminate(p)
}

func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	log.Infof("helper process exited with code: %d", code)

	s.mu.Lock()
	if s.proc != cmd.Process {
		// stopped on purpose or already replaced
		s.mu.Unlock()
		return
	}
	s.proc = nil
	hook := s.onExit
	s.mu.Unlock()

	if hook != nil {
		hook(err)
	}
}

func (s *Supervisor) resolve() (string, []string, error) {
	if s.target.LaunchCommand == "" {
		for _, candidate := range s.target.LaunchCandidates {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, s.target.LaunchArgs, nil
			}
		}
		return "", nil, ErrLauncherNotFound
	}

	path, err := s.lookPath(s.target.LaunchCommand)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrLauncherNotFound, s.target.LaunchCommand, err)
	}
	return path, s.target.LaunchArgs, nil
}

func terminate(p *os.Process) error {
	var merr *multierror.Error

	if root, err := process.NewProcess(int32(p.Pid)); err == nil {
		for _, child := range descendants(root) {
			if err := child.Kill(); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("kill child %d: %w", child.Pid, err))
			}
		}
	}

	if err := procattr.KillTree(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		merr = multierror.Append(merr, fmt.Errorf("kill %d: %w", p.Pid, err))
	}

	return nberrors.FormatErrorOrNil(merr)
}

func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	all := make([]*process.Process, 0, len(children))
	for _, child := range children {
		all = append(all, descendants(child)...)
		all = append(all, child)
	}
	return all
}
