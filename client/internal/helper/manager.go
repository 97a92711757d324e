// Package helper drives the QZ Tray helper service lifecycle: probe, install when absent, launch and
// wait for the service to accept connections.
package helper

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
	"github.com/netbirdio/qzmanager/client/internal/helper/probe"
	"github.com/netbirdio/qzmanager/client/internal/metrics"
)

const (
	DefaultRetryAttempts = 10
	DefaultRetryDelay    = 2 * time.Second
	DefaultInstallSettle = 3 * time.Second
	DefaultRestartDelay  = time.Second
)

var (
	ErrAlreadyRunning          = errors.New("initialization already in progress")
	ErrInstallAlreadyAttempted = errors.New("helper is not installed and installation was already attempted")
	ErrRetriesExhausted        = errors.New("helper did not accept connections after all retries")
)

// Phase is the orchestration state
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseProbing      Phase = "probing"
	PhaseConnected    Phase = "connected"
	PhaseInstalling   Phase = "installing"
	PhaseLaunching    Phase = "launching"
	PhaseRetryProbing Phase = "retry_probing"
	PhaseFailed       Phase = "failed"
)

// InstallAttempt is the one-shot install guard. It only moves forward during a Manager lifetime.
type InstallAttempt int

const (
	InstallNotAttempted InstallAttempt = iota
	InstallAttempted
	InstallAttemptedAndFailed
)

func (a InstallAttempt) String() string {
	switch a {
	case InstallAttempted:
		return "attempted"
	case InstallAttemptedAndFailed:
		return "attempted_and_failed"
	default:
		return "not_attempted"
	}
}

type Prober interface {
	Probe(ctx context.Context) bool
}

type Detector interface {
	IsInstalled() bool
	WaitInstalled(ctx context.Context, timeout time.Duration) bool
}

type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, onProgress downloader.ProgressFunc) (string, error)
}

type Installer interface {
	Install(ctx context.Context, target platform.Target, artifact string) error
}

type Launcher interface {
	Launch(ctx context.Context) error
	Stop() error
	Running() bool
	PID() int
	OnExit(fn func(error))
}

// Deps are the collaborators the Manager orchestrates
type Deps struct {
	Prober    Prober
	State     *probe.State
	Detector  Detector
	Fetcher   Fetcher
	Installer Installer
	Launcher  Launcher
	Cache     *cache.Cache
	Metrics   *metrics.Metrics
}

type Option func(*Manager)

// WithRetry sets how many post-launch probes are made and the wait before each
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.retryAttempts = attempts
		m.retryDelay = delay
	}
}

// WithInstallSettle bounds the wait for a fresh install to show up before launch
func WithInstallSettle(d time.Duration) Option {
	return func(m *Manager) {
		m.installSettle = d
	}
}

func WithRestartDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.restartDelay = d
	}
}

type Manager struct {
	target platform.Target
	deps   Deps

	retryAttempts int
	retryDelay    time.Duration
	installSettle time.Duration
	restartDelay  time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	running        bool
	phase          Phase
	installAttempt InstallAttempt

	restartGroup singleflight.Group
}

func NewManager(target platform.Target, deps Deps, opts ...Option) *Manager {
	if deps.State == nil {
		deps.State = probe.NewState()
	}

	m := &Manager{
		target:        target,
		deps:          deps,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
		installSettle: DefaultInstallSettle,
		restartDelay:  DefaultRestartDelay,
		sleep:         sleepContext,
		phase:         PhaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	deps.Launcher.OnExit(func(err error) {
		log.Warnf("helper process exited unexpectedly: %v", err)
		m.markDisconnected()
	})
	return m
}

// Initialize makes sure the helper is installed, running and reachable. A nil result means the probe succeeded.
// Concurrent calls are rejected with ErrAlreadyRunning.
func (m *Manager) Initialize(ctx context.Context, onProgress downloader.ProgressFunc) error {
	if !m.claim() {
		return ErrAlreadyRunning
	}
	return m.run(ctx, onProgress)
}

func (m *Manager) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// run performs one initialization and releases the claim taken by the caller
func (m *Manager) run(ctx context.Context, onProgress downloader.ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic during helper initialization: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("initialization panicked: %v", r)
		}
		if err != nil {
			log.Errorf("failed to initialize helper: %v", err)
			m.setPhase(PhaseFailed)
		}
		m.deps.Metrics.Initialization(err == nil)
		m.release()
	}()

	log.Infof("initializing helper %s", m.target.Version)
	return m.initialize(ctx, onProgress)
}

func (m *Manager) initialize(ctx context.Context, onProgress downloader.ProgressFunc) error {
	m.setPhase(PhaseProbing)
	if m.probe(ctx) {
		log.Infof("helper already running and accessible")
		m.setPhase(PhaseConnected)
		return nil
	}

	if !m.deps.Detector.IsInstalled() {
		log.Infof("helper not installed, attempting installation")
		if err := m.install(ctx, onProgress); err != nil {
			return err
		}
	}

	m.setPhase(PhaseLaunching)
	if err := m.deps.Launcher.Launch(ctx); err != nil {
		m.deps.Metrics.Launch(false)
		return fmt.Errorf("launch helper: %w", err)
	}
	m.deps.Metrics.Launch(true)

	m.setPhase(PhaseRetryProbing)
	return m.waitConnected(ctx)
}

func (m *Manager) install(ctx context.Context, onProgress downloader.ProgressFunc) error {
	m.mu.Lock()
	attempt := m.installAttempt
	if attempt == InstallNotAttempted {
		m.installAttempt = InstallAttempted
	}
	m.mu.Unlock()

	if attempt != InstallNotAttempted {
		log.Infof("helper installation already attempted (%s)", attempt)
		m.deps.Metrics.Install(metrics.ResultSkipped)
		return ErrInstallAlreadyAttempted
	}

	m.setPhase(PhaseInstalling)
	if err := m.downloadAndInstall(ctx, onProgress); err != nil {
		m.mu.Lock()
		m.installAttempt = InstallAttemptedAndFailed
		m.mu.Unlock()
		m.deps.Metrics.Install(metrics.ResultFailure)
		return err
	}
	m.deps.Metrics.Install(metrics.ResultSuccess)

	if !m.deps.Detector.WaitInstalled(ctx, m.installSettle) {
		log.Warnf("helper not detected %s after installation, launching anyway", m.installSettle)
	}
	return nil
}

func (m *Manager) downloadAndInstall(ctx context.Context, onProgress downloader.ProgressFunc) error {
	if _, err := m.deps.Cache.Dir(); err != nil {
		return err
	}

	if removed := m.deps.Cache.Prune(m.target.Version); len(removed) > 0 {
		log.Infof("removed %d stale installers from cache", len(removed))
	}

	log.Infof("downloading helper installer from %s", m.target.URL)
	artifact, err := m.deps.Fetcher.Fetch(ctx, m.target.URL, m.deps.Cache.LocalPath(m.target), onProgress)
	m.deps.Metrics.Download(err == nil)
	if err != nil {
		return fmt.Errorf("download helper installer: %w", err)
	}

	log.Infof("installing helper from %s", artifact)
	if err := m.deps.Installer.Install(ctx, m.target, artifact); err != nil {
		return fmt.Errorf("install helper: %w", err)
	}
	return nil
}

func (m *Manager) waitConnected(ctx context.Context) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), uint64(m.retryAttempts))
	b.Reset()

	for attempt := 1; ; attempt++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}

		log.Infof("attempting to connect to helper (%d/%d)", attempt, m.retryAttempts)
		if err := m.sleep(ctx, next); err != nil {
			return err
		}

		if m.probe(ctx) {
			log.Infof("successfully connected to helper")
			m.setPhase(PhaseConnected)
			return nil
		}
	}

	return ErrRetriesExhausted
}

func (m *Manager) probe(ctx context.Context) bool {
	ok := m.deps.Prober.Probe(ctx)
	m.deps.Metrics.Probe(ok)
	return ok
}

// Restart stops the tracked helper, waits briefly and initializes again.
// Requests arriving while a restart is in flight share its result. While an initialization is
// running the helper is left alone and ErrAlreadyRunning is returned.
func (m *Manager) Restart(ctx context.Context, onProgress downloader.ProgressFunc) error {
	_, err, shared := m.restartGroup.Do("restart", func() (interface{}, error) {
		if !m.claim() {
			return nil, ErrAlreadyRunning
		}

		if err := m.Stop(); err != nil {
			log.Warnf("failed to stop helper cleanly: %v", err)
		}
		if err := m.sleep(ctx, m.restartDelay); err != nil {
			m.release()
			return nil, err
		}
		return nil, m.run(ctx, onProgress)
	})
	if shared {
		log.Debugf("restart request joined an in-flight restart")
	}
	return err
}

// Stop kills the tracked helper process and marks the connection down
func (m *Manager) Stop() error {
	err := m.deps.Launcher.Stop()
	m.markDisconnected()
	m.setPhase(PhaseIdle)
	return err
}

func (m *Manager) markDisconnected() {
	m.deps.State.MarkDisconnected()
	m.deps.Metrics.Disconnected()
}

// Target is the resolved platform target the Manager works with
func (m *Manager) Target() platform.Target {
	return m.target
}

// Cache returns the artifact cache used for downloads
func (m *Manager) Cache() *cache.Cache {
	return m.deps.Cache
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != p {
		log.Debugf("helper phase %s -> %s", m.phase, p)
	}
	m.phase = p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
