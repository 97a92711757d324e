// Package probe checks that the helper service accepts connections on its loopback endpoint.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultURL     = "ws://localhost:8181"
	DefaultTimeout = 5 * time.Second
)

var ErrProbeTimeout = errors.New("probe timed out")

// State is the shared connection state
type State struct {
	mu          sync.RWMutex
	connected   bool
	lastChecked time.Time
}

func NewState() *State {
	return &State{}
}

func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *State) LastChecked() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastChecked
}

func (s *State) set(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.lastChecked = time.Now()
}

// MarkDisconnected is used when the helper process is known to be gone
func (s *State) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

type Prober struct {
	url     string
	timeout time.Duration
	state   *State
	client  *http.Client
}

type Option func(*Prober)

func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		p.timeout = timeout
	}
}

func New(url string, state *State, opts ...Option) *Prober {
	if url == "" {
		url = DefaultURL
	}
	p := &Prober{
		url:     url,
		timeout: DefaultTimeout,
		state:   state,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check opens the websocket and closes it right away. The result is recorded in the shared state.
func (p *Prober) Check(ctx context.Context) error {
	err := p.dial(ctx)
	p.state.set(err == nil)
	return err
}

// Probe is Check reduced to a boolean with the failure logged
func (p *Prober) Probe(ctx context.Context) bool {
	if err := p.Check(ctx); err != nil {
		log.Debugf("helper connection failed: %v", err)
		return false
	}
	log.Debugf("helper connection successful")
	return true
}

func (p *Prober) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, p.url, &websocket.DialOptions{HTTPClient: p.client})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrProbeTimeout
		}
		return fmt.Errorf("connect to %s: %w", p.url, err)
	}

	_ = conn.CloseNow()
	return nil
}
