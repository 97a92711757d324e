package helper

import (
	"time"

	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
)

// Status is a point-in-time view of the helper for the host UI
type Status struct {
	ProcessRunning   bool       `json:"processRunning" yaml:"processRunning"`
	PID              int        `json:"pid,omitempty" yaml:"pid,omitempty"`
	Connected        bool       `json:"connected" yaml:"connected"`
	LastCheckedAt    *time.Time `json:"lastCheckedAt,omitempty" yaml:"lastCheckedAt,omitempty"`
	Version          string     `json:"version" yaml:"version"`
	Phase            Phase      `json:"phase" yaml:"phase"`
	Cache            cache.Info `json:"cache" yaml:"cache"`
	InstallAttempted bool       `json:"installAttempted" yaml:"installAttempted"`
	InstallAttempt   string     `json:"installAttempt" yaml:"installAttempt"`
}

// Status assembles the snapshot without side effects
func (m *Manager) Status() Status {
	m.mu.Lock()
	phase := m.phase
	attempt := m.installAttempt
	m.mu.Unlock()

	status := Status{
		ProcessRunning:   m.deps.Launcher.Running(),
		PID:              m.deps.Launcher.PID(),
		Connected:        m.deps.State.Connected(),
		Version:          m.target.Version,
		Phase:            phase,
		Cache:            m.deps.Cache.Info(),
		InstallAttempted: attempt != InstallNotAttempted,
		InstallAttempt:   attempt.String(),
	}
	if checked := m.deps.State.LastChecked(); !checked.IsZero() {
		status.LastCheckedAt = &checked
	}
	return status
}
