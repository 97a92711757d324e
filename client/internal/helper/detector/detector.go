// Package detector determines whether the helper service is installed on this machine.
package detector

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
)

const pollInterval = 500 * time.Millisecond

type Detector struct {
	target   platform.Target
	lookPath func(string) (string, error)
}

func New(target platform.Target) *Detector {
	return &Detector{
		target:   target,
		lookPath: exec.LookPath,
	}
}

// IsInstalled probes the platform's well-known locations. An entry of the wrong type never counts.
func (d *Detector) IsInstalled() bool {
	if d.target.LookupCommand != "" {
		path, err := d.lookPath(d.target.LookupCommand)
		if err != nil {
			log.Debugf("%s not found in PATH: %v", d.target.LookupCommand, err)
			return false
		}
		log.Debugf("helper found at %s", path)
		return true
	}

	for _, loc := range d.target.InstallLocations {
		info, err := os.Stat(loc.Path)
		if err != nil {
			continue
		}
		if loc.Dir && info.IsDir() || !loc.Dir && info.Mode().IsRegular() {
			log.Debugf("helper found at %s", loc.Path)
			return true
		}
	}
	return false
}

// WaitInstalled blocks until the helper is detected or timeout elapses.
// Filesystem events trigger an early re-check; a slow poll covers directories that do not exist yet.
func (d *Detector) WaitInstalled(ctx context.Context, timeout time.Duration) bool {
	if d.IsInstalled() {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debugf("failed to create install watcher, polling only: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Debugf("failed to close install watcher: %v", err)
			}
		}()
		for _, dir := range d.watchDirs() {
			if err := watcher.Add(dir); err != nil {
				log.Tracef("not watching %s: %v", dir, err)
			}
		}
		events = watcher.Events
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.IsInstalled()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if d.IsInstalled() {
				return true
			}
		case <-ticker.C:
			if d.IsInstalled() {
				return true
			}
		}
	}
}

func (d *Detector) watchDirs() []string {
	seen := make(map[string]struct{})
	var dirs []string
	add := func(dir string) {
		if dir == "" || dir == "." {
			return
		}
		if _, ok := seen[dir]; ok {
			return
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	if d.target.LookupCommand != "" {
		for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
			add(dir)
		}
		return dirs
	}

	for _, loc := range d.target.InstallLocations {
		parent := filepath.Dir(loc.Path)
		add(parent)
		add(filepath.Dir(parent))
	}
	return dirs
}
