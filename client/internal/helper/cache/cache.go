// Package cache manages the per-user directory holding downloaded helper installers.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	nberrors "github.com/netbirdio/qzmanager/client/errors"
	"github.com/netbirdio/qzmanager/client/internal/helper/platform"
)

const (
	dirName = "qz-tray-cache"

	// PartSuffix marks downloads still being written
	PartSuffix = ".part"

	// part files untouched for this long belong to a download that died
	stalePartAge = 10 * time.Minute
)

var versionPattern = regexp.MustCompile(`^qz-tray-(\d+(?:\.\d+)*)-`)

// File describes one cached artifact
type File struct {
	Name     string    `json:"name" yaml:"name"`
	Path     string    `json:"path" yaml:"path"`
	Size     int64     `json:"size" yaml:"size"`
	SizeMB   string    `json:"sizeMB" yaml:"sizeMB"`
	Modified time.Time `json:"modified" yaml:"modified"`
	Version  string    `json:"version,omitempty" yaml:"version,omitempty"`
}

// Info is a snapshot of the cache directory contents
type Info struct {
	Directory   string `json:"cacheDir" yaml:"cacheDir"`
	Files       []File `json:"files" yaml:"files"`
	TotalSize   int64  `json:"totalSize" yaml:"totalSize"`
	TotalSizeMB string `json:"totalSizeMB" yaml:"totalSizeMB"`
}

type Cache struct {
	dir string
}

func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// DefaultDir returns the per-user cache location
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "qzmanager", dirName)
}

// Dir returns the cache directory, creating it when missing
func (c *Cache) Dir() (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir %s: %w", c.dir, err)
	}
	return c.dir, nil
}

// LocalPath is the deterministic location of the target's installer inside the cache
func (c *Cache) LocalPath(target platform.Target) string {
	return filepath.Join(c.dir, target.Filename)
}

// IsValid reports whether path holds a usable artifact: a regular, non-empty file
func IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// Sanitize removes an unusable leftover at path so it can never be installed
func Sanitize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode().IsRegular() && info.Size() > 0 {
		return nil
	}
	if info.IsDir() {
		return fmt.Errorf("artifact path %s is a directory", path)
	}

	log.Infof("removing invalid cached artifact %s (%d bytes)", path, info.Size())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove invalid artifact: %w", err)
	}
	return nil
}

// Prune deletes every cached file whose name does not contain versionTag and returns the removed paths.
// Partial downloads are removed once stale, whatever their version. Failed deletions are logged and otherwise ignored.
func (c *Cache) Prune(versionTag string) []string {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("failed to read cache dir %s: %v", c.dir, err)
		}
		return nil
	}

	var (
		removed []string
		merr    *multierror.Error
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isPart(entry.Name()) {
			if !staleEntry(entry) {
				continue
			}
		} else if strings.Contains(entry.Name(), versionTag) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("remove %s: %w", entry.Name(), err))
			continue
		}
		log.Infof("removed old helper cache file: %s", path)
		removed = append(removed, path)
	}

	if err := nberrors.FormatErrorOrNil(merr); err != nil {
		log.Warnf("cache prune incomplete: %v", err)
	}
	return removed
}

// Info enumerates the cache. Errors produce an empty listing.
func (c *Cache) Info() Info {
	info := Info{Directory: c.dir, Files: []File{}, TotalSizeMB: megabytes(0)}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debugf("failed to read cache dir %s: %v", c.dir, err)
		}
		return info
	}

	for _, entry := range entries {
		if entry.IsDir() || isPart(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			log.Debugf("failed to stat cache file %s: %v", entry.Name(), err)
			continue
		}

		f := File{
			Name:     entry.Name(),
			Path:     filepath.Join(c.dir, entry.Name()),
			Size:     fi.Size(),
			SizeMB:   megabytes(fi.Size()),
			Modified: fi.ModTime(),
		}
		if m := versionPattern.FindStringSubmatch(entry.Name()); m != nil {
			f.Version = m[1]
		}
		info.Files = append(info.Files, f)
		info.TotalSize += fi.Size()
	}

	sort.Slice(info.Files, func(i, j int) bool {
		return info.Files[i].Name < info.Files[j].Name
	})
	info.TotalSizeMB = megabytes(info.TotalSize)
	return info
}

func isPart(name string) bool {
	return strings.HasSuffix(name, PartSuffix)
}

func staleEntry(entry os.DirEntry) bool {
	fi, err := entry.Info()
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) > stalePartAge
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.1f", float64(n)/1024/1024)
}
