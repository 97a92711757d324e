// Package downloader fetches helper installers into the artifact cache.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/version"
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultMaxRedirects = 5

	chunkSize = 32 * 1024
)

var (
	ErrDownloadTimeout  = errors.New("download timeout")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// StatusError is returned when the server answers with a terminal status other than 200
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed with status: %d", e.StatusCode)
}

// TransportError wraps network and filesystem failures during a transfer
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("download error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Progress is reported after every received chunk when the total size is known
type Progress struct {
	Percent         int   `json:"percent" yaml:"percent"`
	DownloadedBytes int64 `json:"downloadedBytes" yaml:"downloadedBytes"`
	TotalBytes      int64 `json:"totalBytes" yaml:"totalBytes"`
}

func (p Progress) DownloadedMB() string {
	return fmt.Sprintf("%.1f", float64(p.DownloadedBytes)/1024/1024)
}

func (p Progress) TotalMB() string {
	return fmt.Sprintf("%.1f", float64(p.TotalBytes)/1024/1024)
}

type ProgressFunc func(Progress)

type Downloader struct {
	client       *http.Client
	timeout      time.Duration
	maxRedirects int
}

type Option func(*Downloader)

// WithTimeout bounds the whole transfer, redirects included
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		d.timeout = timeout
	}
}

func WithMaxRedirects(n int) Option {
	return func(d *Downloader) {
		d.maxRedirects = n
	}
}

// WithTransport sets the round tripper. Redirects are always handled by the downloader itself.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Downloader) {
		d.client.Transport = rt
	}
}

func New(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads url into dest unless dest already holds a valid artifact.
// On any failure nothing is left at dest.
func (d *Downloader) Fetch(ctx context.Context, url, dest string, onProgress ProgressFunc) (string, error) {
	if cache.IsValid(dest) {
		log.Infof("helper installer already cached: %s", dest)
		return dest, nil
	}

	if err := cache.Sanitize(dest); err != nil {
		return "", &TransportError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log.Infof("downloading helper installer from %s to %s", url, dest)

	resp, err := d.follow(ctx, url)
	if err != nil {
		return "", classify(ctx, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Debugf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	if err := writeBody(resp, dest, onProgress); err != nil {
		return "", classify(ctx, err)
	}

	log.Infof("helper installer download completed: %s", dest)
	return dest, nil
}

// follow issues the request and walks redirects with an explicit bound
func (d *Downloader) follow(ctx context.Context, url string) (*http.Response, error) {
	current := url
	for redirects := 0; ; redirects++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("create HTTP request: %w", err)
		}
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}

		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}

		location := resp.Header.Get("Location")
		discard(resp)

		if location == "" {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		if redirects >= d.maxRedirects {
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, d.maxRedirects)
		}

		next, err := resp.Request.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		log.Debugf("following redirect to %s", next)
		current = next.String()
	}
}

func writeBody(resp *http.Response, dest string, onProgress ProgressFunc) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	out, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*"+cache.PartSuffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := out.Name()

	defer func() {
		if err == nil {
			return
		}
		_ = out.Close()
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("failed to remove partial download %s: %v", tmpName, rmErr)
		}
	}()

	total := resp.ContentLength
	var downloaded int64
	buf := make([]byte, chunkSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("write to file: %w", err)
			}
			downloaded += int64(n)

			if onProgress != nil && total > 0 {
				onProgress(Progress{
					Percent:         int(math.Round(float64(downloaded) / float64(total) * 100)),
					DownloadedBytes: downloaded,
					TotalBytes:      total,
				})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}
	}

	if total > 0 && downloaded != total {
		return fmt.Errorf("incomplete download: got %d of %d bytes", downloaded, total)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("move %s to %s: %w", tmpName, dest, err)
	}
	return nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrDownloadTimeout
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) || errors.Is(err, ErrTooManyRedirects) {
		return err
	}
	return &TransportError{Err: err}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
}
