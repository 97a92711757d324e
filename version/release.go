package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultReleaseURL is the GitHub endpoint describing the latest QZ Tray release
	DefaultReleaseURL = "https://api.github.com/repos/qzind/qz/releases/latest"

	defaultFetchTimeout = 10 * time.Second
	defaultCacheTTL     = 30 * time.Minute
	maxReleaseBody      = 1 << 20
	latestKey           = "latest"
)

type release struct {
	TagName string `json:"tag_name"`
}

// ReleaseChecker looks up the latest published helper version
type ReleaseChecker struct {
	url     string
	timeout time.Duration
	client  *http.Client
	cache   *cache.Cache
}

type ReleaseOption func(*ReleaseChecker)

// WithReleaseURL overrides the release endpoint
func WithReleaseURL(url string) ReleaseOption {
	return func(c *ReleaseChecker) {
		c.url = url
	}
}

// WithFetchTimeout bounds a single release lookup
func WithFetchTimeout(timeout time.Duration) ReleaseOption {
	return func(c *ReleaseChecker) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the client used for lookups
func WithHTTPClient(client *http.Client) ReleaseOption {
	return func(c *ReleaseChecker) {
		c.client = client
	}
}

func NewReleaseChecker(opts ...ReleaseOption) *ReleaseChecker {
	c := &ReleaseChecker{
		url:     DefaultReleaseURL,
		timeout: defaultFetchTimeout,
		client:  http.DefaultClient,
		cache:   cache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the latest released version, or fallback when it cannot be determined.
// Successful lookups are cached.
func (c *ReleaseChecker) Latest(ctx context.Context, fallback string) string {
	if cached, ok := c.cache.Get(latestKey); ok {
		return cached.(string)
	}

	latest, err := c.fetch(ctx)
	if err != nil {
		log.Warnf("failed to check latest helper release, using %s: %v", fallback, err)
		return fallback
	}

	c.cache.SetDefault(latestKey, latest)
	return latest
}

func (c *ReleaseChecker) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected HTTP status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReleaseBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var r release
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}

	tag := strings.TrimPrefix(strings.TrimSpace(r.TagName), "v")
	if _, err := goversion.NewVersion(tag); err != nil {
		return "", fmt.Errorf("invalid release tag %q: %w", r.TagName, err)
	}

	return tag, nil
}

// UpdateAvailable reports whether latest is newer than current.
// Unparsable versions never report an update.
func UpdateAvailable(current, latest string) bool {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return false
	}
	last, err := goversion.NewVersion(latest)
	if err != nil {
		return false
	}
	return last.GreaterThan(cur)
}

// UserAgent is sent with every outgoing request
func UserAgent() string {
	return fmt.Sprintf("qzmanager/%s", ManagerVersion())
}
