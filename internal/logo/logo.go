package logo

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/guseggert/sidecarshell/internal/httpretry"
	"go.uber.org/zap"
)

const (
	FileName = "app_logo.png"
	// maxLogoBytes caps downloads so a bad URL can't fill the disk.
	maxLogoBytes = 10 << 20
)

// Cache downloads the application logo and keeps a single copy in the app data dir.
type Cache struct {
	Dir        string
	HTTPClient *http.Client
	Log        *zap.SugaredLogger
}

// NewCache builds a Cache whose HTTP client retries transient failures.
func NewCache(dir string, log *zap.SugaredLogger) *Cache {
	retryClient := httpretry.NewClient(log)
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	return &Cache{
		Dir:        dir,
		HTTPClient: retryClient.StandardClient(),
		Log:        log.Named("logo"),
	}
}

// Path returns the cached logo path with forward slashes, so it can be handed to a web view on any platform.
func (c *Cache) Path() (string, bool) {
	p := filepath.Join(c.Dir, FileName)
	if _, err := os.Stat(p); err != nil {
		c.Log.Debugw("local logo not found", "Path", p)
		return "", false
	}
	return strings.ReplaceAll(p, "\\", "/"), true
}

// DataURL returns the cached logo as a data URL.
func (c *Cache) DataURL() (string, bool, error) {
	b, err := os.ReadFile(filepath.Join(c.Dir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading logo: %w", err)
	}
	return dataURL(b), true, nil
}

// Download fetches url, replaces the cached logo, and returns it as a data URL.
func (c *Cache) Download(ctx context.Context, url string) (string, error) {
	c.Log.Infow("downloading logo", "URL", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading logo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("non-2xx HTTP status code %d received when downloading logo", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxLogoBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading logo body: %w", err)
	}
	if len(b) > maxLogoBytes {
		return "", fmt.Errorf("logo larger than %d bytes", maxLogoBytes)
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return "", fmt.Errorf("creating app data dir: %w", err)
	}
	path := filepath.Join(c.Dir, FileName)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("writing logo: %w", err)
	}
	c.Log.Infow("logo downloaded", "Path", path, "Bytes", len(b))
	return dataURL(b), nil
}

func dataURL(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}
