package logo

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

func newTestCache(t *testing.T) *Cache {
	l, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewCache(filepath.Join(t.TempDir(), "data"), l.Sugar())
}

func TestDownload(t *testing.T) {
	var hits atomic.Int64
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// fail once to exercise retries
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(pngBytes)
	}))
	t.Cleanup(s.Close)

	c := newTestCache(t)

	_, ok := c.Path()
	assert.False(t, ok)
	_, ok, err := c.DataURL()
	require.NoError(t, err)
	assert.False(t, ok)

	url, err := c.Download(context.Background(), s.URL+"/logo.png")
	require.NoError(t, err)
	expURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	assert.Equal(t, expURL, url)
	assert.Equal(t, int64(2), hits.Load())

	p, ok := c.Path()
	assert.True(t, ok)
	assert.False(t, strings.Contains(p, "\\"))
	assert.True(t, strings.HasSuffix(p, "/"+FileName))

	got, ok, err := c.DataURL()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, expURL, got)
}

func TestDownloadNotFound(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(s.Close)

	c := newTestCache(t)
	_, err := c.Download(context.Background(), s.URL)
	assert.ErrorContains(t, err, "404")
	_, ok := c.Path()
	assert.False(t, ok)
}

func TestDownloadBadURL(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Download(context.Background(), "://nope")
	assert.Error(t, err)
}
