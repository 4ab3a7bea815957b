package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/guseggert/sidecarshell/internal/files"
)

// targetTriples maps GOOS/GOARCH to the target triple desktop packagers append to bundled sidecar binaries.
var targetTriples = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"linux/386":     "i686-unknown-linux-gnu",
	"linux/arm":     "armv7-unknown-linux-gnueabihf",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/arm64": "aarch64-pc-windows-msvc",
	"windows/386":   "i686-pc-windows-msvc",
}

type resolveConfig struct {
	goos, goarch string
	exeDir       string
	searchFrom   string
}

type ResolveOption func(c *resolveConfig)

// WithExeDir overrides the directory of the host executable, which is searched first.
func WithExeDir(dir string) ResolveOption {
	return func(c *resolveConfig) { c.exeDir = dir }
}

// WithSearchFrom enables a development fallback that searches dir and its ancestors for the sidecar.
func WithSearchFrom(dir string) ResolveOption {
	return func(c *resolveConfig) { c.searchFrom = dir }
}

// WithPlatform overrides the GOOS/GOARCH used to build candidate file names.
func WithPlatform(goos, goarch string) ResolveOption {
	return func(c *resolveConfig) {
		c.goos = goos
		c.goarch = goarch
	}
}

// SidecarNames returns the file names a bundled sidecar called name may have on the given platform, most specific first.
func SidecarNames(name, goos, goarch string) []string {
	ext := ""
	if goos == "windows" {
		ext = ".exe"
	}
	var names []string
	if triple, ok := targetTriples[goos+"/"+goarch]; ok {
		names = append(names, name+"-"+triple+ext)
	}
	return append(names, name+ext)
}

// ResolveSidecar finds the executable for the sidecar called name.
// It looks next to the host executable, then (if configured) walks up from the development search directory.
func ResolveSidecar(name string, opts ...ResolveOption) (string, error) {
	if name == "" {
		return "", errors.New("empty sidecar name")
	}
	c := &resolveConfig{goos: runtime.GOOS, goarch: runtime.GOARCH}
	for _, o := range opts {
		o(c)
	}
	if c.exeDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locating host executable: %w", err)
		}
		c.exeDir = filepath.Dir(exe)
	}

	names := SidecarNames(name, c.goos, c.goarch)
	if p, ok := files.FindIn(c.exeDir, names...); ok {
		return p, nil
	}
	if c.searchFrom != "" {
		p, err := files.FindUp(c.searchFrom, names...)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, files.ErrNotFound) {
			return "", fmt.Errorf("searching for sidecar %q: %w", name, err)
		}
	}
	return "", fmt.Errorf("sidecar %q not found (looked for %v in %s)", name, names, c.exeDir)
}
