package files

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("not found")

// FindUp walks from dir toward the filesystem root and returns the path of the first regular file whose name is one of names.
// Within a directory, earlier names take precedence.
func FindUp(dir string, names ...string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if p, ok := FindIn(curDir, names...); ok {
			return p, nil
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", ErrNotFound
		}
		curDir = newDir
	}
}

// FindIn returns the path of the first regular file in dir whose name is one of names.
func FindIn(dir string, names ...string) (string, bool) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
