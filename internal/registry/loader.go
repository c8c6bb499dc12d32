// Package registry locates session cache files. A cache is addressed by id;
// its file is <dir>/<id>.session.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"loopd/internal/common/fsutil"
	"loopd/pkg/types"
)

// Ext is the extension of session cache files.
const Ext = ".session"

const maxIDLen = 128

// ErrInvalidID is returned for ids that cannot name a file.
var ErrInvalidID = errors.New("invalid cache id")

// ValidID reports whether id is usable as a cache name: letters, digits,
// '-', '_' and '.', not starting with a dot.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLen || id[0] == '.' {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// Path returns the absolute cache file path for id under dir.
func Path(dir, id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	abs, err := absDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(abs, id+Ext), nil
}

// Scan lists the cache files in dir, sorted by id. A missing dir is empty.
func Scan(dir string) ([]types.CacheInfo, error) {
	abs, err := absDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.CacheInfo{}, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	out := make([]types.CacheInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, Ext) {
			continue
		}
		id := strings.TrimSuffix(name, Ext)
		if !ValidID(id) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, types.CacheInfo{
			ID:           id,
			Path:         filepath.Join(abs, name),
			SizeBytes:    fi.Size(),
			Size:         humanize.Bytes(uint64(fi.Size())),
			ModifiedUnix: fi.ModTime().Unix(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func absDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.New("cache dir not configured")
	}
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}
