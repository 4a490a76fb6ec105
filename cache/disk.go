package cache

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// cacheExt marks cache entries; the eviction scan ignores other files,
// including in-progress temp writes.
const cacheExt = ".zst"

// Disk is an on-disk cache of JSON-serializable values, shared between
// processes through a common directory. Entries are zstd-compressed and
// named by a hash of their key, so any string is a usable key.
//
// Eviction is by file count: after a write, the oldest entries by
// modification time are removed until at most max remain. Reads bump the
// modification time, making this effectively least-recently-used.
//
// Every failure path degrades to a cache miss. A cache that cannot
// create its directory serves misses and swallows writes.
type Disk[V any] struct {
	dir      string
	max      int
	log      *zap.Logger
	disabled bool
}

// NewDisk returns a disk cache rooted at dir holding at most max entries
// (unbounded when max <= 0). A nil log discards diagnostics.
func NewDisk[V any](dir string, max int, log *zap.Logger) *Disk[V] {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Disk[V]{dir: dir, max: max, log: log}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("disk cache unavailable, serving misses only",
			zap.String("dir", dir),
			zap.Error(err))
		d.disabled = true
	}
	return d
}

// Get returns the cached value for key. Any failure, from a missing file
// to a corrupt payload, is reported as a miss. A hit refreshes the
// entry's modification time.
func (d *Disk[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if d.disabled || ctx.Err() != nil {
		return zero, false
	}

	path := d.path(key)
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Debug("disk cache read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}
	defer file.Close()

	zr, err := zstd.NewReader(file)
	if err != nil {
		d.log.Debug("disk cache entry unreadable", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		d.log.Debug("disk cache entry corrupt", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	var val V
	if err := sonic.Unmarshal(data, &val); err != nil {
		d.log.Debug("disk cache entry undecodable", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		d.log.Debug("disk cache touch failed", zap.String("key", key), zap.Error(err))
	}
	return val, true
}

// Set stores val under key and then enforces the entry bound. The write
// goes through a temp file and rename so readers in other processes
// never observe a partial entry.
func (d *Disk[V]) Set(ctx context.Context, key string, val V) error {
	if d.disabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := sonic.Marshal(val)
	if err != nil {
		return fmt.Errorf("disk cache: encode %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(d.dir, "w-*.tmp")
	if err != nil {
		return fmt.Errorf("disk cache: create temp file: %w", err)
	}

	zw, err := zstd.NewWriter(tmp)
	if err == nil {
		_, err = zw.Write(data)
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), d.path(key))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("disk cache: write %q: %w", key, err)
	}

	d.evict()
	return nil
}

func (d *Disk[V]) path(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+cacheExt)
}

// evict removes the oldest entries until at most max remain. Failures
// are logged and skipped; the next write retries.
func (d *Disk[V]) evict() {
	if d.max <= 0 {
		return
	}

	type fileAge struct {
		path  string
		mtime time.Time
	}

	var (
		mu    sync.Mutex
		files []fileAge
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, d.dir, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if de.IsDir() {
			if path != d.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != cacheExt {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		mu.Lock()
		files = append(files, fileAge{path: path, mtime: info.ModTime()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		d.log.Debug("disk cache eviction scan failed", zap.String("dir", d.dir), zap.Error(err))
		return
	}
	if len(files) <= d.max {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, f := range files[:len(files)-d.max] {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			d.log.Debug("disk cache eviction failed", zap.String("path", f.path), zap.Error(err))
		}
	}
}
