package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"policyrag/internal/domain"
)

// File keeps one JSON document per key in a directory. Writes go through a
// temporary file and a rename so readers never observe a partial entry.
type File struct {
	dir        string
	maxEntries int

	mu sync.Mutex
}

// NewFile creates dir if needed. maxEntries <= 0 disables eviction.
func NewFile(dir string, maxEntries int) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: cache dir is empty", domain.ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &File{dir: dir, maxEntries: maxEntries}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *File) Get(_ context.Context, question, context string) (domain.CacheEntry, bool, error) {
	var entry domain.CacheEntry
	data, err := os.ReadFile(f.path(Key(question, context)))
	if errors.Is(err, os.ErrNotExist) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, fmt.Errorf("read cache entry: %w", err)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (f *File) Put(_ context.Context, entry domain.CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	key := Key(entry.Question, entry.Context)
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return f.evict(key + ".json")
}

// evict removes the oldest entries until at most maxEntries remain. The file
// named keep is never removed.
func (f *File) evict(keep string) error {
	if f.maxEntries <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	type file struct {
		name string
		mod  int64
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || e.Name() == keep || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	limit := f.maxEntries - 1
	if len(files) <= limit {
		return nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
	for _, old := range files[:len(files)-limit] {
		if err := os.Remove(filepath.Join(f.dir, old.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Len returns the number of stored entries.
func (f *File) Len() (int, error) {
	matches, err := filepath.Glob(filepath.Join(f.dir, "*.json"))
	return len(matches), err
}
