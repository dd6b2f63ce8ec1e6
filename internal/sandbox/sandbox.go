// Package sandbox implements the path-scoped filesystem capability
// (spec.md §4.7), grounded on
// original_source/backend/tools/sandbox.py's resolve_in_sandbox /
// _is_under_allowed_root / search_paths, with spec.md's error-code
// vocabulary (internal/jerr) and doublestar glob matching in place of the
// original's fnmatch.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bentman/JARVISv5/internal/jerr"
)

// DefaultMaxVisited is the scan cap applied to Search when the caller
// does not override it (spec.md §4.7: "default 20 000").
const DefaultMaxVisited = 20_000

// Config configures a Sandbox. AllowedRoots are resolved to absolute,
// symlink-free paths once at construction and never change afterward.
type Config struct {
	AllowedRoots   []string
	AllowWrite     bool
	AllowDelete    bool
	MaxReadBytes   int64
	MaxWriteBytes  int64
	MaxListEntries int
	MaxVisited     int
}

// Sandbox enforces that every filesystem path it touches resolves inside
// one of its allowed roots.
type Sandbox struct {
	allowedRoots   []string
	allowWrite     bool
	allowDelete    bool
	maxReadBytes   int64
	maxWriteBytes  int64
	maxListEntries int
	maxVisited     int
}

// New resolves cfg.AllowedRoots to absolute, symlink-free paths (sorted,
// for deterministic iteration) and returns an immutable Sandbox.
func New(cfg Config) (*Sandbox, error) {
	resolved := make([]string, 0, len(cfg.AllowedRoots))
	for _, root := range cfg.AllowedRoots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve allowed root %q: %w", root, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("sandbox: resolve allowed root %q: %w", root, err)
		}
		resolved = append(resolved, real)
	}
	sort.Strings(resolved)

	maxVisited := cfg.MaxVisited
	if maxVisited <= 0 {
		maxVisited = DefaultMaxVisited
	}

	return &Sandbox{
		allowedRoots:   resolved,
		allowWrite:     cfg.AllowWrite,
		allowDelete:    cfg.AllowDelete,
		maxReadBytes:   cfg.MaxReadBytes,
		maxWriteBytes:  cfg.MaxWriteBytes,
		maxListEntries: cfg.MaxListEntries,
		maxVisited:     maxVisited,
	}, nil
}

func (s *Sandbox) isUnderAllowedRoot(candidate string) bool {
	for _, root := range s.allowedRoots {
		if candidate == root {
			return true
		}
		if strings.HasPrefix(candidate, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ResolveInSandbox resolves path to an absolute, lexically-contained path
// under one allowed root (spec.md §4.7: joined, fully resolved, then
// containment-checked). Existing targets follow symlinks; non-existent
// targets resolve their parent strictly and join the leaf name unresolved.
func (s *Sandbox) ResolveInSandbox(path string) (string, error) {
	if _, err := os.Lstat(path); err == nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", jerr.New(jerr.CodeIOError, err.Error())
		}
		candidate, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", jerr.New(jerr.CodeIOError, err.Error())
		}
		if !s.isUnderAllowedRoot(candidate) {
			return "", jerr.New(jerr.CodePathNotAllowed, "resolved path is outside allowed roots").
				WithDetails(map[string]any{"path": path})
		}
		return candidate, nil
	}

	parent := filepath.Dir(path)
	resolvedParent, err := filepath.Abs(parent)
	if err != nil {
		return "", jerr.New(jerr.CodeNotFound, "parent directory not found").WithDetails(map[string]any{"path": path})
	}
	resolvedParent, err = filepath.EvalSymlinks(resolvedParent)
	if err != nil {
		if os.IsNotExist(err) {
			return "", jerr.New(jerr.CodeNotFound, "parent directory not found").WithDetails(map[string]any{"path": path})
		}
		return "", jerr.New(jerr.CodeIOError, err.Error())
	}

	if !s.isUnderAllowedRoot(resolvedParent) {
		return "", jerr.New(jerr.CodePathNotAllowed, "resolved parent path is outside allowed roots").
			WithDetails(map[string]any{"path": path})
	}

	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// ReadResult is the success shape for ReadText.
type ReadResult struct {
	Path    string
	Content string
	Size    int64
}

// ReadText reads a UTF-8 text file under sandbox control.
func (s *Sandbox) ReadText(path string) (ReadResult, error) {
	resolved, err := s.ResolveInSandbox(path)
	if err != nil {
		return ReadResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, jerr.New(jerr.CodeNotFound, "path does not exist").WithDetails(map[string]any{"path": path})
		}
		return ReadResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	if info.IsDir() {
		return ReadResult{}, jerr.New(jerr.CodeNotAFile, "path is not a file").WithDetails(map[string]any{"path": path})
	}
	if s.maxReadBytes > 0 && info.Size() > s.maxReadBytes {
		return ReadResult{}, jerr.New(jerr.CodeReadTooLarge, "file exceeds max_read_bytes").
			WithDetails(map[string]any{"size": info.Size(), "max_read_bytes": s.maxReadBytes})
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return ReadResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	return ReadResult{Path: resolved, Content: string(content), Size: info.Size()}, nil
}

// WriteResult is the success shape for WriteText.
type WriteResult struct {
	Path string
	Size int64
}

// WriteText writes content to path, creating parent directories as
// needed. Returns write_not_allowed when writes are disabled.
func (s *Sandbox) WriteText(path, content string) (WriteResult, error) {
	if !s.allowWrite {
		return WriteResult{}, jerr.New(jerr.CodeWriteNotAllowed, "write operation is disabled")
	}

	size := int64(len(content))
	if s.maxWriteBytes > 0 && size > s.maxWriteBytes {
		return WriteResult{}, jerr.New(jerr.CodeWriteTooLarge, "content exceeds max_write_bytes").
			WithDetails(map[string]any{"size": size, "max_write_bytes": s.maxWriteBytes})
	}

	resolved, err := s.ResolveInSandbox(path)
	if err != nil {
		return WriteResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return WriteResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return WriteResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	return WriteResult{Path: resolved, Size: size}, nil
}

// ListResult is the success shape for ListDir.
type ListResult struct {
	Path    string
	Entries []string
}

// ListDir lists a directory's immediate children, sorted.
func (s *Sandbox) ListDir(path string) (ListResult, error) {
	resolved, err := s.ResolveInSandbox(path)
	if err != nil {
		return ListResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return ListResult{}, jerr.New(jerr.CodeNotFound, "path does not exist").WithDetails(map[string]any{"path": path})
		}
		return ListResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	if !info.IsDir() {
		return ListResult{}, jerr.New(jerr.CodeNotADirectory, "path is not a directory").WithDetails(map[string]any{"path": path})
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return ListResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if s.maxListEntries > 0 && len(names) > s.maxListEntries {
		return ListResult{}, jerr.New(jerr.CodeListLimitExceeded, "directory exceeds max_list_entries").
			WithDetails(map[string]any{"count": len(names), "max_list_entries": s.maxListEntries})
	}

	return ListResult{Path: resolved, Entries: names}, nil
}

// InfoResult is the success shape for FileInfo.
type InfoResult struct {
	Path    string
	Type    string // "file", "directory", or "other"
	Size    int64
	ModTime int64 // unix epoch seconds
}

// FileInfo stats a path under sandbox control.
func (s *Sandbox) FileInfo(path string) (InfoResult, error) {
	resolved, err := s.ResolveInSandbox(path)
	if err != nil {
		return InfoResult{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return InfoResult{}, jerr.New(jerr.CodeNotFound, "path does not exist").WithDetails(map[string]any{"path": path})
		}
		return InfoResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}

	itemType := "other"
	switch {
	case info.Mode().IsRegular():
		itemType = "file"
	case info.IsDir():
		itemType = "directory"
	}

	return InfoResult{Path: resolved, Type: itemType, Size: info.Size(), ModTime: info.ModTime().Unix()}, nil
}

// Delete removes a single file under sandbox control. Directories and
// non-regular files are rejected; returns delete_not_allowed when
// deletes are disabled.
func (s *Sandbox) Delete(path string) (string, error) {
	if !s.allowDelete {
		return "", jerr.New(jerr.CodeDeleteNotAllowed, "delete operation is disabled")
	}

	resolved, err := s.ResolveInSandbox(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", jerr.New(jerr.CodeNotFound, "path does not exist").WithDetails(map[string]any{"path": path})
		}
		return "", jerr.New(jerr.CodeIOError, err.Error())
	}
	if !info.Mode().IsRegular() {
		return "", jerr.New(jerr.CodeNotAFile, "delete supports files only").WithDetails(map[string]any{"path": path})
	}

	if err := os.Remove(resolved); err != nil {
		return "", jerr.New(jerr.CodeIOError, err.Error())
	}
	return resolved, nil
}

// SearchResult is the success shape for Search.
type SearchResult struct {
	Root      string
	Pattern   string
	Matches   []string
	Truncated bool
}

// Search walks root depth-first (deterministic child order at every
// level) collecting relative paths matching a doublestar glob pattern,
// stopping with search_limit_exceeded once the visited-entry count
// exceeds the sandbox's scan cap.
func (s *Sandbox) Search(root, pattern string, maxResults int) (SearchResult, error) {
	resolvedRoot, err := s.ResolveInSandbox(root)
	if err != nil {
		return SearchResult{}, err
	}

	info, err := os.Stat(resolvedRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return SearchResult{}, jerr.New(jerr.CodeNotFound, "path does not exist").WithDetails(map[string]any{"path": root})
		}
		return SearchResult{}, jerr.New(jerr.CodeIOError, err.Error())
	}
	if !info.IsDir() {
		return SearchResult{}, jerr.New(jerr.CodeNotADirectory, "path is not a directory").WithDetails(map[string]any{"path": root})
	}
	if maxResults <= 0 {
		maxResults = 100
	}

	var matched []string
	truncated := false
	visited := 0

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			full := filepath.Join(dir, name)
			rel, err := filepath.Rel(resolvedRoot, full)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			visited++
			if visited > s.maxVisited {
				return jerr.New(jerr.CodeSearchLimitExceeded, "search exceeded max_visited entries").
					WithDetails(map[string]any{"max_visited": s.maxVisited})
			}

			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return jerr.New(jerr.CodeInvalidArgument, "invalid glob pattern").WithDetails(map[string]any{"pattern": pattern})
			}
			if ok {
				if len(matched) < maxResults {
					matched = append(matched, rel)
				} else {
					truncated = true
				}
			}

			fi, err := os.Lstat(full)
			if err == nil && fi.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(resolvedRoot); err != nil {
		return SearchResult{}, err
	}

	sort.Strings(matched)
	return SearchResult{Root: resolvedRoot, Pattern: pattern, Matches: matched, Truncated: truncated}, nil
}
