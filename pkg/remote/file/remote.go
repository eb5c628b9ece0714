// Package file implements remote.Remote over a local directory tree.
//
// Paths are slash-rooted and relative to BaseDir. The backend is
// case-sensitive, so Entry.Path carries the exact on-disk name.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/3leaps/memosweep/pkg/remote"
)

// BackendName identifies this backend in errors and logs.
const BackendName = "file"

const defaultLimit = 2000

// Remote implements remote.Remote for local filesystem paths.
type Remote struct {
	baseDir string
}

var _ remote.Remote = (*Remote)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	st, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("base dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("base dir %q is not a directory", base)
	}
	return &Remote{baseDir: base}, nil
}

func (r *Remote) Close() error { return nil }

// cursor is the decoded form of the opaque continuation token.
type cursor struct {
	Root      string `json:"root"`
	Recursive bool   `json:"recursive"`
	After     string `json:"after"`
	Limit     int    `json:"limit"`
}

func (r *Remote) ListFolder(ctx context.Context, p string, recursive bool, limit int) (*remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := remote.CleanPath(p)
	return r.page(cursor{Root: root, Recursive: recursive, Limit: limit})
}

func (r *Remote) ListFolderContinue(ctx context.Context, token string) (*remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var c cursor
	if err := remote.DecodeCursor(token, &c); err != nil {
		return nil, r.wrapError("ListFolderContinue", "", err)
	}
	return r.page(c)
}

func (r *Remote) page(c cursor) (*remote.Page, error) {
	limit := c.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	entries, err := r.collect(c.Root, c.Recursive)
	if err != nil {
		return nil, r.wrapError("ListFolder", c.Root, err)
	}

	start := 0
	if c.After != "" {
		// Start strictly after the last returned path.
		start = sort.Search(len(entries), func(i int) bool { return entries[i].Path > c.After })
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}

	page := &remote.Page{Entries: entries[start:end]}
	if end < len(entries) {
		page.HasMore = true
		c.After = entries[end-1].Path
		if page.Cursor, err = remote.EncodeCursor(c); err != nil {
			return nil, r.wrapError("ListFolder", c.Root, err)
		}
	}
	return page, nil
}

// collect returns the entries below root sorted by path.
func (r *Remote) collect(root string, recursive bool) ([]remote.Entry, error) {
	full, err := r.fullPath(root)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s: not a folder", root)
	}

	var entries []remote.Entry
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == full {
			return nil
		}
		rel, err := filepath.Rel(r.baseDir, p)
		if err != nil {
			return err
		}
		kind := remote.EntryFile
		if d.IsDir() {
			kind = remote.EntryFolder
		}
		entries = append(entries, remote.NewEntry(kind, filepath.ToSlash(rel)))
		if d.IsDir() && !recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// DeleteBatch removes each file independently and reports per-path
// outcomes. It never fails as a whole.
func (r *Remote) DeleteBatch(ctx context.Context, paths []string) (*remote.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &remote.BatchResult{}
	for _, p := range paths {
		full, err := r.fullPath(p)
		if err == nil {
			err = os.Remove(full)
		}
		switch {
		case err == nil:
			res.Deleted = append(res.Deleted, p)
		case os.IsNotExist(err):
			res.NotFound = append(res.NotFound, p)
		default:
			res.Fail(p, r.wrapError("DeleteBatch", p, err))
		}
	}
	return res, nil
}

// DeleteEntity removes a file or a whole folder. A missing path yields a
// remote.KindNotFound error.
func (r *Remote) DeleteEntity(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := r.fullPath(p)
	if err != nil {
		return r.wrapError("DeleteEntity", p, err)
	}
	if full == r.baseDir {
		return r.wrapError("DeleteEntity", p, fmt.Errorf("refusing to delete base dir"))
	}
	if _, err := os.Lstat(full); err != nil {
		return r.wrapError("DeleteEntity", p, err)
	}
	if err := os.RemoveAll(full); err != nil {
		return r.wrapError("DeleteEntity", p, err)
	}
	return nil
}

func (r *Remote) fullPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + p)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid path")
	}
	if clean == "" {
		return r.baseDir, nil
	}
	return filepath.Join(r.baseDir, filepath.FromSlash(clean)), nil
}

func (r *Remote) wrapError(op, p string, err error) error {
	wrapped := &remote.Error{Op: op, Backend: BackendName, Path: p, Kind: remote.KindAPI, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	switch {
	case os.IsNotExist(err):
		wrapped.Kind = remote.KindNotFound
	case os.IsPermission(err):
		wrapped.Kind = remote.KindAuth
	}
	return wrapped
}
