// Package remote defines the capability memosweep needs from a remote
// hierarchical storage service.
//
// A Remote exposes a tree-shaped namespace with flat per-folder listings,
// cursor-based pagination and batch deletion. Backends live in
// sub-packages (dropbox, s3, file) and translate their SDK errors into the
// closed Kind taxonomy defined in errors.go.
package remote

import (
	"context"
	"path"
	"strings"
)

// Remote is the storage capability used by the scanner, deleter and
// reclaimer.
//
// Implementations should:
//   - Return entries with Path and PathLower populated (leading "/")
//   - Treat cursors as single-shot continuation tokens
//   - Be safe for concurrent use (DeleteBatch is called from several workers)
type Remote interface {
	// ListFolder returns the first page of entries under path.
	// When recursive is true, all descendants are enumerated.
	ListFolder(ctx context.Context, path string, recursive bool, limit int) (*Page, error)

	// ListFolderContinue returns the page following cursor.
	ListFolderContinue(ctx context.Context, cursor string) (*Page, error)

	// DeleteBatch removes the given files in a single remote request.
	DeleteBatch(ctx context.Context, paths []string) (*BatchResult, error)

	// DeleteEntity removes a single file or folder (recursively).
	DeleteEntity(ctx context.Context, path string) error

	// Close releases any resources held by the remote.
	Close() error
}

// EntryKind tags an Entry as a file or a folder.
type EntryKind int

const (
	// EntryFile is a regular file.
	EntryFile EntryKind = iota + 1

	// EntryFolder is a folder.
	EntryFolder
)

// String returns the string representation of the entry kind.
func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// Entry is a single node returned by a listing.
type Entry struct {
	// Kind tells whether the entry is a file or a folder.
	Kind EntryKind

	// Name is the last path segment as stored remotely (original case).
	Name string

	// Path addresses the entry in later calls (DeleteBatch, DeleteEntity,
	// ListFolder). Case-insensitive backends return it lowercased;
	// case-sensitive ones return the exact key. Always slash-rooted.
	Path string

	// PathLower is the lowercase-normalised path used for comparisons.
	PathLower string
}

// NewEntry builds an Entry for the cleaned path p, deriving Name and
// PathLower from it.
func NewEntry(kind EntryKind, p string) Entry {
	p = CleanPath(p)
	return Entry{
		Kind:      kind,
		Name:      path.Base(p),
		Path:      p,
		PathLower: strings.ToLower(p),
	}
}

// IsFile reports whether the entry is a file.
func (e Entry) IsFile() bool { return e.Kind == EntryFile }

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool { return e.Kind == EntryFolder }

// Page is one page of a listing.
type Page struct {
	// Entries holds the entries of this page.
	Entries []Entry

	// Cursor continues the listing. Valid only while HasMore is true.
	Cursor string

	// HasMore indicates whether another page is available.
	HasMore bool
}

// BatchResult reports the per-path outcome of a DeleteBatch call.
type BatchResult struct {
	// Deleted lists paths that were removed.
	Deleted []string

	// NotFound lists paths that no longer existed.
	NotFound []string

	// Failed maps paths to the error that prevented their removal.
	Failed map[string]error
}

// Fail records err as the outcome for path.
func (r *BatchResult) Fail(path string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[path] = err
}

// Unresolved returns the paths that neither got deleted nor were found
// missing, in the order given by paths.
func (r *BatchResult) Unresolved(paths []string) []string {
	if r == nil {
		return paths
	}
	var out []string
	for _, p := range paths {
		if _, failed := r.Failed[p]; failed {
			out = append(out, p)
		}
	}
	return out
}

// NormalizePath returns the lowercase form of CleanPath(p).
func NormalizePath(p string) string {
	return strings.ToLower(CleanPath(p))
}

// CleanPath returns the slash-rooted form of p without a trailing slash,
// preserving case. The root itself cleans to "".
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p == "/" {
		return ""
	}
	return p
}

// Parent returns the parent folder of a normalised path. The parent of a
// top-level entry is "".
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return ""
	}
	return dir
}

// Depth returns the number of path segments in a normalised path.
func Depth(p string) int {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// IsUnder reports whether p lies strictly below root, comparing
// case-insensitively. Both paths must be cleaned. Every non-empty path is
// under the empty root.
func IsUnder(p, root string) bool {
	if root == "" {
		return p != ""
	}
	return strings.HasPrefix(strings.ToLower(p), strings.ToLower(root)+"/")
}
