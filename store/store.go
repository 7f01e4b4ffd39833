package store

import (
	"io"
	"strings"
)

/*
	A ContentStore is a path-addressed blob store.

	Paths are slash-separated strings with no leading slash.
	Repository objects live under "objects/"; refs, HEAD, and metadata
	records live at the root.  Stores understand nothing of git;
	the transport package owns the layout.

	Backing implementations are simple key-value stores.
	Examples are 'kvfs' (a local or in-memory filesystem)
	and 'kvipfs' (the mutable filesystem of an IPFS node, over its http api).

	May return errors of category:

	  - `hit.ErrNotFound` -- from Get, when nothing is stored at the path
	  - `hit.ErrStoreUnavailable` -- if the store can't be reached
	  - `hit.ErrStoreUnwritable` -- if the store rejects a write
*/
type ContentStore interface {
	Get(path string) ([]byte, error)
	Put(path string, data []byte) error
	BeginPut(path string) (WriteController, error)

	// Deleting an absent path is not an error.
	Delete(path string) error

	// List returns the names of every file below the prefix, recursively,
	// relative to the prefix.  A missing prefix lists as empty.
	List(prefix string) ([]string, error)

	// Describes the store for messages.
	String() string
}

/*
	Stores return a "write controller" for streaming writes, which is both
	a simple `io.Writer`, and also carries a `Commit` function which must
	be called when the write is complete.

	Calling `Commit` moves the data into final position and makes it available
	for reading, and closes the writer.
	Calling `Close` on the write controller before commit aborts the write,
	freeing any temp space used.
*/
type WriteController interface {
	io.WriteCloser
	Commit() error
}

/*
	A no-op implementation of WriteController.
	Useful for dry runs.
*/
type NullWriteController struct{}

func (NullWriteController) Write(bs []byte) (int, error) { return len(bs), nil }
func (NullWriteController) Close() error                 { return nil }
func (NullWriteController) Commit() error                { return nil }

/*
	Normalize a store path: trim surrounding whitespace and slashes,
	and collapse repeated slashes.
*/
func CleanPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	for strings.Contains(p, "//") {
		p = strings.Replace(p, "//", "/", -1)
	}
	return p
}

// Join path segments, cleaning the result.
func JoinPath(segments ...string) string {
	return CleanPath(strings.Join(segments, "/"))
}
