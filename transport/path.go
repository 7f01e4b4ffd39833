package transport

import (
	"strings"

	"github.com/hitchain/hit/store"
)

/*
	Paths handed to the object database are relative to the repository's
	"objects" directory, the way git's walking transports address them.
	A leading RootMarker escapes to the repository root instead,
	which is where refs, HEAD, and packed-refs live.

	So "ab/cdef..." is stored at "objects/ab/cdef...",
	and "../refs/heads/main" is stored at "refs/heads/main".
*/
const RootMarker = "../"

const objectsDir = "objects"

// Map an objects-relative path (or a RootMarker path) to its key in the content store.
func ResolvePath(p string) string {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if strings.HasPrefix(p, RootMarker) {
		return store.CleanPath(p[len(RootMarker):])
	}
	return store.JoinPath(objectsDir, p)
}

/*
	The inverse of ResolvePath: map a content store key back to the
	objects-relative form, adding the RootMarker for keys outside "objects/".

	ResolvePath(UnresolvePath(k)) == k for any clean store key k.
*/
func UnresolvePath(key string) string {
	key = store.CleanPath(key)
	switch {
	case key == objectsDir:
		return ""
	case strings.HasPrefix(key, objectsDir+"/"):
		return key[len(objectsDir)+1:]
	default:
		return RootMarker + key
	}
}

// Shorthand for the store key of a root-level file such as a ref.
func rootPath(name string) string {
	return ResolvePath(RootMarker + name)
}
