package transport

import (
	"encoding/hex"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/hitchain/hit"
)

// Where a ref's value was found.
type Storage int

const (
	StorageNew         Storage = iota // not stored anywhere yet; placeholder target of a dangling symbolic ref
	StorageLoose                      // its own file under refs/
	StoragePacked                     // a line in packed-refs
	StorageLoosePacked                // both; the loose file wins
	StorageSymbolic                   // "ref: <target>" indirection
)

func (s Storage) String() string {
	switch s {
	case StorageNew:
		return "new"
	case StorageLoose:
		return "loose"
	case StoragePacked:
		return "packed"
	case StorageLoosePacked:
		return "loose-packed"
	case StorageSymbolic:
		return "symbolic"
	default:
		return "invalid"
	}
}

/*
	A Ref names either an object or, when symbolic, another Ref.

	Symbolic refs always have a non-nil Target; a target that doesn't exist
	in the store is represented by a Ref with StorageNew and a zero ObjectID.
*/
type Ref struct {
	Name     string
	Storage  Storage
	ObjectID plumbing.Hash // zero for New and Symbolic
	Peeled   plumbing.Hash // for annotated tags in packed-refs; zero if unknown
	Target   *Ref          // only for Symbolic
}

func (r *Ref) IsSymbolic() bool { return r.Storage == StorageSymbolic }

// Follow symbolic targets down to the concrete (or New) ref.
func (r *Ref) Leaf() *Ref {
	for r.IsSymbolic() && r.Target != nil {
		r = r.Target
	}
	return r
}

// The object the ref ultimately points to, or the zero hash if unresolved.
func (r *Ref) Resolved() plumbing.Hash {
	return r.Leaf().ObjectID
}

/*
	Transform a hex string into a git hash.
	Performs some basic checks on inputs.
*/
func StringToHash(hash string) (plumbing.Hash, error) {
	if !isObjectID(hash) {
		return plumbing.ZeroHash, Errorf(hit.ErrMalformedRef, "%q is not a 40 character hex object id", hash)
	}
	return plumbing.NewHash(hash), nil
}

// A git object id must be exactly 40 hex characters.
func isObjectID(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
