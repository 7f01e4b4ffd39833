/*
	The transport package presents a content store as a git remote:
	ref discovery, object and pack retrieval, and ref and object writes,
	laid out exactly like a bare repository's directory.

	It's the remote side of a "dumb" walking transport: nothing runs next
	to the data, so every decision is made by listing and reading files.
*/
package transport

import (
	"bufio"
	"bytes"
	"io"
	"io/ioutil"
	"sort"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/store"
)

const (
	HEAD           = "HEAD"
	packedRefsFile = "packed-refs"
	refsDir        = "refs"
	packDir        = "pack"
	alternatesFile = "info/alternates"

	symrefPrefix = "ref: "

	// Same bound git itself uses when chasing symbolic refs.
	maxSymbolicDepth = 5
)

type ObjectDatabase struct {
	store store.ContentStore
	log   *zap.Logger
}

func New(s store.ContentStore, logger *zap.Logger) *ObjectDatabase {
	return &ObjectDatabase{store: s, log: log.OrNop(logger)}
}

func (db *ObjectDatabase) Store() store.ContentStore { return db.store }

/*
	Discover every ref the remote advertises.

	Packed refs are read first, then every loose ref under refs/
	(a loose file overrides its packed line), then HEAD.
	HEAD is always attempted, and may be absent.
	No refs at all is an empty map, not an error.

	May return errors of category:

	  - `hit.ErrRefDiscovery` -- if the store fails while being walked
	  - `hit.ErrMalformedRef` -- if a ref file holds garbage
*/
func (db *ObjectDatabase) ReadAdvertisedRefs() (map[string]*Ref, error) {
	avail := map[string]*Ref{}
	if err := db.readPackedRefs(avail); err != nil {
		return nil, err
	}
	names, err := db.store.List(refsDir)
	if err != nil {
		log.StoreUnavailable(db.log, err, db.store.String(), refsDir, "list")
		return nil, Errorf(hit.ErrRefDiscovery, "failed to list refs: %s", err)
	}
	for _, n := range names {
		if _, err := db.ReadRef(avail, refsDir+"/"+n); err != nil {
			return nil, err
		}
	}
	if _, err := db.ReadRef(avail, HEAD); err != nil {
		return nil, err
	}
	return avail, nil
}

/*
	Read a single ref, recording it (and anything it points through) in avail.

	Returns nil with no error if the ref doesn't exist.
	A symbolic ref whose target doesn't exist comes back as a Symbolic ref
	wrapping a New placeholder; the placeholder is not added to avail.
	Targets already present in avail are reused rather than re-read.
*/
func (db *ObjectDatabase) ReadRef(avail map[string]*Ref, name string) (*Ref, error) {
	return db.readRef(avail, name, 0)
}

func (db *ObjectDatabase) readRef(avail map[string]*Ref, name string, depth int) (*Ref, error) {
	if depth > maxSymbolicDepth {
		return nil, Errorf(hit.ErrMalformedRef, "symbolic ref %q nests deeper than %d levels", name, maxSymbolicDepth)
	}
	data, err := db.store.Get(rootPath(name))
	switch {
	case err == nil:
	case Category(err) == hit.ErrNotFound:
		return nil, nil
	default:
		log.StoreUnavailable(db.log, err, db.store.String(), name, "read")
		return nil, Errorf(hit.ErrRefDiscovery, "failed to read ref %q: %s", name, err)
	}

	line := firstLine(data)
	switch {
	case line == "":
		return nil, Errorf(hit.ErrMalformedRef, "ref %q is empty", name)
	case strings.HasPrefix(line, symrefPrefix):
		targetName := strings.TrimSpace(line[len(symrefPrefix):])
		target := avail[targetName]
		if target == nil {
			target, err = db.readRef(avail, targetName, depth+1)
			if err != nil {
				return nil, err
			}
		}
		if target == nil {
			target = &Ref{Name: targetName, Storage: StorageNew}
		}
		ref := &Ref{Name: name, Storage: StorageSymbolic, Target: target}
		avail[name] = ref
		log.RefResolved(db.log, name, ref.Storage.String(), targetName)
		return ref, nil
	case isObjectID(line):
		storage := StorageLoose
		if prev := avail[name]; prev != nil && (prev.Storage == StoragePacked || prev.Storage == StorageLoosePacked) {
			storage = StorageLoosePacked
		}
		ref := &Ref{Name: name, Storage: storage, ObjectID: plumbing.NewHash(line)}
		avail[name] = ref
		log.RefResolved(db.log, name, ref.Storage.String(), line)
		return ref, nil
	default:
		return nil, ErrorDetailed(hit.ErrMalformedRef, "ref is neither an object id nor a symbolic ref", map[string]string{
			"ref":     name,
			"content": line,
		})
	}
}

func firstLine(data []byte) string {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	return strings.TrimSpace(string(data))
}

/*
	Parse packed-refs into avail.  A missing file is fine.
*/
func (db *ObjectDatabase) readPackedRefs(avail map[string]*Ref) error {
	refs, err := db.ReadPackedRefs()
	if err != nil {
		return err
	}
	for _, r := range refs {
		avail[r.Name] = r
	}
	return nil
}

/*
	Return the refs listed in packed-refs, in file order.
*/
func (db *ObjectDatabase) ReadPackedRefs() ([]*Ref, error) {
	data, err := db.store.Get(rootPath(packedRefsFile))
	switch {
	case err == nil:
	case Category(err) == hit.ErrNotFound:
		return nil, nil
	default:
		log.StoreUnavailable(db.log, err, db.store.String(), packedRefsFile, "read")
		return nil, Errorf(hit.ErrRefDiscovery, "failed to read packed-refs: %s", err)
	}
	var refs []*Ref
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "", line[0] == '#':
			continue
		case line[0] == '^':
			if len(refs) == 0 || !isObjectID(line[1:]) {
				return nil, Errorf(hit.ErrMalformedRef, "stray peeled line in packed-refs: %q", line)
			}
			refs[len(refs)-1].Peeled = plumbing.NewHash(line[1:])
		default:
			fields := strings.SplitN(line, " ", 2)
			if len(fields) != 2 || !isObjectID(fields[0]) {
				return nil, Errorf(hit.ErrMalformedRef, "bad line in packed-refs: %q", line)
			}
			refs = append(refs, &Ref{
				Name:     strings.TrimSpace(fields[1]),
				Storage:  StoragePacked,
				ObjectID: plumbing.NewHash(fields[0]),
			})
		}
	}
	return refs, nil
}

/*
	Rewrite packed-refs with the given refs.  An empty set removes the file.
*/
func (db *ObjectDatabase) WritePackedRefs(refs []*Ref) error {
	if len(refs) == 0 {
		return db.store.Delete(rootPath(packedRefsFile))
	}
	var buf bytes.Buffer
	buf.WriteString("# pack-refs with: peeled \n")
	for _, r := range refs {
		buf.WriteString(r.ObjectID.String() + " " + r.Name + "\n")
		if !r.Peeled.IsZero() {
			buf.WriteString("^" + r.Peeled.String() + "\n")
		}
	}
	return db.store.Put(rootPath(packedRefsFile), buf.Bytes())
}

/*
	List the packs available on the remote, by id.

	A pack is only listed when both its ".pack" and ".idx" files exist;
	a lone half (say, from an interrupted upload) is silently skipped.
*/
func (db *ObjectDatabase) ListPacks() ([]string, error) {
	names, err := db.store.List(ResolvePath(packDir))
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}
	var ids []string
	for _, n := range names {
		if !strings.HasPrefix(n, "pack-") || !strings.HasSuffix(n, ".pack") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(n, "pack-"), ".pack")
		if _, ok := present["pack-"+id+".idx"]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// The objects-relative paths of a pack's data and index files.
func PackFiles(id string) (pack string, idx string) {
	return packDir + "/pack-" + id + ".pack", packDir + "/pack-" + id + ".idx"
}

/*
	List the loose objects on the remote.
*/
func (db *ObjectDatabase) ListLooseObjects() ([]plumbing.Hash, error) {
	names, err := db.store.List(objectsDir)
	if err != nil {
		return nil, err
	}
	var hashes []plumbing.Hash
	for _, n := range names {
		if len(n) != 41 || n[2] != '/' {
			continue
		}
		if hex := n[:2] + n[3:]; isObjectID(hex) {
			hashes = append(hashes, plumbing.NewHash(hex))
		}
	}
	return hashes, nil
}

// The objects-relative path of a loose object.
func LooseObjectPath(h plumbing.Hash) string {
	s := h.String()
	return s[:2] + "/" + s[2:]
}

/*
	Open a file for reading.

	Absent files read as an empty stream rather than an error:
	git tries candidate object locations and treats empty as "not here".
*/
func (db *ObjectDatabase) Open(path string) (io.ReadCloser, error) {
	data, err := db.store.Get(ResolvePath(path))
	switch {
	case err == nil:
		log.ObjectTransferred(db.log, path, "read", len(data))
		return ioutil.NopCloser(bytes.NewReader(data)), nil
	case Category(err) == hit.ErrNotFound:
		return ioutil.NopCloser(bytes.NewReader(nil)), nil
	default:
		log.StoreUnavailable(db.log, err, db.store.String(), path, "read")
		return nil, err
	}
}

// Write a whole small file, such as a ref.
func (db *ObjectDatabase) WriteFile(path string, data []byte) error {
	if err := db.store.Put(ResolvePath(path), data); err != nil {
		log.StoreUnavailable(db.log, err, db.store.String(), path, "write")
		return err
	}
	log.ObjectTransferred(db.log, path, "write", len(data))
	return nil
}

// Stream a large file, such as a pack.  The caller must Commit or Close the result.
func (db *ObjectDatabase) BeginWrite(path string) (store.WriteController, error) {
	return db.store.BeginPut(ResolvePath(path))
}

// Deleting an absent file is not an error.
func (db *ObjectDatabase) Delete(path string) error {
	return db.store.Delete(ResolvePath(path))
}

/*
	Point a ref at an object.
*/
func (db *ObjectDatabase) WriteRef(name string, h plumbing.Hash) error {
	return db.WriteFile(RootMarker+name, []byte(h.String()+"\n"))
}

func (db *ObjectDatabase) WriteSymbolicRef(name string, target string) error {
	return db.WriteFile(RootMarker+name, []byte(symrefPrefix+target+"\n"))
}

/*
	Remove a ref from both loose and packed storage.
*/
func (db *ObjectDatabase) DeleteRef(name string) error {
	if err := db.Delete(RootMarker + name); err != nil {
		return err
	}
	packed, err := db.ReadPackedRefs()
	if err != nil {
		return err
	}
	kept := packed[:0]
	for _, r := range packed {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(packed) {
		return nil
	}
	return db.WritePackedRefs(kept)
}

/*
	Read the list of alternate object directories.

	No alternates file is normal and returns nil with no error.
*/
func (db *ObjectDatabase) Alternates() ([]string, error) {
	data, err := db.store.Get(ResolvePath(alternatesFile))
	switch {
	case err == nil:
	case Category(err) == hit.ErrNotFound:
		return nil, nil
	default:
		return nil, err
	}
	var alts []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		alts = append(alts, line)
	}
	return alts, nil
}
