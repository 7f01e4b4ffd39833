package transport

import (
	"io/ioutil"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store"
	"github.com/hitchain/hit/store/impl/kvfs"
)

const (
	oid1 = "6ecf0ef2c2dffb796033e5a02219af86ec6584e5"
	oid2 = "e8d3ffab552895c19b9fcf7aa264d277cde33881"
	oid3 = "b029517f6300c2da0f4b651b8642506cd6aaf45d"
)

func newTestDB() (*ObjectDatabase, store.ContentStore) {
	s := kvfs.New("mem://objdb", memfs.New())
	return New(s, nil), s
}

// A store whose every operation fails, as if the network were down.
type brokenStore struct{ store.ContentStore }

func (brokenStore) Get(string) ([]byte, error) {
	return nil, errcat.Errorf(hit.ErrStoreUnavailable, "down")
}
func (brokenStore) List(string) ([]string, error) {
	return nil, errcat.Errorf(hit.ErrStoreUnavailable, "down")
}
func (brokenStore) String() string { return "broken" }

func TestReadAdvertisedRefs(t *testing.T) {
	Convey("Ref discovery", t, func() {
		db, s := newTestDB()

		Convey("on an empty store is an empty map", func() {
			refs, err := db.ReadAdvertisedRefs()
			So(err, ShouldBeNil)
			So(refs, ShouldHaveLength, 0)
		})
		Convey("with one branch and HEAD", func() {
			So(s.Put("refs/heads/main", []byte(oid1+"\n")), ShouldBeNil)
			So(s.Put("HEAD", []byte("ref: refs/heads/main\n")), ShouldBeNil)

			refs, err := db.ReadAdvertisedRefs()
			So(err, ShouldBeNil)
			So(refs, ShouldHaveLength, 2)
			So(refs["refs/heads/main"].Storage, ShouldEqual, StorageLoose)
			So(refs["refs/heads/main"].ObjectID.String(), ShouldEqual, oid1)
			So(refs["HEAD"].IsSymbolic(), ShouldBeTrue)
			So(refs["HEAD"].Target, ShouldEqual, refs["refs/heads/main"])
			So(refs["HEAD"].Resolved().String(), ShouldEqual, oid1)

			Convey("deleting the branch leaves HEAD dangling, not failing", func() {
				So(db.DeleteRef("refs/heads/main"), ShouldBeNil)
				refs, err := db.ReadAdvertisedRefs()
				So(err, ShouldBeNil)
				So(refs, ShouldHaveLength, 1)
				So(refs["HEAD"].IsSymbolic(), ShouldBeTrue)
				So(refs["HEAD"].Target.Storage, ShouldEqual, StorageNew)
				So(refs["HEAD"].Target.Name, ShouldEqual, "refs/heads/main")
				So(refs["HEAD"].Resolved().IsZero(), ShouldBeTrue)
			})
		})
		Convey("merges packed and loose refs", func() {
			So(s.Put("packed-refs", []byte(
				"# pack-refs with: peeled \n"+
					oid1+" refs/heads/main\n"+
					oid2+" refs/tags/v1\n"+
					"^"+oid3+"\n",
			)), ShouldBeNil)
			So(s.Put("refs/heads/main", []byte(oid2+"\n")), ShouldBeNil)

			refs, err := db.ReadAdvertisedRefs()
			So(err, ShouldBeNil)
			So(refs["refs/heads/main"].Storage, ShouldEqual, StorageLoosePacked)
			So(refs["refs/heads/main"].ObjectID.String(), ShouldEqual, oid2)
			So(refs["refs/tags/v1"].Storage, ShouldEqual, StoragePacked)
			So(refs["refs/tags/v1"].Peeled.String(), ShouldEqual, oid3)
			So(refs, ShouldNotContainKey, "HEAD")

			Convey("and deleting a packed ref rewrites packed-refs", func() {
				So(db.DeleteRef("refs/tags/v1"), ShouldBeNil)
				packed, err := db.ReadPackedRefs()
				So(err, ShouldBeNil)
				So(packed, ShouldHaveLength, 1)
				So(packed[0].Name, ShouldEqual, "refs/heads/main")
			})
		})
		Convey("rejects garbage refs", func() {
			So(s.Put("refs/heads/main", []byte("not a hash\n")), ShouldBeNil)
			_, err := db.ReadAdvertisedRefs()
			So(errcat.Category(err), ShouldEqual, hit.ErrMalformedRef)
		})
		Convey("rejects empty refs", func() {
			So(s.Put("HEAD", []byte("\n")), ShouldBeNil)
			_, err := db.ReadAdvertisedRefs()
			So(errcat.Category(err), ShouldEqual, hit.ErrMalformedRef)
		})
		Convey("reports an unreachable store as a discovery failure", func() {
			db := New(brokenStore{s}, nil)
			_, err := db.ReadAdvertisedRefs()
			So(errcat.Category(err), ShouldEqual, hit.ErrRefDiscovery)
		})
	})
}

func TestReadRef(t *testing.T) {
	Convey("Reading single refs", t, func() {
		db, s := newTestDB()

		Convey("follows chains of symbolic refs", func() {
			So(s.Put("HEAD", []byte("ref: refs/heads/alias\n")), ShouldBeNil)
			So(s.Put("refs/heads/alias", []byte("ref: refs/heads/main\n")), ShouldBeNil)
			So(s.Put("refs/heads/main", []byte(oid1+"\n")), ShouldBeNil)
			avail := map[string]*Ref{}
			ref, err := db.ReadRef(avail, "HEAD")
			So(err, ShouldBeNil)
			So(ref.Target.Name, ShouldEqual, "refs/heads/alias")
			So(ref.Leaf().Name, ShouldEqual, "refs/heads/main")
			So(ref.Resolved(), ShouldResemble, plumbing.NewHash(oid1))
			So(avail, ShouldContainKey, "refs/heads/alias")
			So(avail, ShouldContainKey, "refs/heads/main")
		})
		Convey("reuses targets already discovered", func() {
			So(s.Put("HEAD", []byte("ref: refs/heads/main\n")), ShouldBeNil)
			known := &Ref{Name: "refs/heads/main", Storage: StoragePacked, ObjectID: plumbing.NewHash(oid2)}
			avail := map[string]*Ref{"refs/heads/main": known}
			ref, err := db.ReadRef(avail, "HEAD")
			So(err, ShouldBeNil)
			So(ref.Target, ShouldEqual, known)
		})
		Convey("returns nothing for absent refs", func() {
			ref, err := db.ReadRef(map[string]*Ref{}, "refs/heads/nope")
			So(err, ShouldBeNil)
			So(ref, ShouldBeNil)
		})
		Convey("bounds symbolic cycles", func() {
			So(s.Put("refs/heads/a", []byte("ref: refs/heads/b\n")), ShouldBeNil)
			So(s.Put("refs/heads/b", []byte("ref: refs/heads/a\n")), ShouldBeNil)
			_, err := db.ReadRef(map[string]*Ref{}, "refs/heads/a")
			So(errcat.Category(err), ShouldEqual, hit.ErrMalformedRef)
		})
	})
}

func TestListPacks(t *testing.T) {
	Convey("Pack listing", t, func() {
		db, s := newTestDB()
		So(s.Put("objects/pack/pack-A.pack", []byte("PACK")), ShouldBeNil)
		So(s.Put("objects/pack/pack-A.idx", []byte("IDX")), ShouldBeNil)
		So(s.Put("objects/pack/pack-B.pack", []byte("PACK")), ShouldBeNil)
		So(s.Put("objects/pack/pack-C.idx", []byte("IDX")), ShouldBeNil)

		ids, err := db.ListPacks()
		So(err, ShouldBeNil)
		So(ids, ShouldResemble, []string{"A"})

		pack, idx := PackFiles("A")
		So(pack, ShouldEqual, "pack/pack-A.pack")
		So(idx, ShouldEqual, "pack/pack-A.idx")
	})
}

func TestObjectFiles(t *testing.T) {
	Convey("Object file access", t, func() {
		db, s := newTestDB()

		Convey("absent objects open as empty streams", func() {
			r, err := db.Open("ab/cdef")
			So(err, ShouldBeNil)
			bs, _ := ioutil.ReadAll(r)
			So(bs, ShouldHaveLength, 0)
		})
		Convey("store failures while opening are not masked", func() {
			db := New(brokenStore{s}, nil)
			_, err := db.Open("ab/cdef")
			So(errcat.Category(err), ShouldEqual, hit.ErrStoreUnavailable)
		})
		Convey("whole and streaming writes land under objects/", func() {
			h := plumbing.NewHash(oid1)
			So(db.WriteFile(LooseObjectPath(h), []byte("zlib")), ShouldBeNil)
			wc, err := db.BeginWrite("pack/pack-X.pack")
			So(err, ShouldBeNil)
			wc.Write([]byte("PACK"))
			So(wc.Commit(), ShouldBeNil)

			_, err = s.Get("objects/" + oid1[:2] + "/" + oid1[2:])
			So(err, ShouldBeNil)
			_, err = s.Get("objects/pack/pack-X.pack")
			So(err, ShouldBeNil)

			loose, err := db.ListLooseObjects()
			So(err, ShouldBeNil)
			So(loose, ShouldResemble, []plumbing.Hash{h})
		})
		Convey("delete is idempotent", func() {
			So(db.Delete("ab/cdef"), ShouldBeNil)
			So(db.Delete(RootMarker+"refs/heads/nope"), ShouldBeNil)
		})
		Convey("alternates", func() {
			alts, err := db.Alternates()
			So(err, ShouldBeNil)
			So(alts, ShouldBeNil)

			So(s.Put("objects/info/alternates", []byte("/srv/a/objects\n\n# comment\nhit://b\n")), ShouldBeNil)
			alts, err = db.Alternates()
			So(err, ShouldBeNil)
			So(alts, ShouldResemble, []string{"/srv/a/objects", "hit://b"})
		})
	})
}

func TestStringToHash(t *testing.T) {
	for _, tr := range []struct {
		in string
		ok bool
	}{
		{oid1, true},
		{oid1[:39], false},
		{oid1[:39] + "z", false},
		{"", false},
	} {
		_, err := StringToHash(tr.in)
		if (err == nil) != tr.ok {
			t.Errorf("StringToHash(%q): expected ok=%v, got err %v", tr.in, tr.ok, err)
		}
		if err != nil && errcat.Category(err) != hit.ErrMalformedRef {
			t.Errorf("expected error category %q but got %q", hit.ErrMalformedRef, errcat.Category(err))
		}
	}
}
