package helper

import (
	"bytes"
	"context"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-billy.v4/memfs"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/format/objfile"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/memory"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store/impl/kvfs"
	"github.com/hitchain/hit/transport"
)

// Make an in-memory repository with one commit per content string on master.
func newRepo(contents ...string) (*git.Repository, plumbing.Hash) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	So(err, ShouldBeNil)
	wt, err := repo.Worktree()
	So(err, ShouldBeNil)
	var head plumbing.Hash
	for i, content := range contents {
		f, err := fs.Create("README")
		So(err, ShouldBeNil)
		f.Write([]byte(content))
		f.Close()
		_, err = wt.Add("README")
		So(err, ShouldBeNil)
		head, err = wt.Commit("commit "+content, &git.CommitOptions{
			Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(int64(1500000000+i), 0)},
		})
		So(err, ShouldBeNil)
	}
	return repo, head
}

func TestPushAndFetch(t *testing.T) {
	Convey("Given a local repository and an empty remote", t, func() {
		ctx := context.Background()
		repo, head := newRepo("hello")
		db := transport.New(kvfs.New("mem://helper", memfs.New()), nil)
		master := RefUpdate{Src: "refs/heads/master", Dst: "refs/heads/master"}

		Convey("pushing uploads a pack, the ref, and a HEAD", func() {
			results, err := Push(ctx, repo, db, nil, []RefUpdate{master})
			So(err, ShouldBeNil)
			So(results, ShouldHaveLength, 1)
			So(results[0].Err, ShouldBeNil)

			refs, err := db.ReadAdvertisedRefs()
			So(err, ShouldBeNil)
			So(refs["refs/heads/master"].ObjectID, ShouldResemble, head)
			So(refs["HEAD"].Target.Name, ShouldEqual, "refs/heads/master")

			packs, err := db.ListPacks()
			So(err, ShouldBeNil)
			So(packs, ShouldHaveLength, 1)
			packPath, idxPath := transport.PackFiles(packs[0])
			for _, path := range []string{packPath, idxPath} {
				r, err := db.Open(path)
				So(err, ShouldBeNil)
				bs, _ := ioutil.ReadAll(r)
				So(len(bs), ShouldBeGreaterThan, 0)
			}
			loose, err := db.ListLooseObjects()
			So(err, ShouldBeNil)
			So(loose, ShouldHaveLength, 0)

			Convey("fetching into another repository copies them back", func() {
				other, err := git.Init(memory.NewStorage(), nil)
				So(err, ShouldBeNil)
				So(Fetch(ctx, other, db, nil), ShouldBeNil)
				commit, err := other.CommitObject(head)
				So(err, ShouldBeNil)
				So(commit.Message, ShouldEqual, "commit hello")
				file, err := commit.File("README")
				So(err, ShouldBeNil)
				content, err := file.Contents()
				So(err, ShouldBeNil)
				So(content, ShouldEqual, "hello")
			})
			Convey("a diverged push is refused without force", func() {
				stranger, _ := newRepo("elsewhere")
				results, err := Push(ctx, stranger, db, nil, []RefUpdate{master})
				So(err, ShouldBeNil)
				So(errcat.Category(results[0].Err), ShouldEqual, hit.ErrUsage)

				Convey("and accepted with it", func() {
					forced := master
					forced.Force = true
					results, err := Push(ctx, stranger, db, nil, []RefUpdate{forced})
					So(err, ShouldBeNil)
					So(results[0].Err, ShouldBeNil)
				})
			})
			Convey("a fast-forward push is accepted", func() {
				wt, _ := repo.Worktree()
				f, _ := wt.Filesystem.Create("README")
				f.Write([]byte("more"))
				f.Close()
				wt.Add("README")
				next, err := wt.Commit("more", &git.CommitOptions{
					Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1600000000, 0)},
				})
				So(err, ShouldBeNil)
				results, err := Push(ctx, repo, db, nil, []RefUpdate{master})
				So(err, ShouldBeNil)
				So(results[0].Err, ShouldBeNil)
				refs, _ := db.ReadAdvertisedRefs()
				So(refs["refs/heads/master"].ObjectID, ShouldResemble, next)

				Convey("as a second pack holding only the new objects", func() {
					packs, err := db.ListPacks()
					So(err, ShouldBeNil)
					So(packs, ShouldHaveLength, 2)

					other, err := git.Init(memory.NewStorage(), nil)
					So(err, ShouldBeNil)
					So(Fetch(ctx, other, db, nil), ShouldBeNil)
					commit, err := other.CommitObject(next)
					So(err, ShouldBeNil)
					parent, err := commit.Parent(0)
					So(err, ShouldBeNil)
					So(parent.Hash, ShouldResemble, head)
				})
			})
			Convey("pushing an empty source deletes the ref", func() {
				results, err := Push(ctx, repo, db, nil, []RefUpdate{{Dst: "refs/heads/master"}})
				So(err, ShouldBeNil)
				So(results[0].Err, ShouldBeNil)
				refs, _ := db.ReadAdvertisedRefs()
				So(refs, ShouldNotContainKey, "refs/heads/master")
				So(refs["HEAD"].Target.Storage, ShouldEqual, transport.StorageNew)
			})
		})
		Convey("loose objects on the remote are fetched one by one", func() {
			var buf bytes.Buffer
			ow := objfile.NewWriter(&buf)
			So(ow.WriteHeader(plumbing.BlobObject, 5), ShouldBeNil)
			ow.Write([]byte("loose"))
			So(ow.Close(), ShouldBeNil)
			blob := plumbing.ComputeHash(plumbing.BlobObject, []byte("loose"))
			So(db.WriteFile(transport.LooseObjectPath(blob), buf.Bytes()), ShouldBeNil)

			other, err := git.Init(memory.NewStorage(), nil)
			So(err, ShouldBeNil)
			So(Fetch(ctx, other, db, nil), ShouldBeNil)
			obj, err := other.BlobObject(blob)
			So(err, ShouldBeNil)
			So(obj.Size, ShouldEqual, 5)

			Convey("and a corrupt one stops the fetch", func() {
				bogus := plumbing.ComputeHash(plumbing.BlobObject, []byte("other"))
				So(db.WriteFile(transport.LooseObjectPath(bogus), buf.Bytes()), ShouldBeNil)
				other, err := git.Init(memory.NewStorage(), nil)
				So(err, ShouldBeNil)
				err = Fetch(ctx, other, db, nil)
				So(errcat.Category(err), ShouldEqual, hit.ErrStoreUnavailable)
			})
		})
		Convey("pushing an unknown source fails only that ref", func() {
			results, err := Push(ctx, repo, db, nil, []RefUpdate{{Src: "refs/heads/nope", Dst: "refs/heads/nope"}, master})
			So(err, ShouldBeNil)
			So(results[0].Err, ShouldNotBeNil)
			So(results[1].Err, ShouldBeNil)
		})
	})
}

func TestParseRefUpdate(t *testing.T) {
	for _, tr := range []struct {
		spec string
		want RefUpdate
		ok   bool
	}{
		{"refs/heads/a:refs/heads/b", RefUpdate{Src: "refs/heads/a", Dst: "refs/heads/b"}, true},
		{"+refs/heads/a:refs/heads/a", RefUpdate{Src: "refs/heads/a", Dst: "refs/heads/a", Force: true}, true},
		{":refs/heads/gone", RefUpdate{Dst: "refs/heads/gone"}, true},
		{"refs/heads/a", RefUpdate{}, false},
		{"refs/heads/a:", RefUpdate{}, false},
	} {
		got, err := ParseRefUpdate(tr.spec)
		if (err == nil) != tr.ok {
			t.Errorf("ParseRefUpdate(%q): expected ok=%v, got %v", tr.spec, tr.ok, err)
			continue
		}
		if tr.ok && got != tr.want {
			t.Errorf("ParseRefUpdate(%q) = %+v, expected %+v", tr.spec, got, tr.want)
		}
	}
}

func TestProtocol(t *testing.T) {
	Convey("Speaking the remote-helper protocol", t, func() {
		repo, head := newRepo("hello")
		db := transport.New(kvfs.New("mem://protocol", memfs.New()), nil)
		h := New(db, repo, nil)
		var out bytes.Buffer

		Convey("capabilities and an empty list", func() {
			So(h.Run(context.Background(), strings.NewReader("capabilities\nlist\n\n"), &out), ShouldBeNil)
			So(out.String(), ShouldEqual, "fetch\npush\noption\n\n\n")
		})
		Convey("push then list", func() {
			in := "option dry-run false\nlist for-push\npush refs/heads/master:refs/heads/master\n\nlist\n\n"
			So(h.Run(context.Background(), strings.NewReader(in), &out), ShouldBeNil)
			lines := strings.Split(out.String(), "\n")
			So(lines[0], ShouldEqual, "ok")
			So(lines[1], ShouldEqual, "") // empty for-push listing
			So(lines[2], ShouldEqual, "ok refs/heads/master")
			So(lines[3], ShouldEqual, "")
			So(lines[4:6], ShouldContain, head.String()+" refs/heads/master")
			So(lines[4:6], ShouldContain, "@refs/heads/master HEAD")
		})
		Convey("unknown options are declined", func() {
			So(h.Run(context.Background(), strings.NewReader("option depth 1\n"), &out), ShouldBeNil)
			So(out.String(), ShouldEqual, "unsupported\n")
		})
	})
}
