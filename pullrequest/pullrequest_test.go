package pullrequest

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
	"gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/testutil"
)

type fakeLister struct {
	authored, community []api.PullRequest
	err                 error
	communityReads      int
}

func (l *fakeLister) ListAuthoredPullRequests(ctx context.Context) ([]api.PullRequest, error) {
	return l.authored, l.err
}

func (l *fakeLister) ListCommunityPullRequests(ctx context.Context) ([]api.PullRequest, error) {
	l.communityReads++
	return l.community, nil
}

type recordingRunner struct {
	calls  [][]string
	failOn string
	out    string
}

func (r *recordingRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	r.calls = append(r.calls, args)
	if args[0] == r.failOn {
		return r.out, &exec.ExitError{}
	}
	return "", nil
}

type recordingPatcher struct {
	applied []api.PullRequest
	flags   Flags
}

func (p *recordingPatcher) Patch(ctx context.Context, pr api.PullRequest, flags Flags) error {
	p.applied = append(p.applied, pr)
	p.flags = flags
	return nil
}

func TestResolve(t *testing.T) {
	Convey("Resolving pull requests", t, func() {
		ctx := context.Background()
		l := &fakeLister{
			authored: []api.PullRequest{
				{ID: "a1", SourceURL: "hit://0xaa.git"},
				{ID: "both", SourceURL: "hit://authored.git"},
			},
			community: []api.PullRequest{
				{ID: "both", SourceURL: "hit://community.git"},
				{ID: "c1", SourceURL: "hit://0xcc.git"},
			},
		}
		Convey("prefers the authored list", func() {
			pr, err := Resolve(ctx, l, "both")
			So(err, ShouldBeNil)
			So(pr.SourceURL, ShouldEqual, "hit://authored.git")
			So(l.communityReads, ShouldEqual, 0)
		})
		Convey("falls back to the community list", func() {
			pr, err := Resolve(ctx, l, "c1")
			So(err, ShouldBeNil)
			So(pr.SourceURL, ShouldEqual, "hit://0xcc.git")
		})
		Convey("reports absence as a nil result", func() {
			pr, err := Resolve(ctx, l, "zz")
			So(err, ShouldBeNil)
			So(pr, ShouldBeNil)
			So(l.communityReads, ShouldEqual, 1)
		})
		Convey("ids match exactly", func() {
			pr, err := Resolve(ctx, l, "A1")
			So(err, ShouldBeNil)
			So(pr, ShouldBeNil)
		})
		Convey("passes ledger errors through", func() {
			l.err = errcat.Errorf(hit.ErrChainTransport, "gateway down")
			_, err := Resolve(ctx, l, "a1")
			So(errcat.Category(err), ShouldEqual, hit.ErrChainTransport)
		})
		Convey("apply hands the match to the patcher", func() {
			p := &recordingPatcher{}
			flags := Flags{IgnoreWhitespace: true, NoCommit: true}
			pr, err := Apply(ctx, l, p, "c1", flags)
			So(err, ShouldBeNil)
			So(pr.ID, ShouldEqual, "c1")
			So(p.applied, ShouldHaveLength, 1)
			So(p.flags, ShouldResemble, flags)

			pr, err = Apply(ctx, l, p, "zz", flags)
			So(err, ShouldBeNil)
			So(pr, ShouldBeNil)
			So(p.applied, ShouldHaveLength, 1)
		})
	})
}

func TestMergeArgs(t *testing.T) {
	for _, tr := range []struct {
		name  string
		flags Flags
		args  string
	}{
		{"none", Flags{}, ""},
		{"space", Flags{IgnoreSpaceChange: true}, "-Xignore-space-change"},
		{"all", Flags{true, true, true, true}, "-Xignore-space-change -Xignore-all-space -Xtheirs --no-commit"},
		{"force", Flags{ForceMergeLine: true}, "-Xtheirs"},
	} {
		t.Run(tr.name, func(t *testing.T) {
			if got := strings.Join(tr.flags.mergeArgs(), " "); got != tr.args {
				t.Errorf("got %q, want %q", got, tr.args)
			}
		})
	}
}

func initRepo(dir string) *git.Repository {
	repo, err := git.PlainInit(dir, false)
	So(err, ShouldBeNil)
	wt, err := repo.Worktree()
	So(err, ShouldBeNil)
	f, err := wt.Filesystem.Create("README")
	So(err, ShouldBeNil)
	f.Write([]byte("hello\n"))
	f.Close()
	_, err = wt.Add("README")
	So(err, ShouldBeNil)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{
		Name: "hit", Email: "hit@localhost", When: time.Unix(1500000000, 0),
	}})
	So(err, ShouldBeNil)
	return repo
}

func TestGitPatcher(t *testing.T) {
	Convey("Applying a pull request to a working tree", t, func() {
		testutil.WithTmpdir(func(tmpDir string) {
			dir := filepath.Join(tmpDir, "repo")
			repo := initRepo(dir)
			runner := &recordingRunner{}
			g := NewGitPatcher(dir, nil)
			g.Runner = runner
			pr := api.PullRequest{ID: "abc123", SourceURL: "hit://0xaa.git", Branch: "feature"}
			ctx := context.Background()

			Convey("cuts a pr branch and merges into it", func() {
				So(g.Patch(ctx, pr, Flags{IgnoreSpaceChange: true}), ShouldBeNil)
				head, err := repo.Head()
				So(err, ShouldBeNil)
				So(head.Name().String(), ShouldEqual, "refs/heads/pr/abc123")
				So(runner.calls, ShouldResemble, [][]string{
					{"fetch", "hit://0xaa.git", "feature"},
					{"merge", "-Xignore-space-change", "-m", "Apply pull request abc123", "FETCH_HEAD"},
				})

				Convey("and won't reuse the branch", func() {
					err := g.Patch(ctx, pr, Flags{})
					So(errcat.Category(err), ShouldEqual, hit.ErrUsage)
				})
			})
			Convey("fetches HEAD when no branch is named", func() {
				pr.Branch = ""
				So(g.Patch(ctx, pr, Flags{NoCommit: true}), ShouldBeNil)
				So(runner.calls[0], ShouldResemble, []string{"fetch", "hit://0xaa.git", "HEAD"})
				So(runner.calls[1], ShouldResemble, []string{"merge", "--no-commit", "FETCH_HEAD"})
			})
			Convey("reports a failed merge", func() {
				runner.failOn = "merge"
				runner.out = "CONFLICT (content): Merge conflict in README\n"
				err := g.Patch(ctx, pr, Flags{})
				So(errcat.Category(err), ShouldEqual, hit.ErrMergeFailed)
				So(err.Error(), ShouldContainSubstring, "Merge conflict in README")
			})
			Convey("reports an unreachable source", func() {
				runner.failOn = "fetch"
				err := g.Patch(ctx, pr, Flags{})
				So(errcat.Category(err), ShouldEqual, hit.ErrStoreUnavailable)
				So(runner.calls, ShouldHaveLength, 1)
			})
			Convey("refuses a directory that isn't a repository", func() {
				g.Dir = tmpDir
				err := g.Patch(ctx, pr, Flags{})
				So(errcat.Category(err), ShouldEqual, hit.ErrUsage)
			})
		})
	})
}

func TestGitPatcherWithGit(t *testing.T) {
	Convey("Applying a pull request with the git binary", t, testutil.Requires(
		testutil.RequiresGit,
		testutil.RequiresLongRun,
		func() {
			testutil.WithTmpdir(func(tmpDir string) {
				ctx := context.Background()
				dir := filepath.Join(tmpDir, "repo")
				repo := initRepo(dir)
				src := filepath.Join(tmpDir, "fork")
				_, err := ExecRunner{}.Run(ctx, tmpDir, "clone", "-q", dir, src)
				So(err, ShouldBeNil)

				fork, err := git.PlainOpen(src)
				So(err, ShouldBeNil)
				wt, err := fork.Worktree()
				So(err, ShouldBeNil)
				f, err := wt.Filesystem.Create("CHANGES")
				So(err, ShouldBeNil)
				f.Write([]byte("from the fork\n"))
				f.Close()
				_, err = wt.Add("CHANGES")
				So(err, ShouldBeNil)
				forkHead, err := wt.Commit("fork work", &git.CommitOptions{Author: &object.Signature{
					Name: "fork", Email: "fork@localhost", When: time.Unix(1500000100, 0),
				}})
				So(err, ShouldBeNil)

				pr := api.PullRequest{ID: "f00d", SourceURL: src, Branch: "master"}
				So(NewGitPatcher(dir, nil).Patch(ctx, pr, Flags{}), ShouldBeNil)
				head, err := repo.Head()
				So(err, ShouldBeNil)
				So(head.Name(), ShouldEqual, BranchName(pr))
				So(head.Hash(), ShouldEqual, forkHead)
			})
		},
	))
}
