package pullrequest

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	"gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/lib/log"
)

// How a pull request is merged.  Passed through to the merge verbatim.
type Flags struct {
	IgnoreSpaceChange bool
	IgnoreWhitespace  bool
	ForceMergeLine    bool // conflicting lines take the pull request's side
	NoCommit          bool
}

func (f Flags) mergeArgs() []string {
	var args []string
	if f.IgnoreSpaceChange {
		args = append(args, "-Xignore-space-change")
	}
	if f.IgnoreWhitespace {
		args = append(args, "-Xignore-all-space")
	}
	if f.ForceMergeLine {
		args = append(args, "-Xtheirs")
	}
	if f.NoCommit {
		args = append(args, "--no-commit")
	}
	return args
}

type Patcher interface {
	Patch(ctx context.Context, pr api.PullRequest, flags Flags) error
}

// Runs git in a directory.  Returns combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Runs the git binary from $PATH.
type ExecRunner struct{}

/*
	Returns errors of category:

	  - `hit.ErrCancelled` -- if the context ended first
	  - `hit.ErrUsage` -- if git couldn't be started
	  - an uncategorized *exec.ExitError if git exited non-zero; callers decide what that means
*/
func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	switch {
	case ctx.Err() != nil:
		return out.String(), Errorf(hit.ErrCancelled, "git %s: %s", args[0], ctx.Err())
	case err == nil:
		return out.String(), nil
	case isExit(err):
		return out.String(), err
	default:
		return out.String(), Errorf(hit.ErrUsage, "cannot run git: %s", err)
	}
}

func isExit(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

// The branch a pull request is applied on.
func BranchName(pr api.PullRequest) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName("pr/" + pr.ID)
}

/*
	Applies pull requests to a working tree: a `pr/<id>` branch is cut
	from HEAD and checked out, the pull request's source is fetched,
	and merged into that branch.  The main branch is never touched;
	merging `pr/<id>` onward is left to the operator.
*/
type GitPatcher struct {
	Dir    string // working tree
	Runner Runner
	Log    *zap.Logger
}

func NewGitPatcher(dir string, logger *zap.Logger) *GitPatcher {
	return &GitPatcher{Dir: dir, Runner: ExecRunner{}, Log: log.OrNop(logger)}
}

/*
	May return errors of category:

	  - `hit.ErrUsage` -- if Dir isn't a git working tree, or the branch already exists
	  - `hit.ErrStoreUnavailable` -- if the pull request's source couldn't be fetched
	  - `hit.ErrMergeFailed` -- if the merge didn't go through (the working tree is left as git left it)
	  - `hit.ErrCancelled`
*/
func (g *GitPatcher) Patch(ctx context.Context, pr api.PullRequest, flags Flags) error {
	if pr.SourceURL == "" {
		return Errorf(hit.ErrUsage, "pull request %s has no source url", pr.ID)
	}
	repo, err := git.PlainOpen(g.Dir)
	if err != nil {
		return Errorf(hit.ErrUsage, "%s is not a git repository: %s", g.Dir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return Errorf(hit.ErrUsage, "cannot read HEAD of %s: %s", g.Dir, err)
	}
	branch := BranchName(pr)
	if _, err := repo.Reference(branch, false); err == nil {
		return Errorf(hit.ErrUsage, "branch %s already exists; delete it to apply again", branch.Short())
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Errorf(hit.ErrUsage, "%s has no working tree: %s", g.Dir, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:   head.Hash(),
		Branch: branch,
		Create: true,
		Keep:   true,
	}); err != nil {
		return Errorf(hit.ErrUsage, "cannot check out %s: %s", branch.Short(), err)
	}

	source := "HEAD"
	if pr.Branch != "" {
		source = pr.Branch
	}
	if out, err := g.Runner.Run(ctx, g.Dir, "fetch", pr.SourceURL, source); err != nil {
		if !isExit(err) {
			return err
		}
		return ErrorDetailed(hit.ErrStoreUnavailable,
			"cannot fetch pull request "+pr.ID+" from "+pr.SourceURL+": "+strings.TrimSpace(out),
			map[string]string{"pr": pr.ID, "url": pr.SourceURL})
	}

	args := append([]string{"merge"}, flags.mergeArgs()...)
	if !flags.NoCommit {
		args = append(args, "-m", "Apply pull request "+pr.ID)
	}
	args = append(args, "FETCH_HEAD")
	if out, err := g.Runner.Run(ctx, g.Dir, args...); err != nil {
		if !isExit(err) {
			return err
		}
		return ErrorDetailed(hit.ErrMergeFailed,
			"merging pull request "+pr.ID+" failed: "+strings.TrimSpace(out),
			map[string]string{"pr": pr.ID, "branch": branch.Short()})
	}
	g.Log.Info("pull request applied",
		zap.String("pr", pr.ID),
		zap.String("branch", branch.Short()),
		zap.String("source", pr.SourceURL),
	)
	return nil
}
