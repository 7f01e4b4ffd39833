package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"
	git "gopkg.in/src-d/go-git.v4"
	gitconfig "gopkg.in/src-d/go-git.v4/config"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/storer"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/governance"
	"github.com/hitchain/hit/pullrequest"
	"github.com/hitchain/hit/transport"
	"github.com/hitchain/hit/transport/helper"
)

func configureRepositoryName(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("uri", "hit://<contract>.git").Required().StringVar(&cli.RepositoryNameCLI.URI)
	handlers[cmd.FullCommand()] = func(ctx context.Context, e *env) ([]string, error) {
		contract, err := governance.ParseURI(e.cli.RepositoryNameCLI.URI)
		if err != nil {
			return nil, err
		}
		gov, err := e.reader(contract)
		if err != nil {
			return nil, err
		}
		return one(gov.RepositoryName(ctx))
	}
}

func configureMigrate(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("uri", "git url to migrate from").Required().StringVar(&cli.MigrateCLI.URI)
	cmd.Arg("dir", "where to clone it (default: named after the url)").StringVar(&cli.MigrateCLI.Dir)
	handlers[cmd.FullCommand()] = runMigrate
}

/*
	Clone a git repository, push every branch and tag into the store
	of the repository governed by the contract, and point the clone's
	origin at the contract.  The source stays reachable as "upstream".

	Migration never takes the contract from a working tree's origin:
	it is --contract or the configured default.
*/
func runMigrate(ctx context.Context, e *env) ([]string, error) {
	src := e.cli.MigrateCLI.URI
	dir := e.cli.MigrateCLI.Dir
	if dir == "" {
		dir = strings.TrimSuffix(path.Base(strings.TrimRight(src, "/")), ".git")
	}
	if dir == "" || dir == "." || dir == "/" {
		return nil, Errorf(hit.ErrUsage, "cannot name a directory after %q; give one", src)
	}
	contract := e.cli.Contract
	if contract == "" {
		f, err := e.config()
		if err != nil {
			return nil, err
		}
		if contract, err = f.Entry(config.SectionContract, ""); err != nil {
			return nil, Errorf(hit.ErrUsage, "no contract: pass --contract or configure one with `hit cfg contract add`")
		}
	}
	e.cli.Contract = contract
	m, _, err := e.team(ctx)
	if err != nil {
		return nil, err
	}
	s, err := m.OpenStore()
	if err != nil {
		return nil, err
	}

	e.log.Info("cloning for migration")
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: src, Tags: git.AllTags})
	if err != nil {
		if ctx.Err() != nil {
			return nil, Errorf(hit.ErrCancelled, "clone cancelled: %s", ctx.Err())
		}
		return nil, Errorf(hit.ErrStoreUnavailable, "cannot clone %s: %s", src, err)
	}
	updates, err := migrationUpdates(repo)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return nil, Errorf(hit.ErrNotFound, "%s has no branches to migrate", src)
	}
	results, err := helper.Push(ctx, repo, transport.New(s, e.log), e.log, updates)
	if err != nil {
		return nil, err
	}
	var lines []string
	var failed error
	for _, res := range results {
		if res.Err != nil {
			lines = append(lines, fmt.Sprintf("error %s %s", res.Dst, res.Err))
			failed = res.Err
			continue
		}
		lines = append(lines, "ok "+res.Dst)
	}
	if failed != nil {
		return lines, failed
	}

	uri := governance.FormatURI(contract)
	if err := setRemotes(repo, uri, src); err != nil {
		return lines, err
	}
	return append(lines, "migrated "+src+" to "+uri+" in "+dir), nil
}

// Every cloned branch to refs/heads, and every tag as-is.
func migrationUpdates(repo *git.Repository) ([]helper.RefUpdate, error) {
	refs, err := repo.References()
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot list references: %s", err)
	}
	var updates []helper.RefUpdate
	const remotePrefix = "refs/remotes/origin/"
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		switch {
		case ref.Type() != plumbing.HashReference:
		case strings.HasPrefix(name, remotePrefix):
			updates = append(updates, helper.RefUpdate{Src: name, Dst: "refs/heads/" + strings.TrimPrefix(name, remotePrefix)})
		case ref.Name().IsTag():
			updates = append(updates, helper.RefUpdate{Src: name, Dst: name})
		}
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return nil, Errorf(hit.ErrUsage, "cannot list references: %s", err)
	}
	// The remote's default branch goes first, so it becomes the store's HEAD.
	if head, err := repo.Head(); err == nil {
		for i, u := range updates {
			if u.Dst == head.Name().String() {
				updates[0], updates[i] = updates[i], updates[0]
				break
			}
		}
	}
	return updates, nil
}

func setRemotes(repo *git.Repository, origin, upstream string) error {
	cfg, err := repo.Config()
	if err != nil {
		return Errorf(hit.ErrUsage, "cannot read git config: %s", err)
	}
	cfg.Remotes["upstream"] = &gitconfig.RemoteConfig{
		Name:  "upstream",
		URLs:  []string{upstream},
		Fetch: []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/upstream/*"},
	}
	cfg.Remotes["origin"] = &gitconfig.RemoteConfig{
		Name:  "origin",
		URLs:  []string{origin},
		Fetch: []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
	}
	if err := repo.Storer.SetConfig(cfg); err != nil {
		return Errorf(hit.ErrUsage, "cannot write git config: %s", err)
	}
	return nil
}

func configureAm(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("id", "pull request id").Required().StringVar(&cli.AmCLI.ID)
	cmd.Flag("ignore-space-change", "merge ignoring changes in amount of whitespace").
		BoolVar(&cli.AmCLI.IgnoreSpaceChange)
	cmd.Flag("ignore-whitespace", "merge ignoring whitespace entirely").
		BoolVar(&cli.AmCLI.IgnoreWhitespace)
	cmd.Flag("force-merge", "resolve conflicting lines in favor of the pull request").
		BoolVar(&cli.AmCLI.ForceMerge)
	cmd.Flag("no-commit", "stop before committing the merge").
		BoolVar(&cli.AmCLI.NoCommit)
	handlers[cmd.FullCommand()] = runAm
}

func runAm(ctx context.Context, e *env) ([]string, error) {
	if _, err := e.repo(); err != nil {
		return nil, err
	}
	contract, err := e.contract()
	if err != nil {
		return nil, err
	}
	gov, err := e.reader(contract)
	if err != nil {
		return nil, err
	}
	am := e.cli.AmCLI
	flags := pullrequest.Flags{
		IgnoreSpaceChange: am.IgnoreSpaceChange,
		IgnoreWhitespace:  am.IgnoreWhitespace,
		ForceMergeLine:    am.ForceMerge,
		NoCommit:          am.NoCommit,
	}
	pr, err := pullrequest.Apply(ctx, gov, newPatcher(e.cli.WorkTree, e), am.ID, flags)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return []string{"Pull request for id " + am.ID + " not found"}, nil
	}
	return []string{"applied pull request " + pr.ID + " from " + pr.SourceURL + " on " + pullrequest.BranchName(*pr).Short()}, nil
}

// Swapped out by tests, which have no hit remote helper to fetch through.
var newPatcher = func(dir string, e *env) pullrequest.Patcher {
	return pullrequest.NewGitPatcher(dir, e.log)
}
