/*
	git-remote-hit lets plain git fetch from and push to hit repositories.

	Git runs it as `git-remote-hit <remote> hit://<contract>.git` with the
	local repository in $GIT_DIR, and speaks the remote-helper protocol on
	its stdin and stdout.  Nothing but protocol may go to stdout; logs and
	errors go to stderr.  The config password comes from $HIT_PASSWORD, or
	the terminal.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	git "gopkg.in/src-d/go-git.v4"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/governance"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/session"
	"github.com/hitchain/hit/teamkey"
	"github.com/hitchain/hit/transport"
	"github.com/hitchain/hit/transport/helper"
)

// Swapped out by tests for an in-memory contract.
var dialChain = session.DialChain

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt)
		<-signalChan
		cancel()
	}()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) hit.ExitCode {
	var url string
	switch len(args) {
	case 2:
		url = args[1]
	case 3:
		url = args[2]
	default:
		fmt.Fprintln(stderr, "usage: git-remote-hit <remote> hit://<contract>.git")
		return hit.ExitUsage
	}
	logger, err := log.New(os.Getenv("HIT_LOG_LEVEL"), log.FormatConsole)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return hit.ExitUsage
	}
	defer logger.Sync()

	h, err := open(ctx, url, logger)
	if err == nil {
		err = h.Run(ctx, stdin, stdout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "git-remote-hit: %s\n", err)
	}
	return hit.ExitCodeForError(err)
}

/*
	Resolve the url to a store, through the contract, and set up a
	helper over it for the repository git is running in.
	Private repositories are decrypted with the caller's team key.
*/
func open(ctx context.Context, url string, logger *zap.Logger) (*helper.Helper, error) {
	contract, err := governance.ParseURI(url)
	if err != nil {
		return nil, err
	}
	pth, err := config.GetConfigPath()
	if err != nil {
		return nil, err
	}
	f, err := config.Load(pth)
	if err != nil {
		return nil, err
	}
	pw, err := config.ReadPassword("hit config password: ")
	if err != nil {
		return nil, err
	}
	s, err := session.Open(f, pw, logger)
	if err != nil {
		return nil, err
	}
	if s.ChainTransport, err = dialChain(s.Chain); err != nil {
		return nil, err
	}
	gov, err := s.Governance(contract)
	if err != nil {
		return nil, err
	}
	raw, err := s.Store(ctx, gov)
	if err != nil {
		return nil, err
	}
	st, err := teamkey.NewManager(raw, gov, s.Identity(), logger).OpenStore()
	if err != nil {
		return nil, err
	}

	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		gitDir = "."
	}
	repo, err := git.PlainOpenWithOptions(gitDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot open the local repository at %s: %s", gitDir, err)
	}
	return helper.New(transport.New(st, logger), repo, logger), nil
}
