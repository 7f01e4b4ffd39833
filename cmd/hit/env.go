package main

import (
	"context"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	git "gopkg.in/src-d/go-git.v4"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/governance"
	"github.com/hitchain/hit/ledger"
	"github.com/hitchain/hit/session"
	"github.com/hitchain/hit/store"
	"github.com/hitchain/hit/teamkey"
)

// Swapped out by tests for an in-memory contract.
var dialChain = session.DialChain

/*
	What one command invocation has loaded so far.
	Everything is loaded lazily: `cfg show` never asks for a password,
	and contract reads never unseal a key.
*/
type env struct {
	cli    *baseCLI
	log    *zap.Logger
	stdin  io.Reader
	stderr io.Writer

	file *config.File
	sess *session.Session
}

func (e *env) config() (*config.File, error) {
	if e.file != nil {
		return e.file, nil
	}
	pth, err := config.GetConfigPath()
	if err != nil {
		return nil, err
	}
	if e.file, err = config.Load(pth); err != nil {
		return nil, err
	}
	return e.file, nil
}

func (e *env) password() ([]byte, error) {
	return config.ReadPassword("hit config password: ")
}

// Unlock the config, once.
func (e *env) session() (*session.Session, error) {
	if e.sess != nil {
		return e.sess, nil
	}
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	pw, err := e.password()
	if err != nil {
		return nil, err
	}
	s, err := session.Open(f, pw, e.log)
	if err != nil {
		return nil, err
	}
	if s.Chain != "" {
		if s.ChainTransport, err = dialChain(s.Chain); err != nil {
			return nil, err
		}
	}
	e.sess = s
	return s, nil
}

func (e *env) repo() (*git.Repository, error) {
	repo, err := git.PlainOpen(e.cli.WorkTree)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "%s is not a git working tree: %s", e.cli.WorkTree, err)
	}
	return repo, nil
}

/*
	The contract a command concerns: the --contract flag,
	else the contract in the working tree's origin url,
	else the configured default.
*/
func (e *env) contract() (string, error) {
	if e.cli.Contract != "" {
		return e.cli.Contract, nil
	}
	if repo, err := git.PlainOpen(e.cli.WorkTree); err == nil {
		if remote, err := repo.Remote("origin"); err == nil {
			for _, u := range remote.Config().URLs {
				if strings.HasPrefix(u, governance.URIScheme) {
					return governance.ParseURI(u)
				}
			}
		}
	}
	f, err := e.config()
	if err != nil {
		return "", err
	}
	c, err := f.Entry(config.SectionContract, "")
	if err != nil {
		return "", Errorf(hit.ErrUsage, "no contract: pass --contract, run inside a hit repository, or configure one with `hit cfg contract add`")
	}
	return c, nil
}

// Signed governance commands; unlocks the config.
func (e *env) governance() (*governance.Command, error) {
	contract, err := e.contract()
	if err != nil {
		return nil, err
	}
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	return s.Governance(contract)
}

/*
	Governance commands for reads only.  No password is needed:
	reads are unsigned, and the account address is stored in the clear.
*/
func (e *env) reader(contract string) (*governance.Command, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	chain, err := f.Entry(config.SectionChain, "")
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "no chain configured; see `hit cfg chain add`")
	}
	t, err := dialChain(chain)
	if err != nil {
		return nil, err
	}
	from, _ := f.AccountAddress("")
	return governance.New(ledger.NewClient(t, e.log), contract, governance.Credentials{Address: from}), nil
}

// The store backing the repository, and a team key manager over it.
func (e *env) team(ctx context.Context) (*teamkey.Manager, store.ContentStore, error) {
	gov, err := e.governance()
	if err != nil {
		return nil, nil, err
	}
	s, err := e.session()
	if err != nil {
		return nil, nil, err
	}
	raw, err := s.Store(ctx, gov)
	if err != nil {
		return nil, nil, err
	}
	return teamkey.NewManager(raw, gov, s.Identity(), e.log), raw, nil
}
