package main

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"
	gitconfig "gopkg.in/src-d/go-git.v4/config"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/governance"
)

/*
	One `hit contract` operation.

	Ops taking fewer than max args are reads; given max args,
	ops with writeAt set send a signed write instead.
*/
type contractOp struct {
	usage    string
	min, max int
	write    bool // always signed
	writeAt  int  // signed when given this many args; 0 for never
	run      func(ctx context.Context, gov *governance.Command, args []string) ([]string, error)
}

func one(v string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	return []string{v}, nil
}

func index(s string) (int, error) {
	i, err := governance.ParseDecimal(s)
	if err != nil || i < 0 {
		return 0, Errorf(hit.ErrUsage, "%q is not an index", s)
	}
	return i, nil
}

var contractOps = map[string]contractOp{}

func init() {
	reg := func(name string, op contractOp) { contractOps[name] = op }

	reg("owner", contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.Owner(ctx))
	}})
	reg("delegator", contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.Delegator(ctx))
	}})
	reg("name", contractOp{usage: "[new-name]", max: 1, writeAt: 1, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		if len(args) == 1 {
			return one(gov.UpdateRepository(ctx, args[0]))
		}
		return one(gov.RepositoryName(ctx))
	}})
	reg("url", contractOp{usage: "[new-url]", max: 1, writeAt: 1, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		if len(args) == 1 {
			return one(gov.UpdateUrl(ctx, args[0]))
		}
		return one(gov.RepositoryAddress(ctx))
	}})
	reg("update-repository", contractOp{usage: "name", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.UpdateRepository(ctx, args[0]))
	}})
	reg("update-url", contractOp{usage: "url", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.UpdateUrl(ctx, args[0]))
	}})
	reg("add-pr", contractOp{usage: "url", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.AddPullRequest(ctx, args[0]))
	}})
	reg("add-started", contractOp{usage: "url", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.AddStarted(ctx, args[0]))
	}})
	reg("remove-started", contractOp{usage: "index", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		i, err := index(args[0])
		if err != nil {
			return nil, err
		}
		return one(gov.RemoveStarted(ctx, i))
	}})
	reg("change-owner", contractOp{usage: "address", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.ChangeOwner(ctx, args[0]))
	}})
	reg("delegate-to", contractOp{usage: "address", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
		return one(gov.DelegateTo(ctx, args[0]))
	}})

	type mutation func(*governance.Command, context.Context, string) (string, error)
	addrRoles := map[governance.RoleKind][2]mutation{
		governance.RoleDelegator: {(*governance.Command).AddDelegator, (*governance.Command).RemoveDelegator},
		governance.RoleMember:    {(*governance.Command).AddMember, (*governance.Command).RemoveMember},
		governance.RolePrMember:  {(*governance.Command).AddPrMember, (*governance.Command).RemovePrMember},
	}
	for kind, mutate := range addrRoles {
		kind, add, remove := kind, mutate[0], mutate[1]
		reg("contains-"+kind.String(), contractOp{usage: "address", min: 1, max: 1, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			ok, err := gov.HasAddress(ctx, kind, args[0])
			return one(strconv.FormatBool(ok), err)
		}})
		reg("add-"+kind.String(), contractOp{usage: "address", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			return one(add(gov, ctx, args[0]))
		}})
		reg("remove-"+kind.String(), contractOp{usage: "address", min: 1, max: 1, write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			return one(remove(gov, ctx, args[0]))
		}})
	}

	for _, kind := range []governance.RoleKind{
		governance.RoleDelegator, governance.RoleMember, governance.RolePrMember,
		governance.RolePrAuth, governance.RolePrComm, governance.RoleStarted,
	} {
		kind := kind
		read := (*governance.Command).ReadString
		if _, isAddr := addrRoles[kind]; isAddr {
			read = (*governance.Command).ReadAddress
		}
		reg("count-"+kind.String(), contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			n, err := gov.ReadTypeCount(ctx, kind)
			return one(strconv.Itoa(n), err)
		}})
		reg("index-of-"+kind.String(), contractOp{usage: "index", min: 1, max: 1, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			i, err := index(args[0])
			if err != nil {
				return nil, err
			}
			return one(read(gov, ctx, kind, i))
		}})
		if kind == governance.RoleStarted {
			continue
		}
		reg("is-"+kind.String()+"-disable", contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			b, err := gov.ReadDisable(ctx, kind)
			return one(strconv.FormatBool(b), err)
		}})
		reg("disable-"+kind.String(), contractOp{write: true, run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			return one(gov.DisableType(ctx, kind))
		}})
	}

	lists := map[string]func(*governance.Command, context.Context) ([]string, error){
		"list-repository":  (*governance.Command).ListRepositories,
		"list-history-url": (*governance.Command).ListHistoryUrls,
		"list-delegator":   (*governance.Command).ListDelegators,
		"list-member":      (*governance.Command).ListMembers,
		"list-pr-member":   (*governance.Command).ListPrMembers,
		"list-started":     (*governance.Command).ListStarted,
	}
	for name, list := range lists {
		list := list
		reg(name, contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			return list(gov, ctx)
		}})
	}
	prLists := map[string]func(*governance.Command, context.Context) ([]api.PullRequest, error){
		"list-pr":      (*governance.Command).ListPullRequests,
		"list-pr-auth": (*governance.Command).ListAuthoredPullRequests,
		"list-pr-comm": (*governance.Command).ListCommunityPullRequests,
	}
	for name, list := range prLists {
		list := list
		reg(name, contractOp{run: func(ctx context.Context, gov *governance.Command, args []string) ([]string, error) {
			prs, err := list(gov, ctx)
			if err != nil {
				return nil, err
			}
			lines := make([]string, len(prs))
			for i, pr := range prs {
				lines[i] = formatPullRequest(pr)
			}
			return lines, nil
		}})
	}
}

func formatPullRequest(pr api.PullRequest) string {
	s := pr.ID + " " + pr.SourceURL
	if pr.Branch != "" {
		s += " " + pr.Branch
	}
	if pr.Author != "" {
		s += " by " + string(pr.Author)
	}
	if !pr.CreatedAt.IsZero() {
		s += " at " + pr.CreatedAt.Format(time.RFC3339)
	}
	return s
}

func contractHelp() string {
	names := make([]string, 0, len(contractOps)+2)
	for name, op := range contractOps {
		names = append(names, strings.TrimSpace(name+" "+op.usage))
	}
	names = append(names, "add-repository [name]", "propose-pr url [branch]")
	sort.Strings(names)
	return "operation, one of:\n  " + strings.Join(names, "\n  ")
}

func configureContract(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("op", contractHelp()).Required().StringVar(&cli.ContractCLI.Op)
	cmd.Arg("args", "arguments of the operation").StringsVar(&cli.ContractCLI.Args)
	handlers[cmd.FullCommand()] = runContract
}

func runContract(ctx context.Context, e *env) ([]string, error) {
	name, args := e.cli.ContractCLI.Op, e.cli.ContractCLI.Args
	switch name {
	case "add-repository":
		return addRepository(ctx, e, args)
	case "propose-pr":
		return proposePullRequest(ctx, e, args)
	}
	op, ok := contractOps[name]
	if !ok {
		return nil, Errorf(hit.ErrUsage, "unknown contract operation %q", name)
	}
	if len(args) < op.min || len(args) > op.max {
		return nil, Errorf(hit.ErrUsage, "usage: hit contract %s %s", name, op.usage)
	}
	var gov *governance.Command
	var err error
	if op.write || (op.writeAt > 0 && len(args) >= op.writeAt) {
		gov, err = e.governance()
	} else {
		var contract string
		if contract, err = e.contract(); err == nil {
			gov, err = e.reader(contract)
		}
	}
	if err != nil {
		return nil, err
	}
	return op.run(ctx, gov, args)
}

/*
	Register the working tree's repository on the contract, with the
	configured storage as its store, and point origin at the contract.

	The origin url is only rewritten if it is unset or names another hit contract.
*/
func addRepository(ctx context.Context, e *env, args []string) ([]string, error) {
	if len(args) > 1 {
		return nil, Errorf(hit.ErrUsage, "usage: hit contract add-repository [name]")
	}
	gov, err := e.governance()
	if err != nil {
		return nil, err
	}
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	if s.Storage == "" {
		return nil, Errorf(hit.ErrUsage, "no storage configured; see `hit cfg storage add`")
	}
	repo, repoErr := e.repo()
	name := ""
	if len(args) == 1 {
		name = args[0]
	} else if repoErr == nil {
		abs, err := filepath.Abs(e.cli.WorkTree)
		if err != nil {
			return nil, Errorf(hit.ErrUsage, "cannot resolve %s: %s", e.cli.WorkTree, err)
		}
		name = filepath.Base(abs)
	}
	if name == "" {
		return nil, Errorf(hit.ErrUsage, "no repository name given, and not in a git working tree")
	}
	tx, err := gov.Init(ctx, s.Storage, name)
	if err != nil {
		return nil, err
	}
	lines := []string{tx}
	if repoErr != nil {
		return lines, nil
	}

	uri := governance.FormatURI(gov.Contract())
	cfg, err := repo.Config()
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot read git config: %s", err)
	}
	if origin, ok := cfg.Remotes["origin"]; ok && len(origin.URLs) > 0 {
		current := origin.URLs[0]
		if !strings.HasPrefix(current, governance.URIScheme) || strings.EqualFold(current, uri) {
			return lines, nil
		}
	}
	cfg.Remotes["origin"] = &gitconfig.RemoteConfig{
		Name:  "origin",
		URLs:  []string{uri},
		Fetch: []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
	}
	if err := repo.Storer.SetConfig(cfg); err != nil {
		return nil, Errorf(hit.ErrUsage, "cannot write git config: %s", err)
	}
	e.log.Info("origin rewritten")
	return append(lines, "Update remote origin url to "+uri), nil
}

// Register a structured pull request record authored by the default account.
func proposePullRequest(ctx context.Context, e *env, args []string) ([]string, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, Errorf(hit.ErrUsage, "usage: hit contract propose-pr url [branch]")
	}
	gov, err := e.governance()
	if err != nil {
		return nil, err
	}
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	branch := ""
	if len(args) == 2 {
		branch = args[1]
	}
	pr := api.NewPullRequest(args[0], branch, api.Address(s.Address), time.Now())
	tx, err := gov.ProposePullRequest(ctx, pr)
	if err != nil {
		return nil, err
	}
	return []string{pr.ID, tx}, nil
}
