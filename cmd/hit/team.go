package main

import (
	"context"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/teamkey"
)

func configureEncrypt(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("action", "add, renew, or remove the repository key pair").
		Required().
		EnumVar(&cli.EncryptCLI.Action, "add", "renew", "remove")
	handlers[cmd.FullCommand()] = runEncrypt
}

func runEncrypt(ctx context.Context, e *env) ([]string, error) {
	m, _, err := e.team(ctx)
	if err != nil {
		return nil, err
	}
	switch e.cli.EncryptCLI.Action {
	case "add":
		pub, err := m.AddKeyPair()
		if err != nil {
			return nil, err
		}
		return []string{"repository key pair added", "public key " + pub}, nil
	case "renew":
		pub, err := m.RenewKeyPair()
		if err != nil {
			return nil, err
		}
		return []string{"repository key pair renewed", "public key " + pub}, nil
	default:
		if err := m.RemoveKeyPair(); err != nil {
			return nil, err
		}
		return []string{"repository key pair removed"}, nil
	}
}

func configureMember(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	list := cmd.Command("list", "print the team").Default()
	handlers[list.FullCommand()] = memberList

	add := cmd.Command("add", "add a team member")
	add.Arg("name", "member name").Required().StringVar(&cli.MemberCLI.Name)
	add.Arg("address", "member account address").Required().StringVar(&cli.MemberCLI.Address)
	add.Arg("pubkey", "member rsa public key, hex").Required().StringVar(&cli.MemberCLI.PubKeyRsa)
	handlers[add.FullCommand()] = memberAdd

	remove := cmd.Command("remove", "remove a team member")
	remove.Arg("member", "member name or account address").Required().StringVar(&cli.MemberCLI.Name)
	handlers[remove.FullCommand()] = memberRemove
}

func memberList(ctx context.Context, e *env) ([]string, error) {
	m, _, err := e.team(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := m.Record()
	if err != nil {
		return nil, err
	}
	lines := []string{"owner " + string(rec.Owner)}
	if rec.IsPrivate {
		lines = append(lines, "private, repository public key "+rec.RepoPubKey)
	} else {
		lines = append(lines, "public")
	}
	for _, mem := range rec.Members {
		lines = append(lines, describeMember(mem))
	}
	return lines, nil
}

func describeMember(mem api.TeamInfo) string {
	s := mem.Member + " " + string(mem.MemberAddressEcc)
	if mem.MemberRepoPriKey != "" {
		s += " (holds the repository key)"
	}
	return s
}

func memberAdd(ctx context.Context, e *env) ([]string, error) {
	m, _, err := e.team(ctx)
	if err != nil {
		return nil, err
	}
	who := teamkey.Member{
		Name:      e.cli.MemberCLI.Name,
		Address:   api.Address(e.cli.MemberCLI.Address),
		PubKeyRsa: e.cli.MemberCLI.PubKeyRsa,
	}
	added, err := m.AddMember(ctx, who)
	switch {
	case err != nil && Category(err) == hit.ErrPartialCommit:
		return []string{"member " + who.Name + " is on the ledger but not in the repository record; run `hit member add` again"}, err
	case err != nil:
		return nil, err
	case !added:
		return []string{"member " + who.Name + " already exists"}, nil
	}
	return []string{"member " + who.Name + " added"}, nil
}

func memberRemove(ctx context.Context, e *env) ([]string, error) {
	m, _, err := e.team(ctx)
	if err != nil {
		return nil, err
	}
	name := e.cli.MemberCLI.Name
	removed, err := m.RemoveMember(ctx, name)
	if err != nil {
		return nil, err
	}
	if !removed {
		return []string{"member " + name + " not found"}, nil
	}
	return []string{"member " + name + " removed"}, nil
}
