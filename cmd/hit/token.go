package main

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/token"
)

func configureToken(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	cmd.Arg("kind", "eth or hit").
		Required().
		EnumVar(&cli.TokenCLI.Kind, "eth", "hit")
	cmd.Arg("account", "account address or name (default: the default account)").
		StringVar(&cli.TokenCLI.Account)
	cmd.Flag("rpc", "json-rpc endpoint url, or rpc entry name").
		StringVar(&cli.TokenCLI.RPC)
	cmd.Flag("token", "token contract address, or token entry name").
		StringVar(&cli.TokenCLI.Token)
	handlers[cmd.FullCommand()] = runToken
}

// A literal value, else the named (or default) entry of a section.
func entryOr(f *config.File, section, v string, literal func(string) bool) (string, error) {
	if v != "" && literal(v) {
		return v, nil
	}
	return f.Entry(section, v)
}

func isURL(s string) bool {
	for _, scheme := range []string{"http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

func runToken(ctx context.Context, e *env) ([]string, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	tc := e.cli.TokenCLI
	account := tc.Account
	if !common.IsHexAddress(account) {
		if account, err = f.AccountAddress(account); err != nil {
			return nil, err
		}
	}
	rpc, err := entryOr(f, config.SectionRPC, tc.RPC, isURL)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "no json-rpc endpoint: pass --rpc or see `hit cfg rpc add` (%s)", err)
	}
	b, err := token.Dial(ctx, rpc)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if tc.Kind == "eth" {
		v, err := b.Ether(ctx, account)
		if err != nil {
			return nil, err
		}
		return []string{account + " " + token.Format(v, token.EtherDecimals, "ETH")}, nil
	}
	tok, err := entryOr(f, config.SectionToken, tc.Token, common.IsHexAddress)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "no token contract: pass --token or see `hit cfg token add` (%s)", err)
	}
	v, decimals, err := b.ERC20(ctx, tok, account)
	if err != nil {
		return nil, err
	}
	return []string{account + " " + token.Format(v, decimals, "HIT")}, nil
}
