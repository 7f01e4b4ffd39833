package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/teamkey"
)

// Sections holding plain named values.
var entrySections = []struct {
	name string
	help string
}{
	{config.SectionStorage, "store address, e.g. ipfs+http://127.0.0.1:5001/hit"},
	{config.SectionChain, "chain gateway, http(s)://... or exec:<bin> [args]"},
	{config.SectionContract, "governance contract address"},
	{config.SectionRPC, "ethereum json-rpc endpoint, for balances"},
	{config.SectionToken, "erc20 token contract address"},
}

func configureCfg(cli *baseCLI, cmd *kingpin.CmdClause, handlers map[string]handler) {
	show := cmd.Command("show", "print the config, without secrets").Default()
	handlers[show.FullCommand()] = cfgShow

	create := cmd.Command("create", "set the config password, and create a first account and rsa key pair")
	handlers[create.FullCommand()] = cfgCreate

	account := cmd.Command("account", "signing accounts")
	accountAdd := account.Command("add", "add an account, generating a key unless one is given")
	accountAdd.Arg("name", "account name").Required().StringVar(&cli.CfgCLI.Name)
	accountAdd.Arg("key", "hex private key").StringVar(&cli.CfgCLI.Value)
	handlers[accountAdd.FullCommand()] = cfgAccountAdd
	configureNamed(cli, account, config.SectionAccount, handlers)

	rsaCmd := cmd.Command("rsa", "rsa key pairs, for private repositories")
	rsaAdd := rsaCmd.Command("add", "add a key pair, generating one unless both halves are given")
	rsaAdd.Arg("name", "key pair name").Required().StringVar(&cli.CfgCLI.Name)
	rsaAdd.Arg("pri", "hex private key").StringVar(&cli.CfgCLI.Value)
	rsaAdd.Arg("pub", "hex public key").StringVar(&cli.CfgCLI.PubKey)
	handlers[rsaAdd.FullCommand()] = cfgRSAAdd
	configureNamed(cli, rsaCmd, config.SectionRSA, handlers)

	for _, sec := range entrySections {
		section := sec.name
		c := cmd.Command(section, sec.help)
		add := c.Command("add", "add a named "+section)
		add.Arg("name", "entry name").Required().StringVar(&cli.CfgCLI.Name)
		add.Arg("value", sec.help).Required().StringVar(&cli.CfgCLI.Value)
		handlers[add.FullCommand()] = func(ctx context.Context, e *env) ([]string, error) {
			return cfgEntryAdd(e, section)
		}
		configureNamed(cli, c, section, handlers)
		if section == config.SectionContract {
			deploy := c.Command("deploy", "deploy a new governance contract and add it")
			deploy.Arg("name", "entry name").Required().StringVar(&cli.CfgCLI.Name)
			handlers[deploy.FullCommand()] = cfgContractDeploy
		}
	}

	gas := cmd.Command("gas", "gas limits and prices for deploys and writes")
	for i, name := range []string{"deployGas", "deployGwei", "writeGas", "writeGwei"} {
		gas.Arg(name, name).Required().Int64Var(&cli.CfgCLI.Gas[i])
	}
	handlers[gas.FullCommand()] = cfgGas
}

// "remove" and "set" for a section.
func configureNamed(cli *baseCLI, cmd *kingpin.CmdClause, section string, handlers map[string]handler) {
	remove := cmd.Command("remove", "remove an entry")
	remove.Arg("name", "entry name").Required().StringVar(&cli.CfgCLI.Name)
	handlers[remove.FullCommand()] = func(ctx context.Context, e *env) ([]string, error) {
		f, err := e.config()
		if err != nil {
			return nil, err
		}
		switch section {
		case config.SectionAccount:
			err = f.RemoveAccount(e.cli.CfgCLI.Name)
		case config.SectionRSA:
			err = f.RemoveRSA(e.cli.CfgCLI.Name)
		default:
			err = f.RemoveEntry(section, e.cli.CfgCLI.Name)
		}
		if err != nil {
			return nil, err
		}
		return nil, f.Save()
	}
	set := cmd.Command("set", "make an entry the default")
	set.Arg("name", "entry name").Required().StringVar(&cli.CfgCLI.Name)
	handlers[set.FullCommand()] = func(ctx context.Context, e *env) ([]string, error) {
		f, err := e.config()
		if err != nil {
			return nil, err
		}
		if err := f.Use(section, e.cli.CfgCLI.Name); err != nil {
			return nil, err
		}
		return nil, f.Save()
	}
}

// The config, unlocked, and its password.
func (e *env) unlocked() (*config.File, []byte, error) {
	f, err := e.config()
	if err != nil {
		return nil, nil, err
	}
	pw, err := e.password()
	if err != nil {
		return nil, nil, err
	}
	if err := f.Unlock(pw); err != nil {
		return nil, nil, err
	}
	return f, pw, nil
}

func cfgShow(ctx context.Context, e *env) ([]string, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	lines := []string{"config: " + f.Path()}
	if !f.Initialized() {
		return append(lines, "not initialised; run `hit cfg create`"), nil
	}
	mark := func(section, name string) string {
		if f.Default(section) == name {
			return "* "
		}
		return "  "
	}
	lines = append(lines, "["+config.SectionAccount+"]")
	for _, name := range f.Accounts() {
		addr, _ := f.AccountAddress(name)
		lines = append(lines, mark(config.SectionAccount, name)+name+" "+addr)
	}
	lines = append(lines, "["+config.SectionRSA+"]")
	for _, name := range f.RSANames() {
		pub, _ := f.RSAPublic(name)
		lines = append(lines, mark(config.SectionRSA, name)+name+" "+pub)
	}
	for _, sec := range entrySections {
		lines = append(lines, "["+sec.name+"]")
		for _, name := range f.Entries(sec.name) {
			v, _ := f.Entry(sec.name, name)
			lines = append(lines, mark(sec.name, name)+name+" "+v)
		}
	}
	g := f.Gas()
	lines = append(lines,
		"["+config.SectionGas+"]",
		fmt.Sprintf("  deploy %d gas at %d gwei", g.DeployGas, g.DeployGwei),
		fmt.Sprintf("  write %d gas at %d gwei", g.WriteGas, g.WriteGwei),
	)
	return lines, nil
}

func cfgCreate(ctx context.Context, e *env) ([]string, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	pw, err := e.password()
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, Errorf(hit.ErrUsage, "the config password must not be empty")
	}
	if err := f.Init(pw); err != nil {
		return nil, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "cannot generate account key: %s", err)
	}
	addr, err := f.AddAccount("main", key, pw)
	if err != nil {
		return nil, err
	}
	pub, err := addGeneratedRSA(f, "main", pw)
	if err != nil {
		return nil, err
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	e.log.Info("config created")
	return []string{
		"created " + f.Path(),
		"account main " + addr,
		"rsa main " + pub,
	}, nil
}

func cfgAccountAdd(ctx context.Context, e *env) ([]string, error) {
	f, pw, err := e.unlocked()
	if err != nil {
		return nil, err
	}
	var key *ecdsa.PrivateKey
	if hexKey := e.cli.CfgCLI.Value; hexKey == "" {
		if key, err = crypto.GenerateKey(); err != nil {
			return nil, Errorf(hit.ErrCrypto, "cannot generate account key: %s", err)
		}
	} else if key, err = crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x")); err != nil {
		return nil, Errorf(hit.ErrUsage, "not a private key: %s", err)
	}
	addr, err := f.AddAccount(e.cli.CfgCLI.Name, key, pw)
	if err != nil {
		return nil, err
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	return []string{addr}, nil
}

func addGeneratedRSA(f *config.File, name string, pw []byte) (string, error) {
	k, err := teamkey.GenerateRSA()
	if err != nil {
		return "", err
	}
	pub, err := teamkey.EncodePublicKey(&k.PublicKey)
	if err != nil {
		return "", err
	}
	pri, err := teamkey.EncodePrivateKey(k)
	if err != nil {
		return "", err
	}
	return pub, f.AddRSA(name, pub, pri, pw)
}

func cfgRSAAdd(ctx context.Context, e *env) ([]string, error) {
	f, pw, err := e.unlocked()
	if err != nil {
		return nil, err
	}
	name, pri, pub := e.cli.CfgCLI.Name, e.cli.CfgCLI.Value, e.cli.CfgCLI.PubKey
	switch {
	case pri == "" && pub == "":
		if pub, err = addGeneratedRSA(f, name, pw); err != nil {
			return nil, err
		}
	case pri == "" || pub == "":
		return nil, Errorf(hit.ErrUsage, "give both halves of the key pair, or neither")
	default:
		k, err := teamkey.ParsePrivateKey(pri)
		if err != nil {
			return nil, err
		}
		p, err := teamkey.ParsePublicKey(pub)
		if err != nil {
			return nil, err
		}
		if k.PublicKey.N.Cmp(p.N) != 0 || k.PublicKey.E != p.E {
			return nil, Errorf(hit.ErrUsage, "the public key does not belong to the private key")
		}
		if err := f.AddRSA(name, pub, pri, pw); err != nil {
			return nil, err
		}
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	return []string{pub}, nil
}

func cfgEntryAdd(e *env, section string) ([]string, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	value := e.cli.CfgCLI.Value
	switch section {
	case config.SectionContract, config.SectionToken:
		if !common.IsHexAddress(value) {
			return nil, Errorf(hit.ErrUsage, "%q is not a contract address", value)
		}
	}
	if err := f.AddEntry(section, e.cli.CfgCLI.Name, value); err != nil {
		return nil, err
	}
	return nil, f.Save()
}

func cfgGas(ctx context.Context, e *env) ([]string, error) {
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	g := e.cli.CfgCLI.Gas
	if err := f.SetGas(config.Gas{DeployGas: g[0], DeployGwei: g[1], WriteGas: g[2], WriteGwei: g[3]}); err != nil {
		return nil, err
	}
	return nil, f.Save()
}

/*
	Deploy a governance contract owned by the default account, and
	record it under the given name.  The contract code is whatever
	the chain gateway deploys.
*/
func cfgContractDeploy(ctx context.Context, e *env) ([]string, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	client, err := s.Ledger()
	if err != nil {
		return nil, err
	}
	addr, err := client.Deploy(ctx, s.DeployRequest(""))
	if err != nil {
		return nil, err
	}
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return nil, Errorf(hit.ErrChainTransport, "deploy answered %q, expected a contract address", addr)
	}
	f, err := e.config()
	if err != nil {
		return nil, err
	}
	if err := f.AddEntry(config.SectionContract, e.cli.CfgCLI.Name, addr); err != nil {
		return nil, err
	}
	if err := f.Save(); err != nil {
		return nil, err
	}
	return []string{addr}, nil
}
