package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/lib/log"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	Format   string        // Output api format, eg. json
	LogLevel string        // zap level name
	Timeout  time.Duration // Timeout duration for the whole command eg. "60s"
	WorkTree string        // git working tree the command concerns
	Contract string        // governance contract, overriding the repository's and the config's

	CfgCLI struct {
		Name   string
		Value  string // entry value, or an account's private key
		PubKey string // rsa add only
		Gas    [4]int64
	}
	RepositoryNameCLI struct {
		URI string
	}
	ContractCLI struct {
		Op   string
		Args []string
	}
	TokenCLI struct {
		Kind    string // eth, hit
		Account string
		RPC     string // url or rpc entry name
		Token   string // address or token entry name
	}
	EncryptCLI struct {
		Action string
	}
	MemberCLI struct {
		Name      string
		Address   string
		PubKeyRsa string
	}
	MigrateCLI struct {
		URI string
		Dir string
	}
	AmCLI struct {
		ID                string
		IgnoreSpaceChange bool
		IgnoreWhitespace  bool
		ForceMerge        bool
		NoCommit          bool
	}
}

// A command body.  The lines are its result; see SerializeResult.
type handler func(ctx context.Context, e *env) ([]string, error)

/*
	Blocks until a sigint is received, then calls cancel.
*/
func CancelOnInterrupt(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	cancel()
	signal.Stop(signalChan)
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) hit.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go CancelOnInterrupt(cancel)

	cli := baseCLI{}

	app := kingpin.New("hit", "Decentralized git: repositories in content-addressed stores, governed by a ledger contract")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("format", "Output api format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("log-level", "Log level (debug, info, warn, error)").
		Default("warn").
		StringVar(&cli.LogLevel)
	app.Flag("timeout", "Timeout for command").
		DurationVar(&cli.Timeout)
	app.Flag("work-tree", "Git working tree").
		Default(".").
		StringVar(&cli.WorkTree)
	app.Flag("contract", "Governance contract address (default: the repository's origin, then the configured contract)").
		StringVar(&cli.Contract)

	handlers := map[string]handler{}
	configureCfg(&cli, app.Command("cfg", "manage accounts, keys, and endpoints"), handlers)
	configureRepositoryName(&cli, app.Command("repository-name", "print the repository name registered for a hit uri"), handlers)
	configureContract(&cli, app.Command("contract", "call the repository's governance contract"), handlers)
	configureToken(&cli, app.Command("token", "show account balances"), handlers)
	configureEncrypt(&cli, app.Command("encrypt", "manage the repository key pair of a private repository"), handlers)
	configureMember(&cli, app.Command("member", "manage the team of a repository"), handlers)
	configureMigrate(&cli, app.Command("migrate", "copy a git repository into a hit store"), handlers)
	configureAm(&cli, app.Command("am", "apply a pull request registered on the contract"), handlers)

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return hit.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return hit.ExitUsage
	}
	run, ok := handlers[cmd]
	if !ok {
		app.Usage(args[1:])
		return hit.ExitUsage
	}

	logger, err := log.New(cli.LogLevel, log.FormatConsole)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return hit.ExitUsage
	}
	defer logger.Sync()
	if cli.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	e := &env{cli: &cli, log: logger, stdin: stdin, stderr: stderr}
	lines, err := run(ctx, e)
	SerializeResult(cli.Format, lines, err, stdout, stderr)
	return hit.ExitCodeForError(err)
}

func SerializeResult(format string, lines []string, resultErr error, stdout io.Writer, stderr io.Writer) {
	result := &api.Result{Lines: lines}
	if result.Lines == nil {
		result.Lines = []string{}
	}
	result.SetError(resultErr)
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, api.Atlas)
		err := marshaller.Marshal(result)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		for _, line := range lines {
			fmt.Fprintln(stdout, line)
		}
		if resultErr != nil {
			fmt.Fprintln(stderr, resultErr)
		}
	default:
		panic(fmt.Errorf("hit: invalid format %s", format))
	}
}
