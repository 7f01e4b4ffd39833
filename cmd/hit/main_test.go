package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/smartystreets/goconvey/convey"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/ledger"
	"github.com/hitchain/hit/ledger/ledgertest"
	"github.com/hitchain/hit/pullrequest"
	"github.com/hitchain/hit/session"
	"github.com/hitchain/hit/store/dial"
	"github.com/hitchain/hit/teamkey"
	"github.com/hitchain/hit/testutil"
	"github.com/hitchain/hit/transport"
)

func run(args ...string) (hit.ExitCode, string, string) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	stdin := &bytes.Buffer{}
	exitCode := Main(context.Background(), append([]string{"hit"}, args...), stdin, stdout, stderr)
	return exitCode, stdout.String(), stderr.String()
}

var storeSeq int64

// A fresh in-memory store address; mem stores live as long as the process.
func memStore() string {
	return fmt.Sprintf("mem://cli-test-%d", atomic.AddInt64(&storeSeq, 1))
}

// A config with a password and a main account, and a chain that is really ledgertest.
func setup(t *testing.T) *ledgertest.Chain {
	t.Setenv("HIT_CONFIG", filepath.Join(t.TempDir(), "config.ini"))
	t.Setenv("HIT_PASSWORD", "correct horse")
	chain := ledgertest.NewChain()
	dialChain = func(string) (ledger.ChainTransport, error) { return chain, nil }
	Reset(func() { dialChain = session.DialChain })

	code, _, stderr := run("cfg", "create")
	So(stderr, ShouldBeBlank)
	So(code, ShouldEqual, hit.ExitSuccess)
	code, _, _ = run("cfg", "chain", "add", "test", "http://chain.invalid/")
	So(code, ShouldEqual, hit.ExitSuccess)
	return chain
}

func TestWithoutArgs(t *testing.T) {
	Convey("hit: usage printed to stderr", t, func() {
		code, stdout, stderr := run()
		So(stdout, ShouldBeBlank)
		So(stderr, ShouldContainSubstring, "usage: hit [<flags>] <command> [<args> ...]")
		So(code, ShouldEqual, hit.ExitUsage)
	})
	Convey("hit: unknown commands are usage errors", t, func() {
		code, _, _ := run("frobnicate")
		So(code, ShouldEqual, hit.ExitUsage)
	})
}

func TestCfg(t *testing.T) {
	Convey("hit cfg", t, func() {
		setup(t)

		Convey("show lists the first account as the default", func() {
			code, stdout, _ := run("cfg")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldContainSubstring, "[account]\n* main 0x")
			So(stdout, ShouldContainSubstring, "[chain]\n* test http://chain.invalid/")
			So(stdout, ShouldContainSubstring, "deploy 5000000 gas at 10 gwei")
			So(stdout, ShouldNotContainSubstring, "_private")
		})
		Convey("create only works once", func() {
			code, _, _ := run("cfg", "create")
			So(code, ShouldEqual, hit.ExitUsage)
		})
		Convey("accounts can be imported and made default", func() {
			key, err := crypto.GenerateKey()
			So(err, ShouldBeNil)
			addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
			code, stdout, _ := run("cfg", "account", "add", "second", fmt.Sprintf("%x", crypto.FromECDSA(key)))
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, addr+"\n")

			So(first(run("cfg", "account", "set", "second")), ShouldEqual, hit.ExitSuccess)
			_, stdout, _ = run("cfg")
			So(stdout, ShouldContainSubstring, "* second "+addr)
		})
		Convey("a bad private key is a usage error", func() {
			So(first(run("cfg", "account", "add", "bad", "0xnothex")), ShouldEqual, hit.ExitUsage)
		})
		Convey("rsa pairs need both halves or neither", func() {
			So(first(run("cfg", "rsa", "add", "half", "abcd")), ShouldEqual, hit.ExitUsage)
			code, stdout, _ := run("cfg", "rsa", "add", "spare")
			So(code, ShouldEqual, hit.ExitSuccess)
			_, err := teamkey.ParsePublicKey(strings.TrimSpace(stdout))
			So(err, ShouldBeNil)
		})
		Convey("a wrong password is refused", func() {
			t.Setenv("HIT_PASSWORD", "battery staple")
			So(first(run("cfg", "account", "add", "x")), ShouldEqual, hit.ExitUnauthorized)
		})
		Convey("contracts must be addresses", func() {
			So(first(run("cfg", "contract", "add", "c", "not-an-address")), ShouldEqual, hit.ExitUsage)
		})
		Convey("gas figures are stored", func() {
			So(first(run("cfg", "gas", "1", "2", "3", "4")), ShouldEqual, hit.ExitSuccess)
			_, stdout, _ := run("cfg", "show")
			So(stdout, ShouldContainSubstring, "deploy 1 gas at 2 gwei")
			So(stdout, ShouldContainSubstring, "write 3 gas at 4 gwei")
			So(first(run("cfg", "gas", "0", "2", "3", "4")), ShouldEqual, hit.ExitUsage)
		})
		Convey("removing what isn't there is not found", func() {
			So(first(run("cfg", "storage", "remove", "nope")), ShouldEqual, hit.ExitNotFound)
		})
		Convey("json output carries the error category", func() {
			code, stdout, _ := run("--format=json", "cfg", "storage", "remove", "nope")
			So(code, ShouldEqual, hit.ExitNotFound)
			So(stdout, ShouldContainSubstring, `"category":"hit-not-found"`)

			code, stdout, _ = run("--format=json", "cfg", "storage", "add", "local", "mem://x")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, `{"lines":[]}`+"\n")
		})
	})
}

func first(code hit.ExitCode, _, _ string) hit.ExitCode { return code }

func TestContract(t *testing.T) {
	Convey("hit contract", t, func() {
		chain := setup(t)
		code, stdout, _ := run("cfg", "contract", "deploy", "repo")
		So(code, ShouldEqual, hit.ExitSuccess)
		contract := strings.TrimSpace(stdout)
		ct := chain.Contract(contract)
		So(ct, ShouldNotBeNil)

		Convey("reads and writes the repository name", func() {
			So(first(run("contract", "name", "widgets")), ShouldEqual, hit.ExitSuccess)
			code, stdout, _ := run("contract", "name")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, "widgets\n")

			_, stdout, _ = run("repository-name", "hit://"+contract+".git")
			So(stdout, ShouldEqual, "widgets\n")
		})
		Convey("reads don't need the password", func() {
			t.Setenv("HIT_PASSWORD", "battery staple")
			_, stdout, _ := run("contract", "owner")
			So(stdout, ShouldEqual, ct.Owner+"\n")
			So(first(run("contract", "name", "widgets")), ShouldEqual, hit.ExitUnauthorized)
		})
		Convey("manages role lists", func() {
			member := "0x00000000000000000000000000000000000000b0"
			So(first(run("contract", "add-member", member)), ShouldEqual, hit.ExitSuccess)
			_, stdout, _ := run("contract", "count-member")
			So(stdout, ShouldEqual, "1\n")
			_, stdout, _ = run("contract", "contains-member", member)
			So(stdout, ShouldEqual, "true\n")
			_, stdout, _ = run("contract", "index-of-member", "0")
			So(stdout, ShouldEqual, member+"\n")
			_, stdout, _ = run("contract", "index-of-member", "00")
			So(stdout, ShouldEqual, member+"\n")
			_, stdout, _ = run("contract", "list-member")
			So(stdout, ShouldEqual, member+"\n")

			Convey("and reports the contract's refusals", func() {
				code, _, stderr := run("contract", "add-member", member)
				So(code, ShouldEqual, hit.ExitApplicationRejection)
				So(stderr, ShouldContainSubstring, "already exists")
			})
			Convey("and disabled roles", func() {
				So(first(run("contract", "disable-member")), ShouldEqual, hit.ExitSuccess)
				_, stdout, _ := run("contract", "is-member-disable")
				So(stdout, ShouldEqual, "true\n")
			})
		})
		Convey("checks arguments before calling", func() {
			calls := len(chain.Calls)
			So(first(run("contract", "add-member")), ShouldEqual, hit.ExitUsage)
			So(first(run("contract", "index-of-started", "-1")), ShouldEqual, hit.ExitUsage)
			So(first(run("contract", "index-of-started", "0x1")), ShouldEqual, hit.ExitUsage)
			So(first(run("contract", "no-such-op")), ShouldEqual, hit.ExitUsage)
			So(chain.Calls, ShouldHaveLength, calls)
		})
		Convey("registers a working tree's repository", func() {
			storage := memStore()
			So(first(run("cfg", "storage", "add", "local", storage)), ShouldEqual, hit.ExitSuccess)
			dir := filepath.Join(t.TempDir(), "gadgets")
			repo, err := git.PlainInit(dir, false)
			So(err, ShouldBeNil)

			code, stdout, _ := run("--work-tree", dir, "contract", "add-repository")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldContainSubstring, "Update remote origin url to hit://"+contract+".git")
			So(ct.Name, ShouldEqual, "gadgets")
			So(ct.URL, ShouldEqual, storage)

			remote, err := repo.Remote("origin")
			So(err, ShouldBeNil)
			So(remote.Config().URLs, ShouldResemble, []string{"hit://" + contract + ".git"})

			Convey("and then finds the contract from origin", func() {
				_, stdout, _ := run("--work-tree", dir, "contract", "name")
				So(stdout, ShouldEqual, "gadgets\n")
			})
		})
	})
}

type recordingPatcher struct {
	applied []api.PullRequest
	flags   pullrequest.Flags
}

func (p *recordingPatcher) Patch(ctx context.Context, pr api.PullRequest, flags pullrequest.Flags) error {
	p.applied = append(p.applied, pr)
	p.flags = flags
	return nil
}

func TestAm(t *testing.T) {
	Convey("hit am", t, func() {
		setup(t)
		_, stdout, _ := run("cfg", "contract", "deploy", "repo")
		contract := strings.TrimSpace(stdout)
		dir := t.TempDir()
		_, err := git.PlainInit(dir, false)
		So(err, ShouldBeNil)
		p := &recordingPatcher{}
		newPatcher = func(string, *env) pullrequest.Patcher { return p }
		Reset(func() {
			newPatcher = func(dir string, e *env) pullrequest.Patcher { return pullrequest.NewGitPatcher(dir, e.log) }
		})

		Convey("an unknown id is reported, not an error", func() {
			code, stdout, _ := run("--work-tree", dir, "am", "f00")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, "Pull request for id f00 not found\n")
			So(p.applied, ShouldBeEmpty)
		})
		Convey("a proposed pull request is applied", func() {
			code, stdout, _ := run("contract", "propose-pr", "hit://0x00000000000000000000000000000000000000aa.git", "feature")
			So(code, ShouldEqual, hit.ExitSuccess)
			id := strings.SplitN(stdout, "\n", 2)[0]

			_, stdout, _ = run("contract", "list-pr-auth")
			So(stdout, ShouldStartWith, id+" hit://0x00000000000000000000000000000000000000aa.git feature by 0x")

			code, stdout, _ = run("--work-tree", dir, "--contract", contract, "am", id, "--ignore-whitespace", "--no-commit")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldContainSubstring, "on pr/"+id)
			So(p.applied, ShouldHaveLength, 1)
			So(p.applied[0].Branch, ShouldEqual, "feature")
			So(p.flags, ShouldResemble, pullrequest.Flags{IgnoreWhitespace: true, NoCommit: true})
		})
		Convey("needs a working tree", func() {
			So(first(run("--work-tree", filepath.Join(dir, "nope"), "am", "f00")), ShouldEqual, hit.ExitUsage)
		})
	})
}

func TestTeam(t *testing.T) {
	Convey("hit member and encrypt", t, func() {
		chain := setup(t)
		So(first(run("cfg", "storage", "add", "local", memStore())), ShouldEqual, hit.ExitSuccess)
		_, stdout, _ := run("cfg", "contract", "deploy", "repo")
		contract := strings.TrimSpace(stdout)
		So(first(run("contract", "add-repository", "team")), ShouldEqual, hit.ExitSuccess)

		bobKey, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		bob := crypto.PubkeyToAddress(bobKey.PublicKey).Hex()
		bobRSA, err := teamkey.GenerateRSA()
		So(err, ShouldBeNil)
		bobPub, err := teamkey.EncodePublicKey(&bobRSA.PublicKey)
		So(err, ShouldBeNil)

		code, stdout, _ := run("member", "add", "bob", bob, bobPub)
		So(code, ShouldEqual, hit.ExitSuccess)
		So(stdout, ShouldEqual, "member bob added\n")
		So(chain.Contract(contract).Lists[2], ShouldResemble, []string{bob})

		Convey("adding twice is informational", func() {
			code, stdout, _ := run("member", "add", "bob", bob, bobPub)
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, "member bob already exists\n")
		})
		Convey("removing a stranger is informational", func() {
			code, stdout, _ := run("member", "remove", "carol")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldEqual, "member carol not found\n")
		})
		Convey("removal reaches the ledger", func() {
			So(first(run("member", "remove", "bob")), ShouldEqual, hit.ExitSuccess)
			So(chain.Contract(contract).Lists[2], ShouldBeEmpty)
		})
		Convey("encryption wraps the key for the team", func() {
			code, stdout, _ := run("encrypt", "add")
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldStartWith, "repository key pair added\n")

			_, stdout, _ = run("member", "list")
			So(stdout, ShouldContainSubstring, "private, repository public key ")
			So(stdout, ShouldContainSubstring, "bob "+bob+" (holds the repository key)")

			So(first(run("encrypt", "add")), ShouldEqual, hit.ExitUsage)
			So(first(run("encrypt", "renew")), ShouldEqual, hit.ExitSuccess)
			So(first(run("encrypt", "remove")), ShouldEqual, hit.ExitSuccess)
			_, stdout, _ = run("member", "list")
			So(stdout, ShouldContainSubstring, "\npublic\n")
		})
		Convey("only the owner manages the team", func() {
			So(first(run("cfg", "account", "add", "other")), ShouldEqual, hit.ExitSuccess)
			So(first(run("cfg", "account", "set", "other")), ShouldEqual, hit.ExitSuccess)
			So(first(run("member", "add", "carol", bob, bobPub)), ShouldEqual, hit.ExitUnauthorized)
		})
	})
}

// A repository at dir with one commit on master, tagged v1.
func upstreamRepo(dir string) plumbing.Hash {
	repo, err := git.PlainInit(dir, false)
	So(err, ShouldBeNil)
	wt, err := repo.Worktree()
	So(err, ShouldBeNil)
	f, err := wt.Filesystem.Create("README")
	So(err, ShouldBeNil)
	f.Write([]byte("upstream\n"))
	f.Close()
	_, err = wt.Add("README")
	So(err, ShouldBeNil)
	head, err := wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{
		Name: "hit", Email: "hit@localhost", When: time.Unix(1500000000, 0),
	}})
	So(err, ShouldBeNil)
	_, err = repo.CreateTag("v1", head, nil)
	So(err, ShouldBeNil)
	return head
}

func TestMigrate(t *testing.T) {
	Convey("hit migrate", t, testutil.Requires(
		testutil.RequiresGit,
		func() {
			setup(t)
			_, stdout, _ := run("cfg", "contract", "deploy", "repo")
			contract := strings.TrimSpace(stdout)
			storage := memStore()
			So(first(run("cfg", "storage", "add", "local", storage)), ShouldEqual, hit.ExitSuccess)
			So(first(run("contract", "add-repository", "imported")), ShouldEqual, hit.ExitSuccess)

			tmp := t.TempDir()
			src := filepath.Join(tmp, "upstream")
			head := upstreamRepo(src)
			dir := filepath.Join(tmp, "imported")

			code, stdout, _ := run("migrate", src, dir)
			So(code, ShouldEqual, hit.ExitSuccess)
			So(stdout, ShouldContainSubstring, "ok refs/heads/master\n")
			So(stdout, ShouldContainSubstring, "ok refs/tags/v1\n")
			So(stdout, ShouldContainSubstring, "migrated "+src+" to hit://"+contract+".git in "+dir)

			Convey("the store holds the branches and tags", func() {
				st, err := dial.Dial(storage)
				So(err, ShouldBeNil)
				refs, err := transport.New(st, nil).ReadAdvertisedRefs()
				So(err, ShouldBeNil)
				So(refs["refs/heads/master"].Resolved(), ShouldEqual, head)
				So(refs["refs/tags/v1"].Resolved(), ShouldEqual, head)
			})
			Convey("the clone's origin is the contract, and upstream the source", func() {
				repo, err := git.PlainOpen(dir)
				So(err, ShouldBeNil)
				origin, err := repo.Remote("origin")
				So(err, ShouldBeNil)
				So(origin.Config().URLs, ShouldResemble, []string{"hit://" + contract + ".git"})
				upstream, err := repo.Remote("upstream")
				So(err, ShouldBeNil)
				So(upstream.Config().URLs, ShouldResemble, []string{src})
			})
		},
	))
	Convey("hit migrate needs a contract", t, func() {
		setup(t)
		So(first(run("migrate", "https://example.invalid/x.git")), ShouldEqual, hit.ExitUsage)
	})
}
