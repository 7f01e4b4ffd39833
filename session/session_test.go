package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/ledger/execchain"
	"github.com/hitchain/hit/ledger/httpchain"
	"github.com/hitchain/hit/ledger/ledgertest"
	"github.com/hitchain/hit/teamkey"
)

func TestOpen(t *testing.T) {
	Convey("Opening a session", t, func() {
		pw := []byte("pw")
		f, err := config.Load(filepath.Join(t.TempDir(), "config.ini"))
		So(err, ShouldBeNil)
		So(f.Init(pw), ShouldBeNil)

		Convey("needs an account", func() {
			_, err := Open(f, pw, nil)
			So(errcat.Category(err), ShouldEqual, hit.ErrNotFound)
		})

		key, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		addr, err := f.AddAccount("main", key, pw)
		So(err, ShouldBeNil)

		Convey("refuses a wrong password", func() {
			_, err := Open(f, []byte("nope"), nil)
			So(errcat.Category(err), ShouldEqual, hit.ErrUnauthorized)
		})
		Convey("works with just an account", func() {
			s, err := Open(f, pw, nil)
			So(err, ShouldBeNil)
			So(s.Address, ShouldEqual, addr)
			So(s.RSA, ShouldBeNil)
			So(s.Contract, ShouldEqual, "")
			So(s.Gas, ShouldResemble, config.DefaultGas)

			creds := s.Credentials()
			So(creds.Address, ShouldEqual, addr)
			So(creds.GasLimit, ShouldEqual, config.DefaultGas.WriteGas)
			back, err := crypto.HexToECDSA(creds.PrivateKey)
			So(err, ShouldBeNil)
			So(crypto.PubkeyToAddress(back.PublicKey).Hex(), ShouldEqual, addr)

			deploy := s.DeployRequest("code")
			So(deploy.GasLimit, ShouldEqual, config.DefaultGas.DeployGas)
			So(deploy.Data, ShouldEqual, "code")

			_, err = s.Governance("")
			So(errcat.Category(err), ShouldEqual, hit.ErrUsage)
			_, err = s.Ledger()
			So(errcat.Category(err), ShouldEqual, hit.ErrUsage)
		})
		Convey("picks up everything configured", func() {
			r, err := teamkey.GenerateRSA()
			So(err, ShouldBeNil)
			pubHex, _ := teamkey.EncodePublicKey(&r.PublicKey)
			priHex, _ := teamkey.EncodePrivateKey(r)
			So(f.AddRSA("main", pubHex, priHex, pw), ShouldBeNil)
			So(f.AddEntry(config.SectionStorage, "local", "mem://session-fallback"), ShouldBeNil)
			So(f.AddEntry(config.SectionChain, "gw", "http://localhost:8545/hit"), ShouldBeNil)
			So(f.AddEntry(config.SectionContract, "repo", "0x00000000000000000000000000000000c0de0001"), ShouldBeNil)

			s, err := Open(f, pw, nil)
			So(err, ShouldBeNil)
			So(s.RSA, ShouldNotBeNil)
			So(s.RSA.N.Cmp(r.N), ShouldEqual, 0)
			So(string(s.Identity().Address), ShouldEqual, addr)
			So(s.Chain, ShouldEqual, "http://localhost:8545/hit")

			gov, err := s.Governance("")
			So(err, ShouldBeNil)
			So(gov.Contract(), ShouldEqual, "0x00000000000000000000000000000000c0de0001")

			Convey("and finds stores through the contract", func() {
				ctx := context.Background()
				chain := ledgertest.NewChain()
				ct := chain.Install(addr)
				s.ChainTransport = chain
				gov, err := s.Governance(ct.Address)
				So(err, ShouldBeNil)

				st, err := s.Store(ctx, gov)
				So(err, ShouldBeNil)
				So(st.Put("marker", []byte("x")), ShouldBeNil)

				ct.URL = "mem://session-published"
				st, err = s.Store(ctx, gov)
				So(err, ShouldBeNil)
				_, err = st.Get("marker")
				So(errcat.Category(err), ShouldEqual, hit.ErrNotFound)

				Convey("with no fallback, a bare contract is not found", func() {
					ct.URL = ""
					s.Storage = ""
					_, err := s.Store(ctx, gov)
					So(errcat.Category(err), ShouldEqual, hit.ErrNotFound)
				})
			})
		})
	})
}

func TestDialChain(t *testing.T) {
	for _, tr := range []struct {
		addr     string
		category interface{}
	}{
		{"", hit.ErrUsage},
		{"ftp://chain", hit.ErrUsage},
		{"exec:", hit.ErrUsage},
		{"http://localhost:8545/hit", nil},
		{"https://gateway.example/hit", nil},
		{"exec:hit-chain --testnet", nil},
	} {
		t.Run(tr.addr, func(t *testing.T) {
			tp, err := DialChain(tr.addr)
			if tr.category != nil {
				if errcat.Category(err) != tr.category {
					t.Fatalf("expected %v, got %v", tr.category, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			switch v := tp.(type) {
			case *httpchain.Transport:
			case execchain.Transport:
				if v.Bin != "hit-chain" || len(v.Args) != 1 || v.Args[0] != "--testnet" {
					t.Fatalf("unexpected exec transport %#v", v)
				}
			default:
				t.Fatalf("unexpected transport %T", tp)
			}
		})
	}
}
