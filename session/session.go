/*
	The session package holds everything one hit invocation unlocked.

	A Session is built once, right after the config password is checked,
	and passed down explicitly to whatever needs to sign, decrypt, or dial.
	Nothing is cached globally; when the process exits the keys go with it.
*/
package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/config"
	"github.com/hitchain/hit/governance"
	"github.com/hitchain/hit/ledger"
	"github.com/hitchain/hit/ledger/execchain"
	"github.com/hitchain/hit/ledger/httpchain"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/store"
	"github.com/hitchain/hit/store/dial"
	"github.com/hitchain/hit/teamkey"
)

// How long one chain gateway round-trip may take.
const ChainTimeout = 2 * time.Minute

type Session struct {
	Address  string
	Key      *ecdsa.PrivateKey
	RSA      *rsa.PrivateKey // nil if no rsa key pair is configured
	Contract string          // may be empty
	Storage  string          // may be empty
	Chain    string          // may be empty
	Gas      config.Gas

	// Used instead of dialing Chain when set.
	ChainTransport ledger.ChainTransport

	Log *zap.Logger
}

/*
	Unlock the config and unseal the default account and rsa key pair.

	Only the account is mandatory; anything else missing from the config
	is left empty and only complained about when something needs it.

	May return errors of category:

	  - `hit.ErrUsage` -- if the config has not been created
	  - `hit.ErrUnauthorized` -- on a wrong password
	  - `hit.ErrNotFound` -- if there's no default account
	  - `hit.ErrCrypto` -- if a stored key is damaged
*/
func Open(f *config.File, password []byte, logger *zap.Logger) (*Session, error) {
	if err := f.Unlock(password); err != nil {
		return nil, err
	}
	addr, key, err := f.Account("", password)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Address: addr,
		Key:     key,
		Gas:     f.Gas(),
		Log:     log.OrNop(logger),
	}
	switch _, priHex, err := f.RSA("", password); {
	case err == nil:
		if s.RSA, err = teamkey.ParsePrivateKey(priHex); err != nil {
			return nil, err
		}
	case Category(err) != hit.ErrNotFound:
		return nil, err
	}
	s.Contract = optionalEntry(f, config.SectionContract)
	s.Storage = optionalEntry(f, config.SectionStorage)
	s.Chain = optionalEntry(f, config.SectionChain)
	return s, nil
}

func optionalEntry(f *config.File, section string) string {
	v, err := f.Entry(section, "")
	if err != nil {
		return ""
	}
	return v
}

func (s *Session) privateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(s.Key))
}

// Signing credentials for governance writes, at the configured write gas.
func (s *Session) Credentials() governance.Credentials {
	return governance.Credentials{
		Address:    s.Address,
		PrivateKey: s.privateKeyHex(),
		GasLimit:   s.Gas.WriteGas,
		Gwei:       s.Gas.WriteGwei,
	}
}

// A contract deployment at the configured deploy gas.
func (s *Session) DeployRequest(data string) ledger.DeployRequest {
	return ledger.DeployRequest{
		PrivateKey: s.privateKeyHex(),
		GasLimit:   s.Gas.DeployGas,
		Gwei:       s.Gas.DeployGwei,
		Data:       data,
	}
}

func (s *Session) Identity() teamkey.Identity {
	return teamkey.Identity{Address: api.Address(s.Address), RSA: s.RSA}
}

/*
	Dial the configured chain gateway.

	May return errors of category:

	  - `hit.ErrUsage` -- if no chain is configured, or its address is unsupported
*/
func (s *Session) Ledger() (*ledger.Client, error) {
	t := s.ChainTransport
	if t == nil {
		var err error
		if t, err = DialChain(s.Chain); err != nil {
			return nil, err
		}
	}
	return ledger.NewClient(t, s.Log), nil
}

/*
	Governance commands against a contract.
	An empty contract means the configured one.
*/
func (s *Session) Governance(contract string) (*governance.Command, error) {
	if contract == "" {
		contract = s.Contract
	}
	if contract == "" {
		return nil, Errorf(hit.ErrUsage, "no contract given and none configured; see `hit cfg contract`")
	}
	client, err := s.Ledger()
	if err != nil {
		return nil, err
	}
	return governance.New(client, contract, s.Credentials()), nil
}

/*
	Find and dial the store holding a repository.

	The repository's own contract is asked first; the configured storage
	is the fallback for repositories that haven't published an address yet.
*/
func (s *Session) Store(ctx context.Context, gov *governance.Command) (store.ContentStore, error) {
	addr, err := gov.ResolveStore(ctx)
	switch {
	case err == nil:
	case Category(err) == hit.ErrNotFound && s.Storage != "":
		addr = s.Storage
	default:
		return nil, err
	}
	return dial.Dial(addr)
}

/*
	Dial a chain transport by address.

	"http://" and "https://" addresses are chain gateways (see httpchain);
	"exec:<bin> [args...]" runs a chain client binary per call (see execchain).
*/
func DialChain(addr string) (ledger.ChainTransport, error) {
	switch {
	case addr == "":
		return nil, Errorf(hit.ErrUsage, "no chain configured; see `hit cfg chain add`")
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		t, err := httpchain.New(addr, ChainTimeout)
		if err != nil {
			return nil, err
		}
		return t, nil
	case strings.HasPrefix(addr, "exec:"):
		fields := strings.Fields(strings.TrimPrefix(addr, "exec:"))
		if len(fields) == 0 {
			return nil, Errorf(hit.ErrUsage, "chain address %q names no binary", addr)
		}
		return execchain.New(fields[0], fields[1:]...), nil
	default:
		return nil, Errorf(hit.ErrUsage, "unsupported chain address %q", addr)
	}
}
