package config

import (
	"crypto/ecdsa"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cast"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

const (
	keyCheck   = "check"
	checkValue = "hit"

	suffixAddress = "_address"
	suffixPrivate = "_private"
	suffixPub     = "_pub"
	suffixPri     = "_pri"
)

func (f *File) Initialized() bool {
	return f.Get(SectionMain, keyCheck) != ""
}

/*
	Set the config password, by sealing a check value with it.

	May return errors of category:

	  - `hit.ErrUsage` -- if a password was already set
*/
func (f *File) Init(password []byte) error {
	if f.Initialized() {
		return Errorf(hit.ErrUsage, "config %s is already initialised", f.path)
	}
	sealed, err := Seal(password, []byte(checkValue))
	if err != nil {
		return err
	}
	f.Set(SectionMain, keyCheck, sealed)
	return nil
}

/*
	Check a password against the config.

	May return errors of category:

	  - `hit.ErrUsage` -- if the config has no password yet
	  - `hit.ErrUnauthorized` -- if the password is wrong
*/
func (f *File) Unlock(password []byte) error {
	sealed := f.Get(SectionMain, keyCheck)
	if sealed == "" {
		return Errorf(hit.ErrUsage, "config %s is not initialised; run `hit cfg create`", f.path)
	}
	v, err := Unseal(password, sealed)
	if err != nil {
		return err
	}
	if string(v) != checkValue {
		return Errorf(hit.ErrUnauthorized, "wrong password")
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == KeyDefault || strings.ContainsAny(name, " .=[]\t\n") {
		return Errorf(hit.ErrUsage, "invalid entry name %q", name)
	}
	return nil
}

// Resolve "" to the section's default entry name.
func (f *File) nameOrDefault(section, name string) (string, error) {
	if name != "" {
		return strings.ToLower(name), nil
	}
	name = f.Default(section)
	if name == "" {
		return "", Errorf(hit.ErrNotFound, "no default %s configured", section)
	}
	return name, nil
}

func (f *File) namesWithSuffix(section, suffix string) []string {
	var names []string
	for _, k := range f.Keys(section) {
		if strings.HasSuffix(k, suffix) {
			names = append(names, strings.TrimSuffix(k, suffix))
		}
	}
	sort.Strings(names)
	return names
}

// Accounts.

/*
	Store a signing key under a name, sealed with the password.
	The first account stored becomes the default.
	Returns the account address.
*/
func (f *File) AddAccount(name string, key *ecdsa.PrivateKey, password []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	name = strings.ToLower(name)
	sealed, err := Seal(password, []byte(hex.EncodeToString(crypto.FromECDSA(key))))
	if err != nil {
		return "", err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	f.Set(SectionAccount, name+suffixAddress, addr)
	f.Set(SectionAccount, name+suffixPrivate, sealed)
	if f.Default(SectionAccount) == "" {
		f.SetDefault(SectionAccount, name)
	}
	return addr, nil
}

/*
	Return an account's address without unsealing anything.
	An empty name means the default account.
*/
func (f *File) AccountAddress(name string) (string, error) {
	name, err := f.nameOrDefault(SectionAccount, name)
	if err != nil {
		return "", err
	}
	addr := f.Get(SectionAccount, name+suffixAddress)
	if addr == "" {
		return "", Errorf(hit.ErrNotFound, "no account named %q", name)
	}
	return addr, nil
}

/*
	Unseal an account's signing key.
	An empty name means the default account.
*/
func (f *File) Account(name string, password []byte) (string, *ecdsa.PrivateKey, error) {
	addr, err := f.AccountAddress(name)
	if err != nil {
		return "", nil, err
	}
	name, _ = f.nameOrDefault(SectionAccount, name)
	secret, err := Unseal(password, f.Get(SectionAccount, name+suffixPrivate))
	if err != nil {
		return "", nil, err
	}
	key, err := crypto.HexToECDSA(string(secret))
	if err != nil {
		return "", nil, Errorf(hit.ErrCrypto, "stored key for account %q is invalid: %s", name, err)
	}
	return addr, key, nil
}

func (f *File) Accounts() []string {
	return f.namesWithSuffix(SectionAccount, suffixAddress)
}

func (f *File) RemoveAccount(name string) error {
	return f.removeNamed(SectionAccount, name, suffixAddress, suffixPrivate)
}

// RSA key pairs.

/*
	Store an encoded RSA key pair under a name; the private half is sealed.
	The first pair stored becomes the default.
*/
func (f *File) AddRSA(name, pubHex, priHex string, password []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	name = strings.ToLower(name)
	sealed, err := Seal(password, []byte(priHex))
	if err != nil {
		return err
	}
	f.Set(SectionRSA, name+suffixPub, pubHex)
	f.Set(SectionRSA, name+suffixPri, sealed)
	if f.Default(SectionRSA) == "" {
		f.SetDefault(SectionRSA, name)
	}
	return nil
}

// Return an encoded RSA key pair, unsealing the private half.
func (f *File) RSA(name string, password []byte) (pubHex, priHex string, err error) {
	name, err = f.nameOrDefault(SectionRSA, name)
	if err != nil {
		return "", "", err
	}
	pubHex = f.Get(SectionRSA, name+suffixPub)
	if pubHex == "" {
		return "", "", Errorf(hit.ErrNotFound, "no rsa key pair named %q", name)
	}
	pri, err := Unseal(password, f.Get(SectionRSA, name+suffixPri))
	if err != nil {
		return "", "", err
	}
	return pubHex, string(pri), nil
}

// Return just the public half of an RSA key pair.
func (f *File) RSAPublic(name string) (string, error) {
	name, err := f.nameOrDefault(SectionRSA, name)
	if err != nil {
		return "", err
	}
	pubHex := f.Get(SectionRSA, name+suffixPub)
	if pubHex == "" {
		return "", Errorf(hit.ErrNotFound, "no rsa key pair named %q", name)
	}
	return pubHex, nil
}

func (f *File) RSANames() []string {
	return f.namesWithSuffix(SectionRSA, suffixPub)
}

func (f *File) RemoveRSA(name string) error {
	return f.removeNamed(SectionRSA, name, suffixPub, suffixPri)
}

// Plain named entries: storage, chain, contract.

func (f *File) AddEntry(section, name, value string) error {
	if err := validName(name); err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return Errorf(hit.ErrUsage, "empty value for %s %q", section, name)
	}
	name = strings.ToLower(name)
	f.Set(section, name, value)
	if f.Default(section) == "" {
		f.SetDefault(section, name)
	}
	return nil
}

// Look up an entry; an empty name means the section's default.
func (f *File) Entry(section, name string) (string, error) {
	name, err := f.nameOrDefault(section, name)
	if err != nil {
		return "", err
	}
	v := f.Get(section, name)
	if v == "" {
		return "", Errorf(hit.ErrNotFound, "no %s named %q", section, name)
	}
	return v, nil
}

func (f *File) Entries(section string) []string {
	return f.Keys(section)
}

func (f *File) RemoveEntry(section, name string) error {
	return f.removeNamed(section, name, "")
}

/*
	Make an existing entry the section's default.

	May return errors of category:

	  - `hit.ErrNotFound` -- if there's no such entry
*/
func (f *File) Use(section, name string) error {
	name = strings.ToLower(name)
	key := name
	switch section {
	case SectionAccount:
		key += suffixAddress
	case SectionRSA:
		key += suffixPub
	}
	if f.Get(section, key) == "" {
		return Errorf(hit.ErrNotFound, "no %s named %q", section, name)
	}
	f.SetDefault(section, name)
	return nil
}

func (f *File) removeNamed(section, name string, suffixes ...string) error {
	name = strings.ToLower(name)
	if f.Get(section, name+suffixes[0]) == "" {
		return Errorf(hit.ErrNotFound, "no %s named %q", section, name)
	}
	for _, s := range suffixes {
		f.Delete(section, name+s)
	}
	if f.Default(section) == name {
		f.Delete(section, KeyDefault)
	}
	return nil
}

// Gas.

type Gas struct {
	DeployGas  int64
	DeployGwei int64
	WriteGas   int64
	WriteGwei  int64
}

var DefaultGas = Gas{
	DeployGas:  5000000,
	DeployGwei: 10,
	WriteGas:   300000,
	WriteGwei:  10,
}

// Configured gas figures, falling back to DefaultGas for anything unset or unparseable.
func (f *File) Gas() Gas {
	read := func(key string, fallback int64) int64 {
		n, err := cast.ToInt64E(f.Get(SectionGas, key))
		if err != nil || n <= 0 {
			return fallback
		}
		return n
	}
	return Gas{
		DeployGas:  read("deployGas", DefaultGas.DeployGas),
		DeployGwei: read("deployGwei", DefaultGas.DeployGwei),
		WriteGas:   read("writeGas", DefaultGas.WriteGas),
		WriteGwei:  read("writeGwei", DefaultGas.WriteGwei),
	}
}

func (f *File) SetGas(g Gas) error {
	for _, v := range []int64{g.DeployGas, g.DeployGwei, g.WriteGas, g.WriteGwei} {
		if v <= 0 {
			return Errorf(hit.ErrUsage, "gas figures must be positive")
		}
	}
	f.Set(SectionGas, "deployGas", cast.ToString(g.DeployGas))
	f.Set(SectionGas, "deployGwei", cast.ToString(g.DeployGwei))
	f.Set(SectionGas, "writeGas", cast.ToString(g.WriteGas))
	f.Set(SectionGas, "writeGwei", cast.ToString(g.WriteGwei))
	return nil
}
