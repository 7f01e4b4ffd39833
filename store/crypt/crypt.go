/*
	The crypt package decorates a content store so that repository objects
	are encrypted at rest, for private repositories.

	Everything under "objects/" is sealed with ECIES to the repository public
	key on the way in, and opened with the repository private key on the way out.
	Refs, HEAD, and metadata records pass through untouched: they hold only
	object ids and key material that is already wrapped.
*/
package crypt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"strings"

	"github.com/ethereum/go-ethereum/crypto/ecies"
	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/store"
)

var (
	_ store.ContentStore    = &Store{}
	_ store.WriteController = &writeController{}
)

const sealedPrefix = "objects/"

type Store struct {
	inner store.ContentStore
	pub   *ecies.PublicKey
	prv   *ecies.PrivateKey // nil if only writing is possible
}

// Wrap a store for reading and writing with the repository key pair.
func Wrap(inner store.ContentStore, repoKey *ecdsa.PrivateKey) *Store {
	prv := ecies.ImportECDSA(repoKey)
	return &Store{inner: inner, pub: &prv.PublicKey, prv: prv}
}

/*
	Wrap a store for writing only.  Sealed objects can be pushed by anyone
	who knows the repository public key; reads of sealed paths fail with
	`hit.ErrUnauthorized`.
*/
func WrapWriteOnly(inner store.ContentStore, repoPub *ecdsa.PublicKey) *Store {
	return &Store{inner: inner, pub: ecies.ImportECDSAPublic(repoPub)}
}

/*
	Encrypt one object to a repository public key.
	The same sealing Put applies, for callers rewriting objects in bulk.
*/
func Seal(pub *ecdsa.PublicKey, data []byte) ([]byte, error) {
	ct, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), data, nil, nil)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "encryption failed: %s", err)
	}
	return ct, nil
}

// Decrypt one object sealed by Seal or Put.
func Open(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	plain, err := ecies.ImportECDSA(key).Decrypt(data, nil, nil)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "decryption failed: %s", err)
	}
	return plain, nil
}

func sealed(path string) bool {
	return strings.HasPrefix(store.CleanPath(path), sealedPrefix)
}

func (s *Store) String() string { return "crypt(" + s.inner.String() + ")" }

func (s *Store) Get(path string) ([]byte, error) {
	bs, err := s.inner.Get(path)
	if err != nil || !sealed(path) {
		return bs, err
	}
	if s.prv == nil {
		return nil, Errorf(hit.ErrUnauthorized, "no repository key to read %s", path)
	}
	plain, err := s.prv.Decrypt(bs, nil, nil)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "failed to decrypt %s: %s", path, err)
	}
	return plain, nil
}

func (s *Store) Put(path string, data []byte) error {
	if !sealed(path) {
		return s.inner.Put(path, data)
	}
	ct, err := ecies.Encrypt(rand.Reader, s.pub, data, nil, nil)
	if err != nil {
		return Errorf(hit.ErrCrypto, "failed to encrypt %s: %s", path, err)
	}
	return s.inner.Put(path, ct)
}

/*
	Sealed streaming writes are buffered: ECIES works on whole messages.
	Unsealed paths stream straight through to the inner store.
*/
func (s *Store) BeginPut(path string) (store.WriteController, error) {
	if !sealed(path) {
		return s.inner.BeginPut(path)
	}
	return &writeController{store: s, path: path}, nil
}

func (s *Store) Delete(path string) error {
	return s.inner.Delete(path)
}

func (s *Store) List(prefix string) ([]string, error) {
	return s.inner.List(prefix)
}

type writeController struct {
	store *Store
	path  string
	buf   bytes.Buffer
}

func (wc *writeController) Write(bs []byte) (int, error) { return wc.buf.Write(bs) }

func (wc *writeController) Close() error {
	wc.buf.Reset()
	return nil
}

func (wc *writeController) Commit() error {
	return wc.store.Put(wc.path, wc.buf.Bytes())
}
