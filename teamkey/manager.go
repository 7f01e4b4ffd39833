/*
	The teamkey package keeps a private repository readable by exactly its team.

	A private repository has one secp256k1 key pair.  Objects in the store
	are encrypted to its public half (see store/crypt).  The private half is
	never stored in the clear: the metadata record holds one copy wrapped for
	the owner's RSA key, and one copy per team member wrapped for that
	member's RSA key.  All copies unwrap to the same key.

	Removing a member drops their wrapped copy but does not rotate the
	repository key; anything they fetched before removal stays readable to
	them.  `RenewKeyPair` is the explicit rotation.
*/
package teamkey

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"github.com/hitchain/hit"
	"github.com/hitchain/hit/api"
	"github.com/hitchain/hit/ledger"
	"github.com/hitchain/hit/lib/log"
	"github.com/hitchain/hit/store"
	"github.com/hitchain/hit/store/crypt"
)

/*
	The slice of the governance contract key distribution needs.
	Satisfied by *governance.Command.
*/
type TeamLedger interface {
	HasTeamMember(ctx context.Context, addr string) (bool, error)
	AddTeamMember(ctx context.Context, addr string) (string, error)
	RemoveTeamMember(ctx context.Context, addr string) (string, error)
}

// Who is acting: their ledger account and their RSA key pair.
type Identity struct {
	Address api.Address
	RSA     *rsa.PrivateKey
}

// A prospective team member.
type Member struct {
	Name      string
	PubKeyRsa string // hex, as produced by EncodePublicKey
	Address   api.Address
}

type Manager struct {
	store  store.ContentStore
	ledger TeamLedger
	self   Identity
	log    *zap.Logger
}

func NewManager(s store.ContentStore, l TeamLedger, self Identity, logger *zap.Logger) *Manager {
	return &Manager{store: s, ledger: l, self: self, log: log.OrNop(logger)}
}

// Read the record, or start a fresh one owned by the caller.
func (m *Manager) Record() (api.ProjectInfoFile, error) {
	rec, exists, err := LoadRecord(m.store)
	if err != nil || exists {
		return rec, err
	}
	rec = api.ProjectInfoFile{Owner: m.self.Address, Members: []api.TeamInfo{}}
	if m.self.RSA != nil {
		if rec.OwnerPubKeyRsa, err = EncodePublicKey(&m.self.RSA.PublicKey); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func (m *Manager) ownedRecord() (api.ProjectInfoFile, error) {
	rec, err := m.Record()
	if err != nil {
		return rec, err
	}
	if !rec.Owner.Equal(m.self.Address) {
		return rec, Errorf(hit.ErrUnauthorized, "only the repository owner (%s) may change team keys", rec.Owner)
	}
	if m.self.RSA == nil {
		return rec, Errorf(hit.ErrUsage, "no rsa key pair configured")
	}
	if rec.OwnerPubKeyRsa == "" {
		rec.OwnerPubKeyRsa, err = EncodePublicKey(&m.self.RSA.PublicKey)
	}
	return rec, err
}

/*
	Make the repository private: generate a repository key pair, wrap the
	private half for the owner and for every member, save the record, and
	encrypt every object already in the store.

	Returns the hex repository public key.

	Objects are encrypted after the record is saved with the new key and
	marked as resealing.  If that is interrupted, the error is
	`hit.ErrPartialCommit` and calling AddKeyPair again finishes the job.

	May return errors of category:

	  - `hit.ErrUnauthorized` -- if the caller isn't the owner
	  - `hit.ErrUsage` -- if the repository is already private (use RenewKeyPair)
	  - `hit.ErrCrypto` -- if key generation or wrapping fails
	  - `hit.ErrPartialCommit` -- if re-encrypting the objects was interrupted
	  - store errors
*/
func (m *Manager) AddKeyPair() (string, error) {
	rec, err := m.ownedRecord()
	if err != nil {
		return "", err
	}
	if rec.Resealing {
		pending := rec.IsPrivate
		if rec, err = m.finishReseal(rec, "add key pair"); err != nil {
			return "", err
		}
		if pending {
			return rec.RepoPubKey, nil
		}
	}
	if rec.IsPrivate {
		return "", Errorf(hit.ErrUsage, "repository already has a key pair; renew it instead")
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", Errorf(hit.ErrCrypto, "repository key generation failed: %s", err)
	}
	if err := wrapAll(&rec, key); err != nil {
		return "", err
	}
	rec.Resealing = true
	rec.PreviousRepoPriKey = ""
	if err := SaveRecord(m.store, rec); err != nil {
		return "", err
	}
	if rec, err = m.finishReseal(rec, "add key pair"); err != nil {
		return "", err
	}
	return rec.RepoPubKey, nil
}

/*
	Rotate the repository key pair: a fresh key is wrapped for everyone
	currently on the team and every object is re-encrypted to it.
	The old key stays in the record, wrapped for the owner, until every
	object has moved; an interrupted rotation is finished by calling
	RenewKeyPair again.
*/
func (m *Manager) RenewKeyPair() (string, error) {
	rec, err := m.ownedRecord()
	if err != nil {
		return "", err
	}
	if rec.Resealing {
		pending := rec.IsPrivate
		if rec, err = m.finishReseal(rec, "renew key pair"); err != nil {
			return "", err
		}
		if pending {
			return rec.RepoPubKey, nil
		}
	}
	if !rec.IsPrivate {
		return "", Errorf(hit.ErrUsage, "repository has no key pair to renew")
	}
	if _, err := m.unwrapFor(rec); err != nil {
		return "", err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", Errorf(hit.ErrCrypto, "repository key generation failed: %s", err)
	}
	previous := rec.RepoPriKey
	if err := wrapAll(&rec, key); err != nil {
		return "", err
	}
	rec.Resealing = true
	rec.PreviousRepoPriKey = previous
	if err := SaveRecord(m.store, rec); err != nil {
		return "", err
	}
	if rec, err = m.finishReseal(rec, "renew key pair"); err != nil {
		return "", err
	}
	return rec.RepoPubKey, nil
}

/*
	Make the repository public again: decrypt every object, and clear the
	repository key pair and every member's wrapped copy.
	A repository that is already public is left alone.

	Until every object is decrypted the record keeps the key, wrapped for
	the owner, so an interrupted removal is finished by calling
	RemoveKeyPair again.
*/
func (m *Manager) RemoveKeyPair() error {
	rec, err := m.ownedRecord()
	if err != nil {
		return err
	}
	if rec.Resealing {
		if rec, err = m.finishReseal(rec, "remove key pair"); err != nil {
			return err
		}
	}
	if !rec.IsPrivate {
		return nil
	}
	if _, err := m.unwrapFor(rec); err != nil {
		return err
	}
	rec.Resealing = true
	rec.PreviousRepoPriKey = rec.RepoPriKey
	rec.IsPrivate = false
	rec.RepoPubKey = ""
	rec.RepoPriKey = ""
	for i := range rec.Members {
		rec.Members[i].MemberRepoPriKey = ""
	}
	if err := SaveRecord(m.store, rec); err != nil {
		return err
	}
	_, err = m.finishReseal(rec, "remove key pair")
	return err
}

/*
	Bring every object to the form the record says it should have
	(sealed to the current key, or plaintext for a public repository),
	then clear the resealing mark.  Safe to repeat.
*/
func (m *Manager) finishReseal(rec api.ProjectInfoFile, operation string) (api.ProjectInfoFile, error) {
	var from []*ecdsa.PrivateKey
	if rec.PreviousRepoPriKey != "" {
		prev, err := m.unwrap(rec.PreviousRepoPriKey)
		if err != nil {
			return rec, err
		}
		from = append(from, prev)
	}
	var to *ecdsa.PrivateKey
	if rec.IsPrivate {
		var err error
		if to, err = m.unwrapFor(rec); err != nil {
			return rec, err
		}
	}
	plainOK := rec.PreviousRepoPriKey == "" || !rec.IsPrivate
	if err := reseal(m.store, from, to, plainOK); err != nil {
		return rec, m.interrupted(err, operation)
	}
	rec.Resealing = false
	rec.PreviousRepoPriKey = ""
	if err := SaveRecord(m.store, rec); err != nil {
		return rec, m.interrupted(err, operation)
	}
	return rec, nil
}

/*
	Add a team member.

	A candidate whose name or address is already in the record is a no-op:
	added is false and nothing is sent to the ledger.  Otherwise the
	repository key (if private) is wrapped for the member, the member is
	registered on the ledger (already being there is fine), and the record
	is saved.

	May return errors of category:

	  - `hit.ErrUsage` -- if the member's address or rsa key is invalid
	  - `hit.ErrUnauthorized` -- if the caller isn't the owner
	  - `hit.ErrPartialCommit` -- if the ledger took the member but the record couldn't be saved
	  - ledger and store errors
*/
func (m *Manager) AddMember(ctx context.Context, who Member) (added bool, err error) {
	if who.Name == "" || !common.IsHexAddress(string(who.Address)) {
		return false, Errorf(hit.ErrUsage, "a member needs a name and an account address")
	}
	pub, err := ParsePublicKey(who.PubKeyRsa)
	if err != nil {
		return false, err
	}
	rec, err := m.ownedRecord()
	if err != nil {
		return false, err
	}
	if rec.FindMember(who.Name, who.Address) >= 0 {
		return false, nil
	}
	info := api.TeamInfo{
		Member:           who.Name,
		MemberPubKeyRsa:  who.PubKeyRsa,
		MemberAddressEcc: who.Address,
	}
	if rec.IsPrivate {
		key, err := m.unwrapFor(rec)
		if err != nil {
			return false, err
		}
		if info.MemberRepoPriKey, err = Wrap(pub, crypto.FromECDSA(key)); err != nil {
			return false, err
		}
	}

	has, err := m.ledger.HasTeamMember(ctx, string(who.Address))
	if err != nil {
		return false, err
	}
	if !has {
		if _, err := m.ledger.AddTeamMember(ctx, string(who.Address)); err != nil && !rejectedAs(err, "already exists") {
			return false, err
		}
	}

	rec.Members = append(rec.Members, info)
	if err := SaveRecord(m.store, rec); err != nil {
		return false, m.partialCommit(err, "add member", who.Name)
	}
	return true, nil
}

/*
	Remove a team member, by name or address.

	The member is removed from the ledger (already being gone is fine),
	then from the record.  Nobody else's wrapped key changes.
	Returns false if there was no such member.
*/
func (m *Manager) RemoveMember(ctx context.Context, nameOrAddress string) (removed bool, err error) {
	rec, err := m.ownedRecord()
	if err != nil {
		return false, err
	}
	i := rec.FindMember(nameOrAddress, api.Address(nameOrAddress))
	if i < 0 {
		return false, nil
	}
	who := rec.Members[i]
	if _, err := m.ledger.RemoveTeamMember(ctx, string(who.MemberAddressEcc)); err != nil && !rejectedAs(err, "not exists") {
		return false, err
	}
	rec.Members = append(rec.Members[:i:i], rec.Members[i+1:]...)
	if err := SaveRecord(m.store, rec); err != nil {
		return false, m.partialCommit(err, "remove member", who.Member)
	}
	return true, nil
}

/*
	Unwrap the repository private key with the caller's RSA key,
	whether the caller is the owner or a member.
	Returns nil for a public repository.

	May return errors of category:

	  - `hit.ErrUnauthorized` -- if the caller is neither owner nor member
*/
func (m *Manager) RepositoryKey() (*ecdsa.PrivateKey, error) {
	rec, exists, err := LoadRecord(m.store)
	if err != nil || !exists || !rec.IsPrivate {
		return nil, err
	}
	return m.unwrapFor(rec)
}

/*
	Return the store as the caller should see it: as-is for a public
	repository, decorated with object encryption for a private one.
*/
func (m *Manager) OpenStore() (store.ContentStore, error) {
	key, err := m.RepositoryKey()
	if err != nil || key == nil {
		return m.store, err
	}
	return crypt.Wrap(m.store, key), nil
}

func (m *Manager) unwrapFor(rec api.ProjectInfoFile) (*ecdsa.PrivateKey, error) {
	if m.self.RSA == nil {
		return nil, Errorf(hit.ErrUsage, "no rsa key pair configured")
	}
	wrapped := ""
	switch i := rec.FindMember("", m.self.Address); {
	case rec.Owner.Equal(m.self.Address):
		wrapped = rec.RepoPriKey
	case i >= 0:
		wrapped = rec.Members[i].MemberRepoPriKey
	}
	if wrapped == "" {
		return nil, Errorf(hit.ErrUnauthorized, "%s holds no key for this repository", m.self.Address)
	}
	return m.unwrap(wrapped)
}

func (m *Manager) unwrap(wrapped string) (*ecdsa.PrivateKey, error) {
	if m.self.RSA == nil {
		return nil, Errorf(hit.ErrUsage, "no rsa key pair configured")
	}
	bs, err := Unwrap(m.self.RSA, wrapped)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(bs)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "unwrapped repository key is invalid: %s", err)
	}
	return key, nil
}

func (m *Manager) partialCommit(err error, operation, subject string) error {
	log.PartialCommit(m.log, err, operation, subject)
	return ErrorDetailed(hit.ErrPartialCommit,
		"the ledger accepted "+operation+" for "+subject+" but the metadata record could not be saved: "+err.Error(),
		map[string]string{"operation": operation, "subject": subject})
}

func (m *Manager) interrupted(err error, operation string) error {
	log.PartialCommit(m.log, err, operation, "objects")
	return ErrorDetailed(hit.ErrPartialCommit,
		operation+" was interrupted while re-encrypting objects ("+err.Error()+"); run it again to finish",
		map[string]string{"operation": operation})
}

// Wrap a repository key for the owner and every member, filling the record.
func wrapAll(rec *api.ProjectInfoFile, key *ecdsa.PrivateKey) error {
	secret := crypto.FromECDSA(key)
	ownerPub, err := ParsePublicKey(rec.OwnerPubKeyRsa)
	if err != nil {
		return err
	}
	if rec.RepoPriKey, err = Wrap(ownerPub, secret); err != nil {
		return err
	}
	for i, member := range rec.Members {
		pub, err := ParsePublicKey(member.MemberPubKeyRsa)
		if err != nil {
			return err
		}
		if rec.Members[i].MemberRepoPriKey, err = Wrap(pub, secret); err != nil {
			return err
		}
	}
	rec.RepoPubKey = hex.EncodeToString(crypto.FromECDSAPub(&key.PublicKey))
	rec.IsPrivate = true
	return nil
}

/*
	Rewrite every object so it is sealed to `to`, or plaintext if to is nil.

	An object may currently be sealed to any key in from, or already be in
	its final form, so a reseal that stopped part way can be run again.
	Objects no key opens are taken as plaintext only if plainOK.
*/
func reseal(s store.ContentStore, from []*ecdsa.PrivateKey, to *ecdsa.PrivateKey, plainOK bool) error {
	names, err := s.List("objects")
	if err != nil {
		return err
	}
	for _, name := range names {
		p := store.JoinPath("objects", name)
		raw, err := s.Get(p)
		if err != nil {
			return err
		}
		if to != nil {
			if _, err := crypt.Open(to, raw); err == nil {
				continue
			}
		}
		plain, opened := openAny(from, raw)
		if !opened {
			if !plainOK {
				return Errorf(hit.ErrCrypto, "%s is sealed to no key this repository has held", p)
			}
			if to == nil {
				continue
			}
			plain = raw
		}
		out := plain
		if to != nil {
			if out, err = crypt.Seal(&to.PublicKey, plain); err != nil {
				return err
			}
		}
		if err := s.Put(p, out); err != nil {
			return err
		}
	}
	return nil
}

func openAny(keys []*ecdsa.PrivateKey, data []byte) ([]byte, bool) {
	for _, k := range keys {
		if plain, err := crypt.Open(k, data); err == nil {
			return plain, true
		}
	}
	return nil, false
}

func rejectedAs(err error, detail string) bool {
	return strings.Contains(ledger.RejectionDetail(err), detail)
}
