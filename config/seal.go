package config

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/hitchain/hit"
)

// scrypt cost parameters for deriving box keys from the config password.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltSize = 16
)

func deriveKey(password, salt []byte) (*[32]byte, error) {
	k, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "key derivation failed: %s", err)
	}
	var key [32]byte
	copy(key[:], k)
	return &key, nil
}

/*
	Seal a secret with the config password.

	The result is hex of salt, nonce, then the secretbox ciphertext;
	every call picks a fresh salt and nonce.
*/
func Seal(password, secret []byte) (string, error) {
	var buf [saltSize + 24]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "", Errorf(hit.ErrCrypto, "no randomness: %s", err)
	}
	salt := buf[:saltSize]
	var nonce [24]byte
	copy(nonce[:], buf[saltSize:])
	key, err := deriveKey(password, salt)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(secretbox.Seal(buf[:], secret, &nonce, key)), nil
}

/*
	Open a sealed secret.

	May return errors of category:

	  - `hit.ErrUnauthorized` -- if the password is wrong
	  - `hit.ErrCrypto` -- if the sealed value is damaged
*/
func Unseal(password []byte, sealed string) ([]byte, error) {
	bs, err := hex.DecodeString(sealed)
	if err != nil || len(bs) < saltSize+24+secretbox.Overhead {
		return nil, Errorf(hit.ErrCrypto, "sealed value is malformed")
	}
	var nonce [24]byte
	copy(nonce[:], bs[saltSize:saltSize+24])
	key, err := deriveKey(password, bs[:saltSize])
	if err != nil {
		return nil, err
	}
	secret, ok := secretbox.Open(nil, bs[saltSize+24:], &nonce, key)
	if !ok {
		return nil, Errorf(hit.ErrUnauthorized, "wrong password")
	}
	return secret, nil
}
