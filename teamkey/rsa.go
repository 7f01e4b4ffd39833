package teamkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"

	. "github.com/warpfork/go-errcat"

	"github.com/hitchain/hit"
)

// Size of the RSA keys members hold.
const RSABits = 2048

func GenerateRSA() (*rsa.PrivateKey, error) {
	k, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "rsa key generation failed: %s", err)
	}
	return k, nil
}

// Hex of the PKIX DER encoding.
func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", Errorf(hit.ErrCrypto, "cannot encode rsa public key: %s", err)
	}
	return hex.EncodeToString(der), nil
}

func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := hex.DecodeString(s)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "rsa public key is not hex: %s", err)
	}
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, Errorf(hit.ErrUsage, "invalid rsa public key: %s", err)
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, Errorf(hit.ErrUsage, "public key is %T, not rsa", k)
	}
	return pub, nil
}

// Hex of the PKCS8 DER encoding.
func EncodePrivateKey(k *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		return "", Errorf(hit.ErrCrypto, "cannot encode rsa private key: %s", err)
	}
	return hex.EncodeToString(der), nil
}

func ParsePrivateKey(s string) (*rsa.PrivateKey, error) {
	der, err := hex.DecodeString(s)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "rsa private key is not hex: %s", err)
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "invalid rsa private key: %s", err)
	}
	prv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, Errorf(hit.ErrCrypto, "private key is %T, not rsa", k)
	}
	return prv, nil
}

// Encrypt a secret for the holder of pub, as hex of RSA-OAEP (SHA-256).
func Wrap(pub *rsa.PublicKey, secret []byte) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	if err != nil {
		return "", Errorf(hit.ErrCrypto, "key wrapping failed: %s", err)
	}
	return hex.EncodeToString(ct), nil
}

func Unwrap(prv *rsa.PrivateKey, wrapped string) ([]byte, error) {
	ct, err := hex.DecodeString(wrapped)
	if err != nil {
		return nil, Errorf(hit.ErrCrypto, "wrapped key is not hex: %s", err)
	}
	secret, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, prv, ct, nil)
	if err != nil {
		return nil, Errorf(hit.ErrUnauthorized, "wrapped key is not for this rsa key: %s", err)
	}
	return secret, nil
}
