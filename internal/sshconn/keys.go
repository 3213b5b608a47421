package sshconn

// keys.go implements a facade over standard library package 'crypto/ed25519'
// for the session keypair. One pair is generated per session, held only in
// process memory; the public half is what gets uploaded to the provider and
// baked into each droplet's authorized_keys.
//
// The representations needed along the way:
//   - 'ssh.Signer' to authenticate outbound connections (and to host-key the
//     mock server in tests).
//   - 'ssh.PublicKey' for host key pinning and fingerprinting.
//   - The OpenSSH ('authorized_keys') single-line format, which is the shape
//     the provider's key upload endpoint accepts.
//
// There is deliberately no marshaling of the private half. Nothing in this
// program writes private key material anywhere.

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyGen        = fmt.Errorf("failed to generate a 'crypto/ed25519' keypair")
	ErrPubKeyConv    = fmt.Errorf("failed to convert the 'ed25519.PublicKey' to 'ssh.PublicKey'")
	ErrPubKeyMarshal = fmt.Errorf("failed to marshal the 'ssh.PublicKey' to OpenSSH format")
)

// Generates a 'crypto/ed25519' public+private key pair, as an 'ED25519KeyPair'.
func NewED25519KeyPair() (ED25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return ED25519KeyPair{}, fmt.Errorf("%w: %w", ErrKeyGen, err)
	}
	return ED25519KeyPair{
		Public: ED25519PublicKey{
			key: pub,
		},
		Private: ED25519PrivateKey{
			key: priv,
		},
	}, nil
}

type ED25519KeyPair struct {
	Public  ED25519PublicKey
	Private ED25519PrivateKey
}

type ED25519PublicKey struct {
	key ed25519.PublicKey
}

// Verifies signature hash 'sig' against signed message 'msg' using the ed25519
// public key.
func (pubKey ED25519PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(pubKey.key, msg, sig)
}

// Converts the 'ed25519.PublicKey' to an 'ssh.PublicKey'.
func (pubKey ED25519PublicKey) ToSSH() (ssh.PublicKey, error) {
	pub, err := ssh.NewPublicKey(pubKey.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPubKeyConv, err)
	}
	return pub, nil
}

// Marshals the 'ed25519.PublicKey' to the OpenSSH ('authorized_keys') format,
// the shape the provider's key upload endpoint expects.
func (pubKey ED25519PublicKey) MarshalOpenSSH() ([]byte, error) {
	publicKey, err := pubKey.ToSSH()
	if err != nil {
		return nil, err
	}
	marshaled := ssh.MarshalAuthorizedKey(publicKey)
	if marshaled == nil {
		return nil, ErrPubKeyMarshal
	}
	return marshaled, nil
}

type ED25519PrivateKey struct {
	key ed25519.PrivateKey
}

// Signs a message with plain* ED25519 using the 'ed25519.PrivateKey'.
//
// * Plain means the message is not SHA-512 pre-hashed ('ed25519ph').
func (privKey ED25519PrivateKey) Sign(msg []byte) ([]byte, error) {
	return privKey.key.Sign(rand.Reader, msg, crypto.Hash(0))
}

// Converts the 'ed25519.PrivateKey' to an 'ssh.Signer'.
func (privKey ED25519PrivateKey) ToSSH() (ssh.Signer, error) {
	return ssh.NewSignerFromKey(privKey.key)
}
