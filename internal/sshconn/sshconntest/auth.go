package sshconntest

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var ErrUnauthorized = fmt.Errorf("public key is not authorized")

// PubKeyCallback is the function called when the server receives an
// authentication attempt via public key. Any non-nil error returned will
// immediately abort the connection.
type PubKeyCallback func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error)

// AcceptAll returns a callback authorizing any offered key, for tests whose
// client generates its key only after the server is already listening.
func AcceptAll() PubKeyCallback {
	return func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
		return nil, nil
	}
}

// PublicKeyCallback returns a closure for use with an 'ssh.ServerConfig' to
// validate public keys offered by inbound connections against
// 'allowedPubKeys'.
func PublicKeyCallback(allowedPubKeys ...ssh.PublicKey) PubKeyCallback {
	marshaled := make([][]byte, len(allowedPubKeys))
	for i := range marshaled {
		marshaled[i] = allowedPubKeys[i].Marshal()
	}
	return func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		offered := key.Marshal()
		for _, allowed := range marshaled {
			if bytes.Equal(allowed, offered) {
				return nil, nil
			}
		}
		return nil, ErrUnauthorized
	}
}
