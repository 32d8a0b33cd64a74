// Package signer provides the signing capability and its two
// implementations: a PEM-loaded software key and a remote HSM connector.
// Exactly one is active at a time, selected by which configuration fields
// are set.
package signer

import (
	"crypto/ed25519"

	"lol.mleku.dev/errorf"
)

// Signer produces signatures over arbitrary bytes under a stable public
// key. It satisfies chain.Signer structurally.
type Signer interface {
	PublicKey() []byte
	Sign(data []byte) ([]byte, error)
}

// ErrUnverified is returned by Verify's callers when a signature fails to
// check against the claimed public key; Verify itself just returns false.
var ErrUnverified = errorf.E("signer: signature does not verify")

// Verify checks a signature produced by a Signer against its public key.
// Every strand is ed25519-keyed regardless of which Signer implementation
// produced the signature, so this lives free of either implementation.
func Verify(pubKey, body, signature []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), body, signature)
}
