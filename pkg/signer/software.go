package signer

import (
	"crypto/ed25519"
	"encoding/pem"
	"os"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
)

const pemBlockType = "PRIVATE KEY"

// Software is an ed25519 key pair held in process memory, loaded from a
// PEM file. The daemon uses it whenever PRIVATE_KEY_PATH is set, and the
// HSM signer only when it is not; an unreachable HSM does not fall back to
// it.
type Software struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// LoadSoftware reads a PEM-encoded ed25519 seed from path and constructs
// its signer. The PEM payload is the raw 32-byte seed, not a PKCS8
// envelope -- this mirrors the simplicity of the rest of the strand
// config loading.
func LoadSoftware(path string) (s *Software, err error) {
	var raw []byte
	if raw, err = os.ReadFile(path); chk.E(err) {
		return nil, errorf.E("signer: read key file %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != pemBlockType {
		return nil, errorf.E("signer: %s is not a PEM-encoded %s", path, pemBlockType)
	}
	seed := block.Bytes
	if len(seed) != ed25519.SeedSize {
		return nil, errorf.E(
			"signer: key seed in %s is %d bytes, want %d", path, len(seed), ed25519.SeedSize,
		)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	log.I.F("signer: loaded software key from %s", path)
	return &Software{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// GenerateSoftware creates a fresh random key and writes it to path as
// PEM, for first-time strand bootstrap.
func GenerateSoftware(path string) (s *Software, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if chk.E(err) {
		return nil, errorf.E("signer: generate key: %w", err)
	}
	block := &pem.Block{Type: pemBlockType, Bytes: priv.Seed()}
	if err = os.WriteFile(path, pem.EncodeToMemory(block), 0o600); chk.E(err) {
		return nil, errorf.E("signer: write key file %s: %w", path, err)
	}
	log.I.F("signer: generated new software key at %s", path)
	return &Software{pub: pub, priv: priv}, nil
}

// PublicKey returns the ed25519 public key.
func (s *Software) PublicKey() []byte { return s.pub }

// Sign produces an ed25519 signature over data.
func (s *Software) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}
