package chain

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
	"twine.dev/pkg/codec"
)

type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newEd25519Signer(t *testing.T) *ed25519Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	return &ed25519Signer{pub: pub, priv: priv}
}

func (s *ed25519Signer) PublicKey() []byte { return s.pub }
func (s *ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

func TestBuildFirstRoundTrip(t *testing.T) {
	signer := newEd25519Signer(t)
	strand := &Strand{
		PublicKey:     signer.PublicKey(),
		PeriodSeconds: 60,
		HashAlgo:      multihash.SHA2_256,
	}
	strandID, err := strand.ID()
	if err != nil {
		t.Fatalf("strand.ID: %v", err)
	}

	randNext := make([]byte, 32)
	preDigest, _ := strand.Hash(randNext)
	pre, err := multihash.Sum(preDigest, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	payload, err := codec.NewStart(pre, time.Unix(60, 0).UTC())
	if err != nil {
		t.Fatalf("NewStart: %v", err)
	}

	pulse, err := BuildFirst(strandID, payload, nil, signer)
	if err != nil {
		t.Fatalf("BuildFirst: %v", err)
	}
	if pulse.Index != 0 {
		t.Fatalf("index = %d, want 0", pulse.Index)
	}
	if pulse.Predecessor != nil {
		t.Fatalf("predecessor should be nil at index 0")
	}

	body, err := pulse.EncodeBody()
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	if !ed25519.Verify(signer.pub, body, pulse.Signature) {
		t.Fatalf("signature does not verify")
	}

	// Round-trip: decode(encode(pulse)) == pulse, identifier(pulse) == H(encode(pulse)).
	enc, err := pulse.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	reenc, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(reenc) != string(enc) {
		t.Fatalf("decode(encode(pulse)) did not round-trip")
	}

	id, err := pulse.Identifier(multihash.SHA2_256)
	if err != nil {
		t.Fatalf("Identifier: %v", err)
	}
	wantDigest, _ := strand.Hash(enc)
	gotDigest, err := DigestOfCID(id)
	if err != nil {
		t.Fatalf("DigestOfCID: %v", err)
	}
	if string(gotDigest) != string(wantDigest) {
		t.Fatalf("identifier digest mismatch")
	}
}

func TestBuildNextChainContiguity(t *testing.T) {
	signer := newEd25519Signer(t)
	strand := &Strand{
		PublicKey:     signer.PublicKey(),
		PeriodSeconds: 60,
		HashAlgo:      multihash.SHA2_256,
	}
	strandID, _ := strand.ID()

	r0 := make([]byte, 32)
	pre0Digest, _ := strand.Hash(r0)
	pre0, _ := multihash.Encode(pre0Digest, multihash.SHA2_256)
	payload0, _ := codec.NewStart(pre0, time.Unix(60, 0).UTC())
	p0, err := BuildFirst(strandID, payload0, nil, signer)
	if err != nil {
		t.Fatalf("BuildFirst: %v", err)
	}
	p0ID, err := p0.Identifier(strand.HashAlgo)
	if err != nil {
		t.Fatalf("Identifier: %v", err)
	}
	p0IDDigest, _ := DigestOfCID(p0ID)

	r1 := make([]byte, 32)
	r1[0] = 1
	pre1Digest, _ := strand.Hash(r1)
	pre1, _ := multihash.Encode(pre1Digest, multihash.SHA2_256)
	predecessor := codec.Predecessor{IDDigest: p0IDDigest, Payload: p0.Payload}
	payload1, err := codec.FromRand(r0, pre1, predecessor, strand.Period(), strand.Hash)
	if err != nil {
		t.Fatalf("FromRand: %v", err)
	}

	p1, err := BuildNext(strandID, p0ID, p0.Index, payload1, nil, signer)
	if err != nil {
		t.Fatalf("BuildNext: %v", err)
	}
	if p1.Index != p0.Index+1 {
		t.Fatalf("index = %d, want %d", p1.Index, p0.Index+1)
	}
	if p1.Predecessor == nil || !p1.Predecessor.Equals(p0ID) {
		t.Fatalf("predecessor mismatch")
	}
	if !p1.Payload.Timestamp.After(p0.Payload.Timestamp) {
		t.Fatalf("timestamp does not advance")
	}
}
