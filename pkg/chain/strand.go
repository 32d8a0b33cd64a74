// Package chain implements the Strand/Pulse data model, their canonical
// content-addressable encoding, and the Chain Builder that assembles and
// signs new pulses.
package chain

import (
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"lol.mleku.dev/errorf"
)

// dagCBORCodec is the CID multicodec tag used for every strand and pulse;
// it only labels the encoding family for readers, the content address
// itself is the multihash of the canonical bytes.
const dagCBORCodec = 0x71

// Strand is the chain's identity: a public key, the period between
// pulses, the hash algorithm every pulse on the strand uses, an optional
// subspec tag, and free-form application details. Immutable once created.
type Strand struct {
	PublicKey     []byte         `cbor:"1,keyasint" json:"publicKey"`
	PeriodSeconds int64          `cbor:"2,keyasint" json:"periodSeconds"`
	HashAlgo      uint64         `cbor:"3,keyasint" json:"hashAlgo"`
	Subspec       string         `cbor:"4,keyasint,omitempty" json:"subspec,omitempty"`
	Details       map[string]any `cbor:"5,keyasint,omitempty" json:"details,omitempty"`
}

// Period returns the strand's pulse period as a time.Duration.
func (s *Strand) Period() time.Duration {
	return time.Duration(s.PeriodSeconds) * time.Second
}

// CanonicalEncode returns the deterministic encoding used to derive the
// strand's identifier.
func (s *Strand) CanonicalEncode() ([]byte, error) {
	return marshalCanonical(s)
}

// ID returns the strand's content address: the multihash of its canonical
// encoding, under its own declared hash algorithm, wrapped as a CID.
func (s *Strand) ID() (cid.Cid, error) {
	b, err := s.CanonicalEncode()
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Sum(b, s.HashAlgo, -1)
	if err != nil {
		return cid.Undef, errorf.E("chain: strand hash: %w", err)
	}
	return cid.NewCidV1(dagCBORCodec, mh), nil
}

// HashSize returns the digest length, in bytes, of the strand's hash
// algorithm.
func (s *Strand) HashSize() (int, error) {
	h, err := multihash.GetHasher(s.HashAlgo)
	if err != nil {
		return 0, errorf.E("chain: unsupported hash algorithm %d: %w", s.HashAlgo, err)
	}
	return h.Size(), nil
}

// Hash digests data under the strand's hash algorithm and returns the raw
// digest bytes (no multihash framing).
func (s *Strand) Hash(data []byte) ([]byte, error) {
	h, err := multihash.GetHasher(s.HashAlgo)
	if err != nil {
		return nil, errorf.E("chain: unsupported hash algorithm %d: %w", s.HashAlgo, err)
	}
	h.Reset()
	if _, err = h.Write(data); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// HashMultihash digests data under the strand's hash algorithm and returns
// the result wrapped as a multihash, suitable for use as a payload's `pre`.
func (s *Strand) HashMultihash(data []byte) (multihash.Multihash, error) {
	return multihash.Sum(data, s.HashAlgo, -1)
}

// DecodeStrand reconstructs a Strand from its canonical encoding.
func DecodeStrand(b []byte) (s *Strand, err error) {
	s = &Strand{}
	if err = unmarshalCanonical(b, s); err != nil {
		return nil, errorf.E("chain: decode strand: %w", err)
	}
	return s, nil
}

// DigestOfCID extracts the raw hash digest bytes from a content address,
// stripping its multihash/CID framing.
func DigestOfCID(c cid.Cid) ([]byte, error) {
	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return nil, errorf.E("chain: decode cid hash: %w", err)
	}
	return dec.Digest, nil
}
