// Package codec implements the canonical payload encoding and the
// commit-reveal validation rules for a single pulse's randomness payload.
package codec

import (
	"time"

	"github.com/multiformats/go-multihash"
	"lol.mleku.dev/errorf"
)

// Payload is the randomness-carrying portion of a pulse: the revealed salt,
// the precommitment to the next pulse's randomness, and the pulse's
// period-aligned timestamp.
type Payload struct {
	Salt      []byte
	Pre       multihash.Multihash
	Timestamp time.Time
}

// Predecessor is the minimal view of a prior pulse that payload operations
// need. IDDigest is the raw hash digest of the predecessor's content
// address (not the full multihash/CID encoding) -- callers compute it
// once with chain.DigestOfCID and pass it in here so this package stays
// free of any dependency on the chain/store layers above it.
type Predecessor struct {
	IDDigest []byte
	Payload  Payload
}

// Errors returned by payload construction and validation, per the taxonomy
// in the payload codec's contract.
var (
	ErrSaltLengthMismatch    = errorf.E("codec: salt length mismatch")
	ErrSubsecondNonZero      = errorf.E("codec: timestamp has non-zero subseconds")
	ErrPrecommitmentMismatch = errorf.E("codec: precommitment mismatch")
	ErrTimestampRegresses    = errorf.E("codec: timestamp does not advance")
	ErrUnsupportedHash       = errorf.E("codec: unsupported hash algorithm")
)

// HashFunc digests an input under the strand's configured hash algorithm
// and returns the raw digest bytes (hash-size length, no multihash prefix).
type HashFunc func([]byte) ([]byte, error)

// NewStart builds the index-0 payload for a strand. The salt is a
// deterministic filler (0,1,2,...,n-1) of the hash size implied by pre;
// there is no predecessor to XOR against yet.
func NewStart(pre multihash.Multihash, nextBoundary time.Time) (p Payload, err error) {
	n, err := digestLen(pre)
	if err != nil {
		return
	}
	salt := make([]byte, n)
	for i := range salt {
		salt[i] = byte(i)
	}
	p = Payload{Salt: salt, Pre: pre, Timestamp: nextBoundary}
	return
}

// FromRand builds the payload for index >= 1 given the revealed rand block,
// the precommitment for the pulse after this one, and the predecessor
// pulse. hash digests the whole rand block; only its hash-size prefix
// enters the salt.
func FromRand(
	rand []byte, pre multihash.Multihash, predecessor Predecessor,
	period time.Duration, hash HashFunc,
) (p Payload, err error) {
	n, err := digestLen(pre)
	if err != nil {
		return
	}
	if len(rand) < n {
		err = ErrSaltLengthMismatch
		return
	}
	active := rand[:n]
	var gotPre []byte
	if gotPre, err = hash(rand); err != nil {
		return
	}
	predDigest, err := digest(predecessor.Payload.Pre)
	if err != nil {
		return
	}
	if !bytesEqual(gotPre, predDigest) {
		err = ErrPrecommitmentMismatch
		return
	}
	salt := xor(active, predecessor.IDDigest)
	ts := NextPulseTimestamp(predecessor.Payload.Timestamp, period)
	p = Payload{Salt: salt, Pre: pre, Timestamp: ts}
	return
}

// Validate re-derives rand from salt and the predecessor identifier digest,
// checks that H(rand) equals the predecessor's precommitment, and checks
// timestamp monotonicity and the subsecond/length invariants.
func Validate(p Payload, predecessor Predecessor, hash HashFunc) (err error) {
	n, err := digestLen(p.Pre)
	if err != nil {
		return
	}
	if len(p.Salt) != n || len(predecessor.IDDigest) != n {
		return ErrSaltLengthMismatch
	}
	if p.Timestamp.Nanosecond() != 0 {
		return ErrSubsecondNonZero
	}
	if !p.Timestamp.After(predecessor.Payload.Timestamp) {
		return ErrTimestampRegresses
	}
	rand := xor(p.Salt, predecessor.IDDigest)
	var gotPre []byte
	if gotPre, err = hash(rand); err != nil {
		return
	}
	predDigest, err := digest(predecessor.Payload.Pre)
	if err != nil {
		return
	}
	if !bytesEqual(gotPre, predDigest) {
		return ErrPrecommitmentMismatch
	}
	return nil
}

// ExtractRandomness returns the public random output of a validated pulse:
// the digest of its own identifier.
func ExtractRandomness(currentIDDigest []byte) []byte {
	out := make([]byte, len(currentIDDigest))
	copy(out, currentIDDigest)
	return out
}

// NextPulseTimestamp advances a timestamp by exactly one period, truncated
// to whole seconds.
func NextPulseTimestamp(prev time.Time, period time.Duration) time.Time {
	return prev.Add(period).Truncate(time.Second)
}

func digestLen(mh multihash.Multihash) (int, error) {
	dec, err := multihash.Decode(mh)
	if err != nil {
		return 0, errorf.E("%w: %v", ErrUnsupportedHash, err)
	}
	return dec.Length, nil
}

func digest(mh multihash.Multihash) ([]byte, error) {
	dec, err := multihash.Decode(mh)
	if err != nil {
		return nil, errorf.E("%w: %v", ErrUnsupportedHash, err)
	}
	return dec.Digest, nil
}

func xor(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
