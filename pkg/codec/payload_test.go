package codec

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
)

func sha256Hash(b []byte) ([]byte, error) {
	h := sha256.Sum256(b)
	return h[:], nil
}

func mustMH(t *testing.T, digest []byte) multihash.Multihash {
	t.Helper()
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		t.Fatalf("multihash.Encode: %v", err)
	}
	return mh
}

// The genesis payload has a deterministic 0,1,2,...,n-1 salt.
func TestNewStartSalt(t *testing.T) {
	randNext := make([]byte, 32)
	preDigest, _ := sha256Hash(randNext)
	pre := mustMH(t, preDigest)
	boundary := time.Unix(60, 0).UTC()

	p, err := NewStart(pre, boundary)
	if err != nil {
		t.Fatalf("NewStart: %v", err)
	}
	if len(p.Salt) != 32 {
		t.Fatalf("salt length = %d, want 32", len(p.Salt))
	}
	for i, b := range p.Salt {
		if b != byte(i) {
			t.Fatalf("salt[%d] = %d, want %d", i, b, i)
		}
	}
	if !p.Timestamp.Equal(boundary) {
		t.Fatalf("timestamp = %v, want %v", p.Timestamp, boundary)
	}
}

// A normal advance derives salt = rand XOR digest(predecessor id) and
// pre as the hash of the next reveal.
func TestFromRandNormalAdvance(t *testing.T) {
	r0 := make([]byte, 32)
	for i := range r0 {
		r0[i] = byte(i * 3)
	}
	predIDDigest := make([]byte, 32)
	for i := range predIDDigest {
		predIDDigest[i] = byte(255 - i)
	}
	pre0Digest, _ := sha256Hash(r0)
	pre0 := mustMH(t, pre0Digest)
	predTS := time.Unix(600, 0).UTC()
	predecessor := Predecessor{
		IDDigest: predIDDigest,
		Payload:  Payload{Pre: pre0, Timestamp: predTS},
	}

	r1 := make([]byte, 32)
	for i := range r1 {
		r1[i] = byte(i)
	}
	pre1Digest, _ := sha256Hash(r1)
	pre1 := mustMH(t, pre1Digest)

	period := 60 * time.Second
	p, err := FromRand(r0, pre1, predecessor, period, sha256Hash)
	if err != nil {
		t.Fatalf("FromRand: %v", err)
	}
	for i := range p.Salt {
		want := r0[i] ^ predIDDigest[i]
		if p.Salt[i] != want {
			t.Fatalf("salt[%d] = %d, want %d", i, p.Salt[i], want)
		}
	}
	wantTS := predTS.Add(period)
	if !p.Timestamp.Equal(wantTS) {
		t.Fatalf("timestamp = %v, want %v", p.Timestamp, wantTS)
	}

	// Validate should accept this payload against its predecessor.
	if err = Validate(p, Predecessor{IDDigest: predIDDigest, Payload: Payload{Pre: pre0, Timestamp: predTS}}, sha256Hash); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

// A mismatched reveal must fail validation with ErrPrecommitmentMismatch.
func TestFromRandMismatchedReveal(t *testing.T) {
	r0 := make([]byte, 32)
	predIDDigest := make([]byte, 32)
	pre0Digest, _ := sha256Hash(r0)
	pre0 := mustMH(t, pre0Digest)
	predecessor := Predecessor{
		IDDigest: predIDDigest,
		Payload:  Payload{Pre: pre0, Timestamp: time.Unix(600, 0).UTC()},
	}

	corrupted := make([]byte, 32)
	corrupted[0] = 1 // r0' != r0

	pre1Digest, _ := sha256Hash(make([]byte, 32))
	pre1 := mustMH(t, pre1Digest)

	_, err := FromRand(corrupted, pre1, predecessor, time.Minute, sha256Hash)
	if err != ErrPrecommitmentMismatch {
		t.Fatalf("err = %v, want ErrPrecommitmentMismatch", err)
	}
}

func TestExtractRandomnessCopiesDigest(t *testing.T) {
	idDigest := make([]byte, 32)
	for i := range idDigest {
		idDigest[i] = byte(i * 7)
	}
	out := ExtractRandomness(idDigest)
	if len(out) != len(idDigest) {
		t.Fatalf("len = %d, want %d", len(out), len(idDigest))
	}
	out[0] ^= 0xff
	if idDigest[0] == out[0] {
		t.Fatalf("ExtractRandomness must return an independent copy")
	}
}

func TestValidateRejectsSubsecond(t *testing.T) {
	predIDDigest := make([]byte, 32)
	pre0Digest, _ := sha256Hash(make([]byte, 32))
	pre0 := mustMH(t, pre0Digest)
	predecessor := Predecessor{
		IDDigest: predIDDigest,
		Payload:  Payload{Pre: pre0, Timestamp: time.Unix(600, 0).UTC()},
	}
	p := Payload{
		Salt:      make([]byte, 32),
		Pre:       pre0,
		Timestamp: time.Unix(660, 500).UTC(),
	}
	if err := Validate(p, predecessor, sha256Hash); err != ErrSubsecondNonZero {
		t.Fatalf("err = %v, want ErrSubsecondNonZero", err)
	}
}

func TestValidateRejectsTimestampRegression(t *testing.T) {
	predIDDigest := make([]byte, 32)
	pre0Digest, _ := sha256Hash(make([]byte, 32))
	pre0 := mustMH(t, pre0Digest)
	predecessor := Predecessor{
		IDDigest: predIDDigest,
		Payload:  Payload{Pre: pre0, Timestamp: time.Unix(600, 0).UTC()},
	}
	p := Payload{
		Salt:      make([]byte, 32),
		Pre:       pre0,
		Timestamp: time.Unix(600, 0).UTC(), // not strictly after
	}
	if err := Validate(p, predecessor, sha256Hash); err != ErrTimestampRegresses {
		t.Fatalf("err = %v, want ErrTimestampRegresses", err)
	}
}
