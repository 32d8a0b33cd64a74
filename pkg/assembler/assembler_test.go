package assembler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
	"twine.dev/pkg/chain"
	"twine.dev/pkg/codec"
	"twine.dev/pkg/store"
)

type testSigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func (s *testSigner) PublicKey() []byte { return s.pub }
func (s *testSigner) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, data), nil
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &testSigner{pub: pub, priv: priv}
}

func newTestAssembler(t *testing.T, signer *testSigner) (*Assembler, *chain.Strand, string) {
	t.Helper()
	strand := &chain.Strand{PublicKey: signer.PublicKey(), PeriodSeconds: 60, HashAlgo: multihash.SHA2_256}
	st := store.NewMemory()
	dir := t.TempDir()
	a, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err = a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a, strand, dir
}

// Genesis: the first pulse on an empty strand.
func TestGenesisPulse(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	a, strand, dir := newTestAssembler(t, signer)

	if !a.NeedsAssembly() {
		t.Fatalf("expected NeedsAssembly on a fresh strand")
	}

	randNext := make([]byte, rngFileSize)
	if err := a.PrepareNext(ctx, randNext, nil); err != nil {
		t.Fatalf("PrepareNext: %v", err)
	}
	pulse, ok := a.Prepared()
	if !ok {
		t.Fatalf("expected a prepared pulse")
	}
	if pulse.Index != 0 {
		t.Fatalf("index = %d, want 0", pulse.Index)
	}
	wantSalt := make([]byte, 32)
	for i := range wantSalt {
		wantSalt[i] = byte(i)
	}
	if !bytes.Equal(pulse.Payload.Salt, wantSalt) {
		t.Fatalf("salt = %x, want %x", pulse.Payload.Salt, wantSalt)
	}
	wantPreDigest, _ := strand.Hash(randNext)
	gotPreDigest, _ := multihash.Decode(pulse.Payload.Pre)
	if !bytes.Equal(gotPreDigest.Digest, wantPreDigest) {
		t.Fatalf("pre digest mismatch")
	}

	if _, err := a.Publish(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	onDisk, err := readRNG(dir)
	if err != nil {
		t.Fatalf("readRNG: %v", err)
	}
	if !bytes.Equal(onDisk, randNext) {
		t.Fatalf("rng.dat does not match published rand")
	}
}

// A normal advance from one released pulse to the next.
func TestNormalAdvance(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	a, _, dir := newTestAssembler(t, signer)

	r0 := make([]byte, rngFileSize)
	if err := a.PrepareNext(ctx, r0, nil); err != nil {
		t.Fatalf("PrepareNext(r0): %v", err)
	}
	p0, _ := a.Prepared()
	if _, err := a.Publish(ctx); err != nil {
		t.Fatalf("Publish(p0): %v", err)
	}

	r1 := make([]byte, rngFileSize)
	r1[0] = 1
	if err := a.PrepareNext(ctx, r1, nil); err != nil {
		t.Fatalf("PrepareNext(r1): %v", err)
	}
	p1, ok := a.Prepared()
	if !ok {
		t.Fatalf("expected a prepared pulse")
	}
	if p1.Index != p0.Index+1 {
		t.Fatalf("index = %d, want %d", p1.Index, p0.Index+1)
	}
	if !p1.Payload.Timestamp.Equal(p0.Payload.Timestamp.Add(60 * time.Second)) {
		t.Fatalf("timestamp did not advance by exactly one period")
	}

	if _, err := a.Publish(ctx); err != nil {
		t.Fatalf("Publish(p1): %v", err)
	}
	onDisk, err := readRNG(dir)
	if err != nil {
		t.Fatalf("readRNG: %v", err)
	}
	if !bytes.Equal(onDisk, r1) {
		t.Fatalf("rng.dat does not match the second published rand")
	}
}

// Mismatched reveal: rng.dat is corrupted after a publish, so the
// restarted assembler's reveal material no longer hashes to the latest
// pulse's precommitment.
func TestMismatchedRevealLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	strand := &chain.Strand{PublicKey: signer.PublicKey(), PeriodSeconds: 60, HashAlgo: multihash.SHA2_256}
	st := store.NewMemory()
	dir := t.TempDir()

	a1, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err = a1.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r0 := make([]byte, rngFileSize)
	if err = a1.PrepareNext(ctx, r0, nil); err != nil {
		t.Fatalf("PrepareNext(r0): %v", err)
	}
	if _, err = a1.Publish(ctx); err != nil {
		t.Fatalf("Publish(p0): %v", err)
	}

	corrupt := make([]byte, rngFileSize)
	corrupt[0] = 0xff // does not hash to p0's precommitment
	if err = os.WriteFile(filepath.Join(dir, "rng.dat"), corrupt, 0o600); err != nil {
		t.Fatalf("corrupt rng.dat: %v", err)
	}

	a2, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	if err = a2.Init(ctx); err != nil {
		t.Fatalf("Init (restart): %v", err)
	}

	r1 := make([]byte, rngFileSize)
	err = a2.PrepareNext(ctx, r1, nil)
	if !errors.Is(err, codec.ErrPrecommitmentMismatch) {
		t.Fatalf("err = %v, want ErrPrecommitmentMismatch", err)
	}
	if !a2.NeedsAssembly() || a2.NeedsPublish() {
		t.Fatalf("state must be unchanged after a failed PrepareNext")
	}
}

// A write-at-publish failure on rng.dat happens after the pulse is
// already durable in the store, so it must be raised rather than
// silently retried. errors.Is against
// ErrRngFile is how callers (the scheduler) distinguish this from an
// ordinary, retryable store error.
func TestPublishRngWriteFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	strand := &chain.Strand{PublicKey: signer.PublicKey(), PeriodSeconds: 60, HashAlgo: multihash.SHA2_256}
	st := store.NewMemory()

	// A regular file in place of the rng directory makes os.MkdirAll (and
	// so writeRNG) fail without needing filesystem permission tricks.
	dir := filepath.Join(t.TempDir(), "rng")
	if err := os.WriteFile(dir, []byte("not a directory"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err = a.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	randNext := make([]byte, rngFileSize)
	if err = a.PrepareNext(ctx, randNext, nil); err != nil {
		t.Fatalf("PrepareNext: %v", err)
	}

	_, err = a.Publish(ctx)
	if err == nil {
		t.Fatalf("expected a fatal error when rng.dat cannot be written")
	}
	if !errors.Is(err, ErrRngFile) {
		t.Fatalf("err = %v, want it to wrap ErrRngFile", err)
	}
	// The pulse is already durable in the store even though rng.dat
	// never landed.
	if _, _, latestErr := st.Latest(ctx, a.StrandID()); latestErr != nil {
		t.Fatalf("expected the pulse to be durable despite the rng.dat failure: %v", latestErr)
	}
}

// Restart mid-prepared: a prepared-but-unpublished pulse is garbage
// after a crash; the restart re-prepares from fresh randomness.
func TestRestartMidPrepared(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	strand := &chain.Strand{PublicKey: signer.PublicKey(), PeriodSeconds: 60, HashAlgo: multihash.SHA2_256}
	st := store.NewMemory()
	dir := filepath.Join(t.TempDir(), "rng")

	a1, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err = a1.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r0 := make([]byte, rngFileSize)
	if err = a1.PrepareNext(ctx, r0, nil); err != nil {
		t.Fatalf("PrepareNext(r0): %v", err)
	}
	if _, err = a1.Publish(ctx); err != nil {
		t.Fatalf("Publish(p0): %v", err)
	}

	r1 := make([]byte, rngFileSize)
	r1[0] = 1
	if err = a1.PrepareNext(ctx, r1, nil); err != nil {
		t.Fatalf("PrepareNext(r1): %v", err)
	}
	// Crash here: a1 is discarded without ever calling Publish on p1.

	a2, err := New(signer, strand, st, dir)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	if err = a2.Init(ctx); err != nil {
		t.Fatalf("Init (restart): %v", err)
	}
	if !a2.NeedsAssembly() {
		t.Fatalf("restarted assembler should need assembly, not publish")
	}
	p0, ok := func() (*chain.Pulse, bool) {
		id, _, err := st.Latest(ctx, a2.StrandID())
		if err != nil {
			return nil, false
		}
		p, err := st.LoadPulse(ctx, id)
		return p, err == nil
	}()
	if !ok || p0.Index != 0 {
		t.Fatalf("restarted assembler's latest should be the durable genesis pulse")
	}

	r1Prime := make([]byte, rngFileSize)
	r1Prime[0] = 2
	if err = a2.PrepareNext(ctx, r1Prime, nil); err != nil {
		t.Fatalf("PrepareNext(r1'): %v", err)
	}
	p1Prime, _ := a2.Prepared()
	wantPreDigest, _ := strand.Hash(r1Prime)
	gotPreDigest, _ := multihash.Decode(p1Prime.Payload.Pre)
	if !bytes.Equal(gotPreDigest.Digest, wantPreDigest) {
		t.Fatalf("re-prepared pulse's pre does not derive from the new rand")
	}
}
