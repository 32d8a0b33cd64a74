package assembler

import (
	"os"
	"path/filepath"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
)

// rngFileSize is the fixed on-disk size of rng.dat. It is at least as
// wide as any hash size the strand model supports (sha2-512's 64 bytes).
// The precommitment hashes the whole block; only its leading
// hash_size(strand) bytes enter the salt (see pkg/codec).
const rngFileSize = 64

// ErrRngFile wraps any I/O failure reading or writing rng.dat. Both
// directions are fatal: a short/garbled read at init means the on-disk
// state cannot be trusted, and a failed write at publish leaves a
// durable pulse whose reveal material never landed.
var ErrRngFile = errorf.E("assembler: rng.dat error")

func rngPath(dir string) string { return filepath.Join(dir, "rng.dat") }

func readRNG(dir string) (rand []byte, err error) {
	path := rngPath(dir)
	rand, err = os.ReadFile(path)
	if chk.E(err) {
		return nil, errorf.E("%w: read %s: %v", ErrRngFile, path, err)
	}
	if len(rand) != rngFileSize {
		return nil, errorf.E(
			"%w: %s is %d bytes, want %d", ErrRngFile, path, len(rand), rngFileSize,
		)
	}
	return rand, nil
}

// writeRNG overwrites rng.dat atomically: write to a sibling temp file,
// fsync, then rename over the target. A crash mid-write leaves the prior
// rng.dat intact rather than a half-written file.
func writeRNG(dir string, rand []byte) (err error) {
	if len(rand) != rngFileSize {
		return errorf.E("%w: refusing to write %d bytes, want %d", ErrRngFile, len(rand), rngFileSize)
	}
	if err = os.MkdirAll(dir, 0o755); chk.E(err) {
		return errorf.E("%w: create dir %s: %v", ErrRngFile, dir, err)
	}
	path := rngPath(dir)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if chk.E(err) {
		return errorf.E("%w: open temp file: %v", ErrRngFile, err)
	}
	if _, err = f.Write(rand); chk.E(err) {
		f.Close()
		return errorf.E("%w: write temp file: %v", ErrRngFile, err)
	}
	if err = f.Sync(); chk.E(err) {
		f.Close()
		return errorf.E("%w: sync temp file: %v", ErrRngFile, err)
	}
	if err = f.Close(); chk.E(err) {
		return errorf.E("%w: close temp file: %v", ErrRngFile, err)
	}
	if err = os.Rename(tmp, path); chk.E(err) {
		return errorf.E("%w: rename into place: %v", ErrRngFile, err)
	}
	return nil
}
