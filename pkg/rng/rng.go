// Package rng fetches fresh randomness from the configured RNG
// collaborator: an external command line that writes exactly 64 bytes to
// stdout and exits.
package rng

import (
	"bytes"
	"context"
	"os/exec"

	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
)

// Size is the fixed length of a randomness block, matching rng.dat.
const Size = 64

// ErrRng wraps a subprocess failure or a wrong-length read; it aborts
// only the current period's assembly attempt, retried next tick.
var ErrRng = errorf.E("rng: collaborator failed")

// Fetcher runs scriptLine (a shell command line) and returns its stdout,
// requiring exactly Size bytes.
type Fetcher struct {
	scriptLine string
}

// NewFetcher builds a Fetcher around the configured command line.
func NewFetcher(scriptLine string) *Fetcher {
	return &Fetcher{scriptLine: scriptLine}
}

// Fetch runs the configured command and returns its 64-byte output.
func (f *Fetcher) Fetch(ctx context.Context) (rand []byte, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", f.scriptLine)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err = cmd.Run(); chk.E(err) {
		log.W.F("rng: collaborator %q failed: %v: %s", f.scriptLine, err, stderr.String())
		return nil, errorf.E("%w: %v", ErrRng, err)
	}
	out := stdout.Bytes()
	if len(out) != Size {
		return nil, errorf.E("%w: got %d bytes, want %d", ErrRng, len(out), Size)
	}
	rand = make([]byte, Size)
	copy(rand, out)
	return rand, nil
}
