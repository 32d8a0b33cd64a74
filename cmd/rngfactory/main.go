// rngfactory is a trivial RNG_SCRIPT-compatible binary: it writes 64
// cryptographically random bytes to stdout and exits. It exists so the
// beacon daemon has a real randomness source to shell out to without any
// further external dependency.
package main

import (
	"crypto/rand"
	"os"

	"lol.mleku.dev/chk"
	"twine.dev/pkg/rng"
)

func main() {
	buf := make([]byte, rng.Size)
	if _, err := rand.Read(buf); chk.E(err) {
		os.Exit(1)
	}
	if _, err := os.Stdout.Write(buf); chk.E(err) {
		os.Exit(1)
	}
}
