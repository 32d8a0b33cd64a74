package assembler

import (
	"github.com/ipfs/go-cid"
	"twine.dev/pkg/chain"
)

// state is the tagged union of the three lifecycle phases the assembler
// can be in. Only this package constructs variants; callers observe the
// phase through the assembler's predicate methods.
type state interface{ isAssemblyState() }

// beginStrand is the state before any pulse has ever been stored: no
// predecessor, no reveal material.
type beginStrand struct{}

func (beginStrand) isAssemblyState() {}

// prepared holds a signed pulse that has not yet been made durable. The
// reveal material for it (rand) is held only in memory until publish.
type prepared struct {
	rand  []byte
	pulse *chain.Pulse
}

func (prepared) isAssemblyState() {}

// released is the steady state after a successful publish: the latest
// durable pulse, and the reveal material the *next* pulse will disclose,
// persisted to rng.dat.
type released struct {
	randCurrent []byte
	latest      *chain.Pulse
	latestID    cid.Cid
}

func (released) isAssemblyState() {}
