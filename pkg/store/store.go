// Package store defines the persistence contract the assembler consumes and
// its implementations: a badger-backed persistent store and an in-memory
// store for tests. Every pulse and strand is content-addressed, so the
// store is, at heart, a CID-keyed blob table plus a per-strand pointer to
// the latest pulse.
package store

import (
	"context"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/errorf"
	"twine.dev/pkg/chain"
)

// ErrNotFound is returned when a requested strand, pulse, or latest
// pointer has no entry in the store.
var ErrNotFound = errorf.E("store: not found")

// Store is the narrow persistence contract the assembler and scheduler
// depend on. Implementations must make SaveStrand and SavePulse
// idempotent: saving the same content-addressed value twice is a no-op,
// not an error.
type Store interface {
	// SaveStrand persists a strand under its own identifier.
	SaveStrand(ctx context.Context, s *chain.Strand) error
	// LoadStrand fetches a previously saved strand by id, ErrNotFound if
	// absent.
	LoadStrand(ctx context.Context, id cid.Cid) (*chain.Strand, error)

	// SavePulse persists a pulse under its own identifier and, if it is
	// the newest index seen for its strand, advances the latest pointer.
	SavePulse(ctx context.Context, strandID cid.Cid, p *chain.Pulse) error
	// LoadPulse fetches a previously saved pulse by id, ErrNotFound if
	// absent.
	LoadPulse(ctx context.Context, id cid.Cid) (*chain.Pulse, error)

	// Latest returns the identifier of the newest pulse saved for
	// strandID, ErrNotFound if the strand has no pulses yet.
	Latest(ctx context.Context, strandID cid.Cid) (cid.Cid, uint64, error)

	// Close releases any resources held by the store.
	Close() error
}
