// Package assembler implements the Pulse Assembler: the stateful engine
// that runs the two-phase prepare-then-publish protocol over a persisted
// chain, across process restarts.
package assembler

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"twine.dev/pkg/chain"
	"twine.dev/pkg/codec"
	"twine.dev/pkg/store"
	"twine.dev/pkg/timing"
)

// Errors surfaced by the FSM's own precondition checks. Everything else
// (payload validation, build, store, I/O) is propagated as produced by
// the collaborator that raised it.
var (
	ErrNotInitialized = errorf.E("assembler: init has not been called")
	ErrNeedsAssembly  = errorf.E("assembler: PrepareNext called outside BeginStrand/Released")
	ErrNeedsPublish   = errorf.E("assembler: Publish called outside Prepared")
)

// Assembler is the pulse assembly state machine. It owns exactly one
// state value at a time, protected by mu; every mutator (Init,
// PrepareNext, Publish) takes the lock for its entire duration, and
// every reader takes it briefly to return a snapshot.
type Assembler struct {
	mu sync.Mutex

	signer   chain.Signer
	strand   *chain.Strand
	strandID cid.Cid
	store    store.Store
	rngDir   string
	period   time.Duration

	initialized bool
	state       state
}

// New constructs an assembler. Init must be called once before any other
// method is legal.
func New(signer chain.Signer, strand *chain.Strand, st store.Store, rngDir string) (a *Assembler, err error) {
	strandID, err := strand.ID()
	if chk.E(err) {
		return nil, errorf.E("assembler: strand id: %w", err)
	}
	return &Assembler{
		signer:   signer,
		strand:   strand,
		strandID: strandID,
		store:    st,
		rngDir:   rngDir,
		period:   strand.Period(),
	}, nil
}

// StrandID returns the identifier of the strand this assembler drives.
func (a *Assembler) StrandID() cid.Cid { return a.strandID }

// Init loads the assembler's starting state from the store and rng.dat.
// Calling it twice without any intervening mutation is a no-op.
func (a *Assembler) Init(ctx context.Context) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	latestID, _, err := a.store.Latest(ctx, a.strandID)
	if err == store.ErrNotFound {
		a.state = beginStrand{}
		a.initialized = true
		return nil
	}
	if chk.E(err) {
		return errorf.E("assembler: init: resolve latest: %w", err)
	}

	latest, err := a.store.LoadPulse(ctx, latestID)
	if chk.E(err) {
		return errorf.E("assembler: init: load latest pulse: %w", err)
	}

	randCurrent, err := readRNG(a.rngDir)
	if chk.E(err) {
		return err
	}

	a.state = released{randCurrent: randCurrent, latest: latest, latestID: latestID}
	a.initialized = true
	return nil
}

// NeedsAssembly reports whether PrepareNext is the legal next mutator.
func (a *Assembler) NeedsAssembly() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state.(type) {
	case beginStrand, released:
		return true
	default:
		return false
	}
}

// NeedsPublish reports whether Publish is the legal next mutator.
func (a *Assembler) NeedsPublish() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.state.(prepared)
	return ok
}

// NextStateIn returns how long to wait before the next action is due,
// clamped to zero if it has already arrived.
func (a *Assembler) NextStateIn(leadTime time.Duration) time.Duration {
	a.mu.Lock()
	st := a.state
	period := a.period
	a.mu.Unlock()

	now := time.Now().UTC()
	var d time.Duration
	switch s := st.(type) {
	case beginStrand:
		d = timing.LeadDeadline(timing.NextBoundary(now, period), leadTime).Sub(now)
	case prepared:
		d = s.pulse.Payload.Timestamp.Sub(now)
	case released:
		d = timing.LeadDeadline(timing.NextPulseTimestamp(s.latest.Payload.Timestamp, period), leadTime).Sub(now)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// PreviousCrossStitches returns the cross-stitch set carried by the most
// recently known pulse, or an empty set before any pulse exists.
func (a *Assembler) PreviousCrossStitches() chain.XStitches {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch s := a.state.(type) {
	case prepared:
		return s.pulse.XStitches
	case released:
		return s.latest.XStitches
	default:
		return nil
	}
}

// Prepared returns the in-memory pulse awaiting publication, if any.
func (a *Assembler) Prepared() (pulse *chain.Pulse, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.state.(prepared)
	if !ok {
		return nil, false
	}
	return p.pulse, true
}

// PrepareNext assembles and signs the next pulse using randNext as its
// reveal material. Legal only when NeedsAssembly(); on any failure the
// state is left exactly as it was.
func (a *Assembler) PrepareNext(ctx context.Context, randNext []byte, xstitches chain.XStitches) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}

	switch s := a.state.(type) {
	case beginStrand:
		pre, perr := a.strand.HashMultihash(randNext)
		if chk.E(perr) {
			return errorf.E("assembler: prepare: %w", perr)
		}
		if err = a.store.SaveStrand(ctx, a.strand); chk.E(err) {
			return errorf.E("assembler: prepare: persist strand: %w", err)
		}
		boundary := timing.NextBoundary(time.Now().UTC(), a.period)
		payload, perr := codec.NewStart(pre, boundary)
		if chk.E(perr) {
			return errorf.E("assembler: prepare: %w", perr)
		}
		pulse, berr := chain.BuildFirst(a.strandID, payload, xstitches, a.signer)
		if chk.E(berr) {
			return errorf.E("%w: %v", chain.ErrBuild, berr)
		}
		a.state = prepared{rand: randNext, pulse: pulse}
		return nil

	case released:
		pre, perr := a.strand.HashMultihash(randNext)
		if chk.E(perr) {
			return errorf.E("assembler: prepare: %w", perr)
		}
		predDigest, derr := chain.DigestOfCID(s.latestID)
		if chk.E(derr) {
			return errorf.E("assembler: prepare: %w", derr)
		}
		predecessor := codec.Predecessor{IDDigest: predDigest, Payload: s.latest.Payload}
		payload, perr := codec.FromRand(s.randCurrent, pre, predecessor, a.period, a.strand.Hash)
		if chk.E(perr) {
			return perr
		}
		pulse, berr := chain.BuildNext(a.strandID, s.latestID, s.latest.Index, payload, xstitches, a.signer)
		if chk.E(berr) {
			return errorf.E("%w: %v", chain.ErrBuild, berr)
		}
		a.state = prepared{rand: randNext, pulse: pulse}
		return nil

	default:
		return ErrNeedsAssembly
	}
}

// Publish makes the prepared pulse durable and advances to Released.
// Legal only when NeedsPublish().
func (a *Assembler) Publish(ctx context.Context) (pulse *chain.Pulse, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil, ErrNotInitialized
	}
	p, ok := a.state.(prepared)
	if !ok {
		return nil, ErrNeedsPublish
	}

	latestID, err := p.pulse.Identifier(a.strand.HashAlgo)
	if chk.E(err) {
		return nil, errorf.E("assembler: publish: identifier: %w", err)
	}

	if err = a.store.SavePulse(ctx, a.strandID, p.pulse); chk.E(err) {
		// State unchanged: the caller retries next tick.
		return nil, errorf.E("assembler: publish: save pulse: %w", err)
	}

	if err = writeRNG(a.rngDir, p.rand); chk.E(err) {
		// The pulse is durable but rng.dat never landed. Per the design
		// this is fatal: the operator must reconcile rather than have
		// the assembler silently re-prepare from a guess.
		return nil, errorf.E("assembler: publish: pulse %d is durable but rng.dat write failed: %w", p.pulse.Index, err)
	}

	a.state = released{randCurrent: p.rand, latest: p.pulse, latestID: latestID}
	return p.pulse, nil
}
