// Package scheduler implements the Scheduler Loop: the single cooperative
// worker that sleeps until the next deadline and drives the assembler
// through assembly or publication.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"
	"twine.dev/pkg/assembler"
	"twine.dev/pkg/chain"
	"twine.dev/pkg/notify"
	"twine.dev/pkg/rng"
	"twine.dev/pkg/xstitch"
)

// StitchConfig supplies the currently configured cross-stitch targets.
// It is read fresh on every assembly pass so a config reload takes
// effect without restarting the loop.
type StitchConfig func() []xstitch.StitchEntry

// Scheduler ties the assembler to its external collaborators: the RNG
// fetcher, the cross-stitch refresher, and the post-publish notifier.
type Scheduler struct {
	Assembler *assembler.Assembler
	RNG       *rng.Fetcher
	Notifier  *notify.Client
	Stitches  StitchConfig
	LeadTime  time.Duration
}

// Run drives the loop until ctx is cancelled. Each iteration performs
// exactly one assembly or one publication, per the current FSM phase.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		switch {
		case s.Assembler.NeedsAssembly():
			if err := s.runAssembly(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.W.F("scheduler: assembly attempt failed, retrying next tick: %v", err)
			}
		case s.Assembler.NeedsPublish():
			if err := s.runPublish(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, assembler.ErrRngFile) {
					log.E.F("scheduler: rng.dat write failed after a durable publish, cannot continue safely: %v", err)
					return err
				}
				log.W.F("scheduler: publish attempt failed, retrying next tick: %v", err)
			}
		default:
			log.E.F("scheduler: assembler in an unreachable state")
			return nil
		}
	}
}

func (s *Scheduler) runAssembly(ctx context.Context) error {
	budget := s.Assembler.NextStateIn(s.LeadTime + time.Second)
	refreshCtx, cancel := context.WithTimeout(ctx, budget)
	prev := s.Assembler.PreviousCrossStitches()
	xs := xstitch.Refresh(refreshCtx, toSet(prev), s.Stitches())
	cancel()

	if err := sleepFor(ctx, s.Assembler.NextStateIn(s.LeadTime)); chk.E(err) {
		return err
	}

	rand, err := s.RNG.Fetch(ctx)
	if chk.E(err) {
		return err
	}

	return s.Assembler.PrepareNext(ctx, rand, fromSet(xs))
}

func (s *Scheduler) runPublish(ctx context.Context) error {
	if err := sleepFor(ctx, s.Assembler.NextStateIn(s.LeadTime)); chk.E(err) {
		return err
	}
	pulse, err := s.Assembler.Publish(ctx)
	if chk.E(err) {
		return err
	}
	log.I.F("scheduler: published pulse index %d for strand %s", pulse.Index, pulse.StrandID)
	if err = s.Notifier.Sync(); err != nil {
		log.W.F("scheduler: post-publish notification failed: %v", err)
	}
	return nil
}

func sleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toSet(x chain.XStitches) xstitch.Set {
	// chain.XStitches is keyed by string form; xstitch.Set is keyed by
	// the parsed CID, which is what the refresher compares against its
	// configured strand identifiers.
	set := make(xstitch.Set, len(x))
	for k, v := range x {
		c, err := cid.Decode(k)
		if err != nil {
			continue
		}
		set[c] = v
	}
	return set
}

func fromSet(x xstitch.Set) chain.XStitches {
	out := make(chain.XStitches, len(x))
	for k, v := range x {
		out[k.String()] = v
	}
	return out
}
