// Package xstitch implements the cross-stitch set and the Cross-Stitch
// Refresher: resolving the latest pulses of foreign strands under a
// bounded time budget without ever blocking a scheduled publication.
package xstitch

import (
	"context"
	"sort"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/log"
)

// Set maps a foreign strand identifier to the identifier of its latest
// observed pulse. At most one entry per foreign strand.
type Set map[cid.Cid]cid.Cid

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SortedKeys returns the foreign strand ids in deterministic order, for
// logging.
func (s Set) SortedKeys() []cid.Cid {
	keys := make([]cid.Cid, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Resolver resolves the latest known pulse identifier for a foreign
// strand. Implementations are external collaborators (HTTP clients against
// another strand's query endpoint); the refresher only depends on this
// narrow contract.
type Resolver interface {
	URL() string
	ResolveLatest(ctx context.Context, strand cid.Cid) (cid.Cid, error)
}

// ResolverSet is a deduplicated-by-URL collection of resolvers, queried in
// order until one answers for a given strand.
type ResolverSet struct {
	byURL   map[string]Resolver
	ordered []Resolver
}

// NewResolverSet builds a resolver set, keeping only the first resolver
// seen for each distinct URL.
func NewResolverSet(resolvers ...Resolver) *ResolverSet {
	rs := &ResolverSet{byURL: make(map[string]Resolver)}
	for _, r := range resolvers {
		if r == nil {
			continue
		}
		if _, seen := rs.byURL[r.URL()]; seen {
			continue
		}
		rs.byURL[r.URL()] = r
		rs.ordered = append(rs.ordered, r)
	}
	return rs
}

// ByURL returns the canonical resolver instance for url, or nil if no
// resolver in the set reports that URL.
func (rs *ResolverSet) ByURL(url string) Resolver {
	if rs == nil {
		return nil
	}
	return rs.byURL[url]
}

// resolveAny tries each resolver able to serve this host in order until one
// succeeds; only total failure is surfaced.
func (rs *ResolverSet) resolveAny(ctx context.Context, candidates []Resolver, strand cid.Cid) (cid.Cid, error) {
	var lastErr error
	for _, r := range candidates {
		id, err := r.ResolveLatest(ctx, strand)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoResolvers
	}
	return cid.Undef, lastErr
}

var errNoResolvers = &resolverError{"xstitch: no resolver available"}

type resolverError struct{ msg string }

func (e *resolverError) Error() string { return e.msg }

// StitchEntry is one configured cross-stitch target: the foreign strand to
// watch, the resolver that serves it, and whether refresh is paused.
type StitchEntry struct {
	Strand   cid.Cid
	Resolver Resolver
	Stop     bool
}

// Refresh produces the next cross-stitch set from the previous one:
// entries no longer configured are retained unchanged; configured, non-stop
// strands are refreshed against their resolver(s) (tried in configured
// order until one answers), falling back to the prior value when all
// resolvers for that strand fail; the whole operation is abandoned in
// favor of prev, verbatim, if ctx is done before it completes.
func Refresh(ctx context.Context, prev Set, configured []StitchEntry) Set {
	byStrand := make(map[cid.Cid][]Resolver)
	stopped := make(map[cid.Cid]bool)
	var order []cid.Cid
	for _, e := range configured {
		if _, seen := byStrand[e.Strand]; !seen {
			order = append(order, e.Strand)
		}
		if e.Stop {
			stopped[e.Strand] = true
			continue
		}
		if e.Resolver != nil {
			byStrand[e.Strand] = append(byStrand[e.Strand], e.Resolver)
		}
	}
	configuredIDs := make(map[cid.Cid]struct{}, len(order))
	for _, s := range order {
		configuredIDs[s] = struct{}{}
	}
	for s := range prev {
		if _, stillConfigured := configuredIDs[s]; !stillConfigured {
			log.I.F("xstitch: will not refresh %s: no longer configured", s)
		}
	}

	var allResolvers []Resolver
	for _, resolvers := range byStrand {
		allResolvers = append(allResolvers, resolvers...)
	}
	rs := NewResolverSet(allResolvers...)

	done := make(chan Set, 1)
	go func() {
		result := prev.Clone()
		for _, strand := range order {
			if stopped[strand] {
				continue
			}
			resolvers := byStrand[strand]
			if len(resolvers) == 0 {
				continue
			}
			latest, err := rs.resolveAny(ctx, resolvers, strand)
			if err != nil {
				log.W.F("xstitch: failed to refresh %s: %v", strand, err)
				continue
			}
			result[strand] = latest
		}
		done <- result
	}()

	select {
	case <-ctx.Done():
		log.W.F("Timed out refreshing stitches for strand")
		return prev.Clone()
	case result := <-done:
		return result
	}
}
