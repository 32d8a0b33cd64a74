package xstitch

import (
	"os"

	"github.com/ipfs/go-cid"
	"gopkg.in/yaml.v3"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
)

// stitchConfigEntry is the YAML shape of one configured stitch target.
type stitchConfigEntry struct {
	Strand   string `yaml:"strand"`
	Resolver string `yaml:"resolver"`
	Stop     bool   `yaml:"stop"`
}

type stitchConfigFile struct {
	Stitches []stitchConfigEntry `yaml:"stitches"`
}

// ResolverFactory builds a Resolver for a configured URL, typically an
// HTTP client against that host's query endpoint.
type ResolverFactory func(url string) Resolver

// LoadConfig reads a YAML stitch config from path and builds the
// StitchEntry list Refresh expects, resolving each entry's URL through
// newResolver.
func LoadConfig(path string, newResolver ResolverFactory) (entries []StitchEntry, err error) {
	raw, err := os.ReadFile(path)
	if chk.E(err) {
		return nil, errorf.E("xstitch: read config %s: %w", path, err)
	}
	var doc stitchConfigFile
	if err = yaml.Unmarshal(raw, &doc); chk.E(err) {
		return nil, errorf.E("xstitch: parse config %s: %w", path, err)
	}

	// Build one resolver per distinct configured URL, then run them through
	// NewResolverSet so entries whose resolvers report the same URL (e.g.
	// two stitches pointed at the same host) share a single instance
	// instead of opening a redundant client per entry.
	built := make(map[string]Resolver, len(doc.Stitches))
	var candidates []Resolver
	for _, e := range doc.Stitches {
		if e.Stop {
			continue
		}
		if _, seen := built[e.Resolver]; seen {
			continue
		}
		r := newResolver(e.Resolver)
		built[e.Resolver] = r
		candidates = append(candidates, r)
	}
	rs := NewResolverSet(candidates...)

	for _, e := range doc.Stitches {
		strandID, cerr := cid.Decode(e.Strand)
		if chk.E(cerr) {
			return nil, errorf.E("xstitch: config %s: invalid strand id %q: %w", path, e.Strand, cerr)
		}
		entry := StitchEntry{Strand: strandID, Stop: e.Stop}
		if !e.Stop {
			entry.Resolver = rs.ByURL(built[e.Resolver].URL())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
