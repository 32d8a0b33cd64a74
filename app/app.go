// Package app wires the beacon daemon's collaborators together: signer,
// store, strand, assembler, and scheduler, following the configuration
// loaded at startup.
package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/multiformats/go-multihash"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"twine.dev/app/config"
	"twine.dev/pkg/assembler"
	"twine.dev/pkg/chain"
	"twine.dev/pkg/notify"
	"twine.dev/pkg/rng"
	"twine.dev/pkg/scheduler"
	"twine.dev/pkg/signer"
	"twine.dev/pkg/store"
	"twine.dev/pkg/xstitch"
)

// strandConfigDoc is the first-time strand creation document: the
// application-specific details and an optional subspec tag. Consumed
// only when no strand JSON exists yet at StrandJSONPath.
type strandConfigDoc struct {
	Subspec       string         `json:"subspec,omitempty"`
	PeriodSeconds int64          `json:"periodSeconds"`
	HashAlgo      string         `json:"hashAlgo,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

var hashAlgoNames = map[string]uint64{
	"sha2-256": multihash.SHA2_256,
	"sha2-512": multihash.SHA2_512,
	"sha3-256": multihash.SHA3_256,
}

// App bundles the running daemon's collaborators so main can manage
// their lifecycle.
type App struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
}

// New wires every collaborator described in the configuration into a
// ready-to-run App: selects the signer, loads or creates the strand,
// opens the store, and constructs the assembler and scheduler.
func New(cfg *config.C) (a *App, err error) {
	sgn, err := buildSigner(cfg)
	if chk.E(err) {
		return nil, err
	}

	strand, err := loadOrCreateStrand(cfg, sgn)
	if chk.E(err) {
		return nil, err
	}

	st, err := store.OpenBadger(filepath.Join(filepath.Dir(cfg.StrandJSONPath), "store"), cfg.LogLevel)
	if chk.E(err) {
		return nil, errorf.E("app: open store: %w", err)
	}

	asm, err := assembler.New(sgn, strand, st, cfg.RNGStoragePath)
	if chk.E(err) {
		return nil, errorf.E("app: construct assembler: %w", err)
	}

	stitchesFn, err := buildStitchConfig(cfg)
	if chk.E(err) {
		return nil, err
	}

	sched := &scheduler.Scheduler{
		Assembler: asm,
		RNG:       rng.NewFetcher(cfg.RNGScript),
		Notifier:  notify.NewClient(cfg.SyncAddr),
		Stitches:  stitchesFn,
		LeadTime:  time.Duration(cfg.LeadTimeSeconds) * time.Second,
	}

	return &App{Store: st, Scheduler: sched}, nil
}

// Run initializes the assembler and drives the scheduler loop until ctx
// is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Assembler.Init(ctx); chk.E(err) {
		return errorf.E("app: assembler init: %w", err)
	}
	return a.Scheduler.Run(ctx)
}

// Close releases the store.
func (a *App) Close() error { return a.Store.Close() }

func buildSigner(cfg *config.C) (signer.Signer, error) {
	if cfg.PrivateKeyPath != "" {
		return signer.LoadSoftware(cfg.PrivateKeyPath)
	}
	if cfg.HSMAddress == "" {
		return nil, errorf.E("app: no signer configured: set PRIVATE_KEY_PATH or the HSM_* variables")
	}
	keyID, err := signer.ParseHSMKeyID(cfg.HSMSigningKeyID)
	if chk.E(err) {
		return nil, err
	}
	return signer.NewHSM(cfg.HSMAddress, cfg.HSMAuthKeyID, cfg.HSMPassword, keyID)
}

// loadOrCreateStrand reads the strand JSON at cfg.StrandJSONPath, or, if
// absent, builds and persists one from cfg.StrandConfigPath. The strand
// is otherwise immutable once created.
func loadOrCreateStrand(cfg *config.C, sgn signer.Signer) (s *chain.Strand, err error) {
	raw, readErr := os.ReadFile(cfg.StrandJSONPath)
	if readErr == nil {
		s = &chain.Strand{}
		if err = json.Unmarshal(raw, s); chk.E(err) {
			return nil, errorf.E("app: parse strand json %s: %w", cfg.StrandJSONPath, err)
		}
		return s, nil
	}
	if !os.IsNotExist(readErr) {
		return nil, errorf.E("app: read strand json %s: %w", cfg.StrandJSONPath, readErr)
	}
	if cfg.StrandConfigPath == "" {
		return nil, errorf.E(
			"app: no strand json at %s and no STRAND_CONFIG_PATH to create one", cfg.StrandJSONPath,
		)
	}

	cfgRaw, err := os.ReadFile(cfg.StrandConfigPath)
	if chk.E(err) {
		return nil, errorf.E("app: read strand config %s: %w", cfg.StrandConfigPath, err)
	}
	var doc strandConfigDoc
	if err = json.Unmarshal(cfgRaw, &doc); chk.E(err) {
		return nil, errorf.E("app: parse strand config %s: %w", cfg.StrandConfigPath, err)
	}

	hashAlgo := multihash.SHA2_256
	if doc.HashAlgo != "" {
		var ok bool
		if hashAlgo, ok = hashAlgoNames[doc.HashAlgo]; !ok {
			return nil, errorf.E("app: strand config: unsupported hash algorithm %q", doc.HashAlgo)
		}
	}
	period := doc.PeriodSeconds
	if period <= 0 {
		period = 60
	}

	s = &chain.Strand{
		PublicKey:     sgn.PublicKey(),
		PeriodSeconds: period,
		HashAlgo:      hashAlgo,
		Subspec:       doc.Subspec,
		Details:       doc.Details,
	}

	out, err := json.MarshalIndent(s, "", "  ")
	if chk.E(err) {
		return nil, errorf.E("app: encode new strand: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(cfg.StrandJSONPath), 0o755); chk.E(err) {
		return nil, errorf.E("app: create strand json dir: %w", err)
	}
	if err = os.WriteFile(cfg.StrandJSONPath, out, 0o644); chk.E(err) {
		return nil, errorf.E("app: write strand json %s: %w", cfg.StrandJSONPath, err)
	}
	log.I.F("app: created new strand at %s", cfg.StrandJSONPath)
	return s, nil
}

func buildStitchConfig(cfg *config.C) (scheduler.StitchConfig, error) {
	if cfg.StitchConfigPath == "" {
		return func() []xstitch.StitchEntry { return nil }, nil
	}
	return func() []xstitch.StitchEntry {
		entries, err := xstitch.LoadConfig(cfg.StitchConfigPath, func(url string) xstitch.Resolver {
			return xstitch.NewHTTPResolver(url, 5*time.Second)
		})
		if chk.E(err) {
			log.W.F("app: reload stitch config %s: %v", cfg.StitchConfigPath, err)
			return nil
		}
		return entries
	}, nil
}
