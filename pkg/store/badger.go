package store

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/ipfs/go-cid"
	lol "lol.mleku.dev"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
	"lol.mleku.dev/log"
	"twine.dev/pkg/chain"
)

const (
	prefixStrand = 's'
	prefixPulse  = 'p'
	prefixLatest = 'l'

	mb = 1 << 20
)

// Badger is a badger/v4-backed Store. Strands and pulses are stored as
// their own canonical encodings, keyed by their content address; the
// latest pointer per strand is a small separate key so Latest never has
// to scan.
type Badger struct {
	dataDir string
	logger  *badgerLogger
	db      *badger.DB
}

// OpenBadger opens (creating if absent) a badger store rooted at
// dataDir.
func OpenBadger(dataDir, logLevel string) (b *Badger, err error) {
	if err = os.MkdirAll(dataDir, 0o755); chk.E(err) {
		return nil, errorf.E("store: create data dir %s: %w", dataDir, err)
	}
	b = &Badger{dataDir: dataDir, logger: newBadgerLogger(lol.GetLogLevel(logLevel))}

	opts := badger.DefaultOptions(dataDir)
	// Pulses and strands are small; keep memory pressure modest rather
	// than badger's defaults tuned for large event stores.
	opts.BlockCacheSize = 64 * mb
	opts.BlockSize = 4 * 1024
	opts.BaseTableSize = 16 * mb
	opts.MemTableSize = 16 * mb
	opts.ValueLogFileSize = 64 * mb
	opts.CompactL0OnClose = true
	opts.LmaxCompaction = true
	opts.Compression = options.None
	opts.Logger = b.logger

	if b.db, err = badger.Open(opts); chk.E(err) {
		return nil, errorf.E("store: open badger at %s: %w", dataDir, err)
	}
	log.I.F("store: opened badger at %s", dataDir)
	return b, nil
}

func strandKey(id cid.Cid) []byte { return append([]byte{prefixStrand}, id.Bytes()...) }
func pulseKey(id cid.Cid) []byte  { return append([]byte{prefixPulse}, id.Bytes()...) }
func latestKey(strandID cid.Cid) []byte {
	return append([]byte{prefixLatest}, strandID.Bytes()...)
}

func (b *Badger) SaveStrand(ctx context.Context, s *chain.Strand) (err error) {
	id, err := s.ID()
	if chk.E(err) {
		return err
	}
	enc, err := s.CanonicalEncode()
	if chk.E(err) {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(strandKey(id), enc)
	})
}

func (b *Badger) LoadStrand(ctx context.Context, id cid.Cid) (s *chain.Strand, err error) {
	s = &chain.Strand{}
	err = b.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(strandKey(id))
		if getErr == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			decoded, decErr := chain.DecodeStrand(val)
			if decErr != nil {
				return decErr
			}
			*s = *decoded
			return nil
		})
	})
	if chk.E(err) {
		return nil, err
	}
	return s, nil
}

func (b *Badger) SavePulse(ctx context.Context, strandID cid.Cid, p *chain.Pulse) (err error) {
	// A strand's own identifier is hashed with its own declared hash
	// algorithm, so the CID's multihash type tells us which algorithm
	// every pulse on this strand uses without a round trip to load it.
	hashAlgo := strandID.Prefix().MhType

	id, err := p.Identifier(uint64(hashAlgo))
	if chk.E(err) {
		return err
	}
	enc, err := p.Encode()
	if chk.E(err) {
		return err
	}
	idxBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(idxBuf, p.Index)
	latestVal := append(idxBuf, id.Bytes()...)

	return b.db.Update(func(txn *badger.Txn) error {
		if setErr := txn.Set(pulseKey(id), enc); setErr != nil {
			return setErr
		}
		cur, getErr := txn.Get(latestKey(strandID))
		if getErr != nil && getErr != badger.ErrKeyNotFound {
			return getErr
		}
		if getErr == badger.ErrKeyNotFound {
			return txn.Set(latestKey(strandID), latestVal)
		}
		var curIdx uint64
		if valErr := cur.Value(func(val []byte) error {
			curIdx = binary.BigEndian.Uint64(val[:8])
			return nil
		}); valErr != nil {
			return valErr
		}
		if p.Index >= curIdx {
			return txn.Set(latestKey(strandID), latestVal)
		}
		return nil
	})
}

func (b *Badger) LoadPulse(ctx context.Context, id cid.Cid) (p *chain.Pulse, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(pulseKey(id))
		if getErr == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			decoded, decErr := chain.Decode(val)
			if decErr != nil {
				return decErr
			}
			p = decoded
			return nil
		})
	})
	if chk.E(err) {
		return nil, err
	}
	return p, nil
}

func (b *Badger) Latest(ctx context.Context, strandID cid.Cid) (id cid.Cid, index uint64, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(latestKey(strandID))
		if getErr == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if getErr != nil {
			return getErr
		}
		return item.Value(func(val []byte) error {
			index = binary.BigEndian.Uint64(val[:8])
			decoded, castErr := cid.Cast(val[8:])
			if castErr != nil {
				return castErr
			}
			id = decoded
			return nil
		})
	})
	if err != nil {
		return cid.Undef, 0, err
	}
	return id, index, nil
}

func (b *Badger) Close() (err error) {
	log.D.F("store: closing badger at %s", b.dataDir)
	if err = b.db.Close(); chk.E(err) {
		return err
	}
	log.I.F("store: closed badger at %s", b.dataDir)
	return nil
}
