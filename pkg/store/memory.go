package store

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"twine.dev/pkg/chain"
)

// Memory is an in-process Store, suitable for tests that don't want a
// real badger directory on disk.
type Memory struct {
	mu      sync.RWMutex
	strands map[cid.Cid]*chain.Strand
	pulses  map[cid.Cid]*chain.Pulse
	latest  map[cid.Cid]cid.Cid
	index   map[cid.Cid]uint64
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		strands: make(map[cid.Cid]*chain.Strand),
		pulses:  make(map[cid.Cid]*chain.Pulse),
		latest:  make(map[cid.Cid]cid.Cid),
		index:   make(map[cid.Cid]uint64),
	}
}

func (m *Memory) SaveStrand(ctx context.Context, s *chain.Strand) error {
	id, err := s.ID()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strands[id] = s
	return nil
}

func (m *Memory) LoadStrand(ctx context.Context, id cid.Cid) (*chain.Strand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strands[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SavePulse(ctx context.Context, strandID cid.Cid, p *chain.Pulse) error {
	hashAlgo := uint64(strandID.Prefix().MhType)
	id, err := p.Identifier(hashAlgo)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulses[id] = p
	if cur, ok := m.index[strandID]; !ok || p.Index >= cur {
		m.latest[strandID] = id
		m.index[strandID] = p.Index
	}
	return nil
}

func (m *Memory) LoadPulse(ctx context.Context, id cid.Cid) (*chain.Pulse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pulses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Latest(ctx context.Context, strandID cid.Cid) (cid.Cid, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.latest[strandID]
	if !ok {
		return cid.Undef, 0, ErrNotFound
	}
	return id, m.index[strandID], nil
}

func (m *Memory) Close() error { return nil }
