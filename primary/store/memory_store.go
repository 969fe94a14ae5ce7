package store

import (
	"context"
	"sync"

	"github.com/narwhal-go/narwhal/primary/api"
)

// memoryCertificateStore is an in-memory CertificateStore, for tests and
// for primaries run without persistence. Same mutex-guarded-map shape as
// the rest of this teacher lineage's in-memory backends.
type memoryCertificateStore struct {
	mu        sync.RWMutex
	lastRound map[api.Authority]api.Round
	certs     map[api.Authority]map[api.Round]*api.Certificate
}

// NewMemoryCertificateStore constructs an empty in-memory CertificateStore.
func NewMemoryCertificateStore() CertificateStore {
	return &memoryCertificateStore{
		lastRound: make(map[api.Authority]api.Round),
		certs:     make(map[api.Authority]map[api.Round]*api.Certificate),
	}
}

func (m *memoryCertificateStore) LastRoundNumber(ctx context.Context, a api.Authority) (api.Round, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.lastRound[a]
	return r, ok, nil
}

func (m *memoryCertificateStore) Store(ctx context.Context, cert *api.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRound, ok := m.certs[cert.Author]
	if !ok {
		byRound = make(map[api.Round]*api.Certificate)
		m.certs[cert.Author] = byRound
	}
	byRound[cert.Round] = cert

	if cur, ok := m.lastRound[cert.Author]; !ok || cert.Round > cur {
		m.lastRound[cert.Author] = cert.Round
	}
	return nil
}

func (m *memoryCertificateStore) CertificatesAfter(ctx context.Context, a api.Authority, after api.Round) ([]api.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []api.Certificate
	for round, cert := range m.certs[a] {
		if round > after {
			out = append(out, *cert)
		}
	}
	return out, nil
}

// RoundsForAuthority returns every round stored for a, for test setup.
func (m *memoryCertificateStore) RoundsForAuthority(a api.Authority) []api.Round {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds := make([]api.Round, 0, len(m.certs[a]))
	for r := range m.certs[a] {
		rounds = append(rounds, r)
	}
	return rounds
}

func (m *memoryCertificateStore) Close() error { return nil }

// memoryConsensusStore is an in-memory ConsensusStore, for tests and for
// primaries running without internal consensus persistence.
type memoryConsensusStore struct {
	mu     sync.RWMutex
	rounds map[api.Authority]api.Round
}

// NewMemoryConsensusStore constructs an empty in-memory ConsensusStore.
func NewMemoryConsensusStore() ConsensusStore {
	return &memoryConsensusStore{rounds: make(map[api.Authority]api.Round)}
}

func (m *memoryConsensusStore) LastCommittedRound(ctx context.Context, a api.Authority) (api.Round, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rounds[a]
	return r, ok, nil
}

// RecordCommittedRound sets authority a's committed round, for test setup
// and for the (out-of-scope) consensus engine to publish through.
func (m *memoryConsensusStore) RecordCommittedRound(a api.Authority, r api.Round) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rounds[a] = r
}

func (m *memoryConsensusStore) Close() error { return nil }
