package store

import (
	"context"
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/narwhal-go/narwhal/primary/api"
)

// tmdbConsensusStore is the on-disk ConsensusStore backend, backing the
// "internal consensus enabled" mode where committed rounds come from the
// embedded consensus engine rather than the certificate store.
type tmdbConsensusStore struct {
	db dbm.DB
}

// OpenConsensusStore opens (creating if absent) a goleveldb-backed
// ConsensusStore rooted at dir.
func OpenConsensusStore(dir string) (ConsensusStore, error) {
	db, err := dbm.NewGoLevelDB("consensus", dir)
	if err != nil {
		return nil, fmt.Errorf("store: open consensus db at %s: %w", dir, err)
	}
	return &tmdbConsensusStore{db: db}, nil
}

func (s *tmdbConsensusStore) LastCommittedRound(ctx context.Context, a api.Authority) (api.Round, bool, error) {
	val, err := s.db.Get(a[:])
	if err != nil {
		return 0, false, fmt.Errorf("store: last committed round: %w", err)
	}
	if val == nil {
		return 0, false, nil
	}
	return decodeRound(val), true, nil
}

// RecordCommittedRound is how the (out-of-scope) consensus engine
// publishes a newly committed round. Kept alongside the read path because
// both halves share the same key encoding.
func (s *tmdbConsensusStore) RecordCommittedRound(a api.Authority, r api.Round) error {
	if err := s.db.Set(a[:], encodeRound(r)); err != nil {
		return fmt.Errorf("store: record committed round: %w", err)
	}
	return nil
}

func (s *tmdbConsensusStore) Close() error {
	return s.db.Close()
}
