// Package store defines the certificate waiter's two read-only
// dependencies — the certificate store and the consensus store — plus
// persistent (badger/tm-db) and in-memory implementations of both.
package store

import (
	"context"
	"encoding/binary"

	"github.com/narwhal-go/narwhal/primary/api"
)

// CertificateStore is the durable record of certificates this primary has
// accepted into its DAG. The waiter only reads it, to discover how far
// along each authority's history already reaches locally.
type CertificateStore interface {
	// LastRoundNumber returns the highest round stored for authority a.
	// found is false when nothing has been stored for a yet (genesis).
	LastRoundNumber(ctx context.Context, a api.Authority) (round api.Round, found bool, err error)

	// Store persists cert, updating the authority's last-round index if
	// cert.Round exceeds the previously recorded value.
	Store(ctx context.Context, cert *api.Certificate) error

	// CertificatesAfter returns every stored certificate authored by a at
	// a round strictly greater than after, serving peers' fetch requests.
	CertificatesAfter(ctx context.Context, a api.Authority, after api.Round) ([]api.Certificate, error)

	Close() error
}

// ConsensusStore is the durable record of rounds the embedded consensus
// engine has committed, consulted instead of CertificateStore when
// internal consensus is enabled. See SPEC_FULL.md's open-question
// decision on which store backs committed_round in each mode.
type ConsensusStore interface {
	// LastCommittedRound returns the highest committed round for
	// authority a. found is false when nothing has committed yet.
	LastCommittedRound(ctx context.Context, a api.Authority) (round api.Round, found bool, err error)

	Close() error
}

func encodeRound(r api.Round) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(r))
	return buf
}

func decodeRound(buf []byte) api.Round {
	return api.Round(binary.BigEndian.Uint64(buf))
}
