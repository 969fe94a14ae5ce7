package rpc

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/narwhal-go/narwhal/primary/api"
)

// CertificateReader is the read surface the fetch handler needs from the
// certificate store: every certificate authored by a at a round strictly
// greater than after.
type CertificateReader interface {
	CertificatesAfter(ctx context.Context, a api.Authority, after api.Round) ([]api.Certificate, error)
}

// Handler answers peers' FetchCertificates calls from the local
// certificate store. It implements PrimaryServer.
type Handler struct {
	reader CertificateReader
}

// NewHandler constructs a Handler reading from reader.
func NewHandler(reader CertificateReader) *Handler {
	return &Handler{reader: reader}
}

// FetchCertificates returns, across all authorities named in req's bounds,
// the certificates with round strictly greater than their bound, capped at
// req.MaxItems total. Authorities not named in the bounds contribute no
// certificates.
func (h *Handler) FetchCertificates(ctx context.Context, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
	var candidates []api.Certificate
	for _, bound := range req.ExclusiveLowerBounds {
		certs, err := h.reader.CertificatesAfter(ctx, bound.Authority, bound.Round)
		if err != nil {
			return nil, fmt.Errorf("rpc: fetch certificates for %s: %w", bound.Authority, err)
		}
		candidates = append(candidates, certs...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Round != candidates[j].Round {
			return candidates[i].Round < candidates[j].Round
		}
		return bytes.Compare(candidates[i].Author[:], candidates[j].Author[:]) < 0
	})

	if len(candidates) > req.MaxItems {
		candidates = candidates[:req.MaxItems]
	}

	return &api.FetchCertificatesResponse{Certificates: candidates}, nil
}
