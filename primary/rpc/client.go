package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/multiformats/go-multiaddr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/narwhal-go/narwhal/common/logging"
	"github.com/narwhal-go/narwhal/primary/api"
)

var logger = logging.GetLogger("primary/rpc")

// Client is the abstract peer RPC surface the certificate waiter's Fetch
// Task drives: one FetchCertificates call per peer attempt.
type Client interface {
	FetchCertificates(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error)
	Close() error
}

// client lazily dials and caches one connection per peer address.
type client struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient constructs a Client with no connections yet established.
func NewClient() Client {
	return &client{conns: make(map[string]*grpc.ClientConn)}
}

func (c *client) FetchCertificates(ctx context.Context, peer api.CommitteeMember, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error) {
	cc, err := c.connFor(ctx, peer)
	if err != nil {
		return nil, err
	}

	out := new(api.FetchCertificatesResponse)
	if err := cc.Invoke(ctx, fetchCertificatesPath, req, out,
		grpc.CallContentSubtype(cborCodecName), grpc.UseCompressor(snappyCompressorName),
	); err != nil {
		return nil, fmt.Errorf("rpc: fetch certificates from %s: %w", peer.Authority, err)
	}
	return out, nil
}

func (c *client) connFor(ctx context.Context, peer api.CommitteeMember) (*grpc.ClientConn, error) {
	addr, err := dialAddress(peer.Address)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cc, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return cc, nil
	}
	c.mu.Unlock()

	cc, err := dialWithBackoff(ctx, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[addr]; ok {
		_ = cc.Close()
		return existing, nil
	}
	c.conns[addr] = cc
	return cc, nil
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for addr, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rpc: close conn to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

func dialWithBackoff(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	var cc *grpc.ClientConn

	operation := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var err error
		cc, err = grpc.DialContext(dialCtx, addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock(),
			grpc.WithDefaultCallOptions(
				grpc.CallContentSubtype(cborCodecName),
				grpc.UseCompressor(snappyCompressorName),
			),
		)
		if err != nil {
			logger.Debug("dial attempt failed", "addr", addr, "err", err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return cc, nil
}

func dialAddress(addr multiaddr.Multiaddr) (string, error) {
	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = addr.ValueForProtocol(multiaddr.P_DNS4)
		if err != nil {
			return "", fmt.Errorf("rpc: no ip4/dns4 component in %s", addr)
		}
	}
	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", fmt.Errorf("rpc: no tcp component in %s", addr)
	}
	return net.JoinHostPort(host, port), nil
}
