package rpc

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/powerman/rpc-codec/jsonrpc2"

	"github.com/narwhal-go/narwhal/primary/api"
)

// StatusReport is the JSON-RPC2 control plane's answer to Control.Status,
// a snapshot for local operator tooling (the CLI's "status" subcommand).
type StatusReport struct {
	Epoch        api.Epoch
	Targets      map[string]api.Round
	FetchInFlight bool
}

// StatusFunc produces the current StatusReport; supplied by the primary's
// bootstrap code, which alone has access to the waiter's live state.
type StatusFunc func() (*StatusReport, error)

// Control is the JSON-RPC2 service registered on the local control-plane
// listener, separate from the peer-facing gRPC FetchCertificates service.
type Control struct {
	status StatusFunc
}

// NewControl constructs a Control service backed by status.
func NewControl(status StatusFunc) *Control {
	return &Control{status: status}
}

// Status implements the Control.Status JSON-RPC2 method.
func (c *Control) Status(_ *struct{}, reply *StatusReport) error {
	report, err := c.status()
	if err != nil {
		return err
	}
	*reply = *report
	return nil
}

// ServeControl registers c as a JSON-RPC2 service and serves it on every
// connection accepted from ln, until ln closes.
func ServeControl(ln net.Listener, c *Control) error {
	if err := rpc.Register(c); err != nil {
		return fmt.Errorf("rpc: register control service: %w", err)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("rpc: control listener accept: %w", err)
		}
		go jsonrpc2.ServeConn(conn)
	}
}

// DialControl connects to a primary's control-plane listener at addr.
func DialControl(addr string) (*rpc.Client, error) {
	c, err := jsonrpc2.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial control %s: %w", addr, err)
	}
	return c, nil
}
