// Package rpc is the primary's peer transport: a hand-registered gRPC
// service (no protoc step — certificates travel as CBOR, not protobuf)
// plus a JSON-RPC2 control-plane endpoint for local status queries.
package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// cborCodecName is the gRPC content-subtype this module registers its
// codec under ("grpc+cbor" on the wire).
const cborCodecName = "cbor"

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// cborCodec implements encoding.Codec using CBOR in place of protobuf,
// since this module has no protoc-generated message types.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: cbor marshal: %w", err)
	}
	return b, nil
}

func (cborCodec) Unmarshal(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: cbor unmarshal: %w", err)
	}
	return nil
}

func (cborCodec) Name() string {
	return cborCodecName
}
