package rpc

import (
	"io"

	"github.com/golang/snappy"
	"google.golang.org/grpc/encoding"
)

// snappyCompressorName is the gRPC compressor this module selects on every
// outgoing call via grpc.UseCompressor, so fetch responses actually travel
// snappy-compressed rather than merely being decodable if they were.
const snappyCompressorName = "snappy"

func init() {
	encoding.RegisterCompressor(snappyCompressor{})
}

// snappyCompressor implements encoding.Compressor, registered so peers
// can negotiate snappy frame compression over the fetch RPC.
type snappyCompressor struct{}

func (snappyCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return snappy.NewReader(r), nil
}

func (snappyCompressor) Name() string {
	return snappyCompressorName
}
