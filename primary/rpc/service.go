package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/narwhal-go/narwhal/primary/api"
)

const (
	serviceName           = "narwhal.primary.Primary"
	fetchCertificatesPath = "/" + serviceName + "/FetchCertificates"
)

// PrimaryServer is implemented by whatever serves FetchCertificates on
// behalf of a primary: Handler, reading from the certificate store, in the
// common case.
type PrimaryServer interface {
	FetchCertificates(ctx context.Context, req *api.FetchCertificatesRequest) (*api.FetchCertificatesResponse, error)
}

// RegisterPrimaryServer attaches srv to s under the hand-written service
// descriptor below, in place of protoc-generated registration code.
func RegisterPrimaryServer(s *grpc.Server, srv PrimaryServer) {
	s.RegisterService(&primaryServiceDesc, srv)
}

func fetchCertificatesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(api.FetchCertificatesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PrimaryServer).FetchCertificates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: fetchCertificatesPath,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PrimaryServer).FetchCertificates(ctx, req.(*api.FetchCertificatesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var primaryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PrimaryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchCertificates",
			Handler:    fetchCertificatesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "primary/rpc/service.go",
}
