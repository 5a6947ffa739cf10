package syncapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Handler is implemented by anything that answers FullMethod: a real
// scheduler adapter, or (in tests) a fixture serving canned changes.
type Handler interface {
	FetchChanges(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a single-method FetchChanges service: no .proto
// compiler is available in this build environment, so the descriptor
// is authored directly against grpc.ServiceDesc/grpc.MethodDesc, the
// same exported types generated stubs are built from.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FetchChanges",
			Handler:    fetchChangesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "syncapi.proto",
}

func fetchChangesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).FetchChanges(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Handler).FetchChanges(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterHandler registers h against s under ServiceDesc.
func RegisterHandler(s *grpc.Server, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
