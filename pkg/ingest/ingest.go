// Package ingest defines the gRPC IngestService used by the agent's grpc
// transport and served by the server's receiver.
//
// The service has a single unary method, Ingest, whose request carries the
// batch wire payload (a JSON array of strings) in a StringValue. Batch id and
// device name travel as metadata (see types.HeaderBatchID/HeaderDevice, in
// lowercase). The descriptor is written by hand so both binaries share it
// without a protoc step; it is wire-compatible with:
//
//	service IngestService {
//	  rpc Ingest(google.protobuf.StringValue) returns (google.protobuf.Empty);
//	}
package ingest

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName  = "obsidianstack.ingest.v1.IngestService"
	IngestMethod = "/" + ServiceName + "/Ingest"
)

// IngestServer is the server API for IngestService.
type IngestServer interface {
	Ingest(ctx context.Context, payload *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for IngestService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: ingestHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "obsidianstack/ingest/v1/ingest.proto",
}

func ingestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IngestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Ingest(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestClient is the client API for IngestService.
type IngestClient interface {
	Ingest(ctx context.Context, payload *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type ingestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient returns a client bound to cc.
func NewIngestClient(cc grpc.ClientConnInterface) IngestClient {
	return &ingestClient{cc: cc}
}

func (c *ingestClient) Ingest(ctx context.Context, payload *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, IngestMethod, payload, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
