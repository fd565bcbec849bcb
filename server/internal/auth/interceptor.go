package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Interceptor returns a gRPC UnaryServerInterceptor that runs v.Check against
// the incoming metadata, with the full method as the resource. gRPC metadata
// keys are lowercase.
func Interceptor(v *Verifier) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		err := v.Check(func(name string) string {
			if vals := md.Get(strings.ToLower(name)); len(vals) > 0 {
				return vals[0]
			}
			return ""
		}, info.FullMethod)
		if err != nil {
			slog.Debug("auth: rejected grpc call", "method", info.FullMethod, "err", err)
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}
