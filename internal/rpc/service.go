package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "embedd.EmbeddingService"

// Full method paths, shared by the client stub and interceptors.
const (
	MethodGenerateEmbeddings = "/" + ServiceName + "/GenerateEmbeddings"
	MethodRerankPassages     = "/" + ServiceName + "/RerankPassages"
	MethodHealthCheck        = "/" + ServiceName + "/HealthCheck"
)

// EmbeddingServiceServer is the server contract for the three RPCs.
type EmbeddingServiceServer interface {
	GenerateEmbeddings(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)
	RerankPassages(context.Context, *RerankingRequest) (*RerankingResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
}

// RegisterEmbeddingServiceServer attaches the service implementation to a
// gRPC server.
func RegisterEmbeddingServiceServer(s grpc.ServiceRegistrar, srv EmbeddingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func generateEmbeddingsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EmbeddingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmbeddingServiceServer).GenerateEmbeddings(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGenerateEmbeddings}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmbeddingServiceServer).GenerateEmbeddings(ctx, req.(*EmbeddingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func rerankPassagesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RerankingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmbeddingServiceServer).RerankPassages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRerankPassages}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmbeddingServiceServer).RerankPassages(ctx, req.(*RerankingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func healthCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EmbeddingServiceServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodHealthCheck}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EmbeddingServiceServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc mirrors the shape protoc would generate for this service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EmbeddingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GenerateEmbeddings", Handler: generateEmbeddingsHandler},
		{MethodName: "RerankPassages", Handler: rerankPassagesHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "embedd/rpc",
}
