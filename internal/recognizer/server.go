package recognizer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = serviceName

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UploadAudio", Handler: uploadHandler},
		{MethodName: "PollResult", Handler: pollHandler},
	},
	Metadata: "hark/recognizer/v1",
}

// RegisterServer exposes impl on s and marks it SERVING in a health service.
func RegisterServer(s *grpc.Server, impl Service) {
	s.RegisterService(&serviceDesc, impl)

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
}

func uploadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		upload, err := decodeUpload(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := srv.(Service).UploadAudio(ctx, upload)
		if err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return encodeUploadResponse(resp)
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: uploadMethod}
	return interceptor(ctx, in, info, handle)
}

func pollHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handle := func(ctx context.Context, req any) (any, error) {
		query, err := decodeQuery(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := srv.(Service).PollResult(ctx, query)
		if err != nil {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return encodePollResponse(resp)
	}
	if interceptor == nil {
		return handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: pollMethod}
	return interceptor(ctx, in, info, handle)
}
