package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/palisade/services/hook_guard/internal/auth"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hookguard.v1.HookGuardService"

const dispatchMethod = "/" + ServiceName + "/Dispatch"

// HookGuardServiceServer is the server API of HookGuardService.
type HookGuardServiceServer interface {
	Dispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// HookGuardServiceDesc describes HookGuardService. Requests and responses
// are google.protobuf.Struct so the event payload keeps its JSON shape.
var HookGuardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HookGuardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hookguard/v1/hook_guard.proto",
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HookGuardServiceServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: dispatchMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HookGuardServiceServer).Dispatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterHookGuardServiceServer registers srv on s.
func RegisterHookGuardServiceServer(s grpc.ServiceRegistrar, srv HookGuardServiceServer) {
	s.RegisterService(&HookGuardServiceDesc, srv)
}

// HookGuardServiceClient is the client API of HookGuardService.
type HookGuardServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewHookGuardServiceClient(cc grpc.ClientConnInterface) *HookGuardServiceClient {
	return &HookGuardServiceClient{cc: cc}
}

func (c *HookGuardServiceClient) Dispatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, dispatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// HookGuardServer implements HookGuardService.
type HookGuardServer struct {
	handler Handler
	auth    auth.Authenticator
	metrics *Metrics
	logger  *zap.Logger
}

// NewHookGuardServer creates a new HookGuardServer with the given dependencies.
func NewHookGuardServer(h Handler, authenticator auth.Authenticator, metrics *Metrics, logger *zap.Logger) *HookGuardServer {
	return &HookGuardServer{
		handler: h,
		auth:    authenticator,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch implements the HookGuardService.Dispatch RPC.
func (s *HookGuardServer) Dispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// A missing token is passed on as "" so the static authenticator can accept it.
	token, _ := auth.ExtractBearerToken(ctx)
	if _, err := s.auth.Authenticate(ctx, token); err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			return nil, status.Error(codes.Unauthenticated, "authentication failed")
		}
		return nil, status.Errorf(codes.Internal, "authentication: %v", err)
	}

	raw, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode payload: %v", err)
	}

	res := s.handler.Handle(ctx, raw)
	s.metrics.Observe("grpc", res)

	out, err := structpb.NewStruct(newDispatchResponse(res).fields())
	if err != nil {
		s.logger.Error("encode dispatch response", zap.String("request_id", res.RequestID), zap.Error(err))
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// NewGRPCServer builds a gRPC server with HookGuardService and the health
// service registered. The returned health server flips to NOT_SERVING on
// shutdown.
func NewGRPCServer(srv HookGuardServiceServer) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxRequestBytes),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	RegisterHookGuardServiceServer(grpcServer, srv)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return grpcServer, healthServer
}
