package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"FlashLedger/internal/event"
	"FlashLedger/internal/state"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "flashledger.v1.LedgerService"

// PrincipalMetadataKey carries the authenticated caller. Authentication
// happens upstream; the ledger trusts this value.
const PrincipalMetadataKey = "x-flash-principal"

type principalKey struct{}

// WithPrincipal returns ctx carrying p as the caller.
func WithPrincipal(ctx context.Context, p state.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (state.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(state.Principal)
	if !ok || p.IsZero() {
		return state.Principal{}, false
	}
	return p, true
}

// PrincipalInterceptor lifts the x-flash-principal header into the context.
// A malformed header is rejected; a missing one is left for the handler.
func PrincipalInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if ok {
			if vals := md.Get(PrincipalMetadataKey); len(vals) > 0 {
				p, err := state.ParsePrincipal(vals[0])
				if err != nil {
					return nil, status.Errorf(codes.Unauthenticated, "invalid principal: %v", err)
				}
				ctx = WithPrincipal(ctx, p)
			}
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its outcome and latency.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		ev := log.Debug()
		if code == codes.Internal || code == codes.Unknown {
			ev = log.Error().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("latency", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}

// commandHandler builds the unary handler for one command type.
func commandHandler(et event.EventType) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		cmd, err := event.New(et)
		if err != nil {
			return nil, status.Error(codes.Unimplemented, err.Error())
		}
		if err := dec(cmd); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", et, err)
		}
		s := srv.(*LedgerService)
		if interceptor == nil {
			return s.ExecuteCommand(ctx, cmd)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + et.String()}
		return interceptor(ctx, cmd, info, func(ctx context.Context, req any) (any, error) {
			return s.ExecuteCommand(ctx, req.(event.Command))
		})
	}
}

// unaryHandler adapts a typed service method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](name string, call func(*LedgerService, context.Context, *Req) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
		}
		s := srv.(*LedgerService)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*Req))
		})
	}
}

// ServiceDesc describes LedgerService. There is no generated stub: messages
// travel through the JSON codec as the structs in this package and in event.
func ServiceDesc() *grpc.ServiceDesc {
	methods := []grpc.MethodDesc{
		{MethodName: "GetGlobalLedger", Handler: unaryHandler("GetGlobalLedger", (*LedgerService).GetGlobalLedger)},
		{MethodName: "GetTraderAccount", Handler: unaryHandler("GetTraderAccount", (*LedgerService).GetTraderAccount)},
		{MethodName: "ListLiquidations", Handler: unaryHandler("ListLiquidations", (*LedgerService).ListLiquidations)},
		{MethodName: "ListFunding", Handler: unaryHandler("ListFunding", (*LedgerService).ListFunding)},
		{MethodName: "ListHedges", Handler: unaryHandler("ListHedges", (*LedgerService).ListHedges)},
		{MethodName: "GetEventLogInfo", Handler: unaryHandler("GetEventLogInfo", (*LedgerService).GetEventLogInfo)},
		{MethodName: "VerifyChain", Handler: unaryHandler("VerifyChain", (*LedgerService).VerifyChain)},
		{MethodName: "RebuildProjections", Handler: unaryHandler("RebuildProjections", (*LedgerService).RebuildProjections)},
	}
	for _, et := range event.AllEventTypes() {
		methods = append(methods, grpc.MethodDesc{MethodName: et.String(), Handler: commandHandler(et)})
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "flashledger/v1/ledger.proto",
	}
}

// NewGRPCServer builds a gRPC server with LedgerService, health and
// reflection registered.
func NewGRPCServer(svc *LedgerService, log zerolog.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		PrincipalInterceptor(),
		LoggingInterceptor(log),
	))
	srv.RegisterService(ServiceDesc(), svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	reflection.Register(srv)
	return srv
}

// ServeGRPC listens on addr and serves until ctx is done and every
// in-flight call has returned.
func ServeGRPC(ctx context.Context, srv *grpc.Server, addr string, log zerolog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info().Msg("gRPC server shutting down")
		srv.GracefulStop()
	}()

	log.Info().Str("addr", addr).Msg("gRPC server listening")
	if err := srv.Serve(lis); err != nil {
		return err
	}
	// Serve returns as soon as GracefulStop closes the listener; wait for
	// in-flight calls.
	<-stopped
	return nil
}
