package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/observability"
)

// tracingInterceptor continues a W3C trace carried in request metadata and
// opens a server span per call.
func tracingInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		tc := observability.TraceContext{}
		if v := md.Get("traceparent"); len(v) > 0 {
			tc.TraceParent = v[0]
		}
		if v := md.Get("tracestate"); len(v) > 0 {
			tc.TraceState = v[0]
		}
		ctx = observability.ContextWithTrace(ctx, tc)
	}

	ctx, span := observability.StartServerSpan(ctx, info.FullMethod,
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.method", info.FullMethod),
	)
	defer span.End()

	resp, err := handler(ctx, req)
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	return resp, err
}

// loggingInterceptor logs all gRPC requests
func loggingInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	start := time.Now()

	logging.OpContext(ctx).Debug("gRPC request started",
		"method", info.FullMethod,
	)

	resp, err := handler(ctx, req)

	duration := time.Since(start)

	if err != nil {
		logging.OpContext(ctx).Warn("gRPC request failed",
			"method", info.FullMethod,
			"duration", duration,
			"code", status.Code(err).String(),
			"error", err,
		)
	} else {
		logging.OpContext(ctx).Info("gRPC request completed",
			"method", info.FullMethod,
			"duration", duration,
		)
	}

	return resp, err
}

// errorHandlingInterceptor converts errors to gRPC status codes
func errorHandlingInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, statusOf(err)
	}
	return resp, nil
}
