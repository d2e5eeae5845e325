// Package grpc serves the runner over gRPC. Messages are
// google.protobuf.Struct values so no generated code is needed.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oriys/fnbridge/internal/domain"
	"github.com/oriys/fnbridge/internal/executor"
	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/runner"
)

// Server implements fnbridge.v1.Runner on top of a runner.
type Server struct {
	runner     *runner.Runner
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer creates a gRPC server with the runner service, the standard
// health service and reflection registered.
func NewServer(r *runner.Runner) *Server {
	s := &Server{runner: r}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			tracingInterceptor,
			loggingInterceptor,
			errorHandlingInterceptor,
		),
	)
	RegisterRunnerServer(s.grpcServer, s)

	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(s.grpcServer)
	return s
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) {
	s.listener = lis
	logging.Op().Info("gRPC server started", "address", lis.Addr().String())

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.Op().Error("gRPC server error", "error", err)
		}
	}()
}

// Stop marks the server not serving and stops it gracefully.
func (s *Server) Stop() {
	logging.Op().Info("stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Init creates a handle. Request fields: kind, config, result_type,
// result_types. Response: handle.
func (s *Server) Init(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	kind := stringField(req, "kind")
	if kind == "" {
		return nil, status.Error(codes.InvalidArgument, "kind is required")
	}
	types, err := stringList(req, "result_types")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := s.runner.Init(ctx, runner.InitRequest{
		Kind:        executor.Capability(kind),
		Config:      stringField(req, "config"),
		ResultType:  stringField(req, "result_type"),
		ResultTypes: types,
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"handle": id})
}

// Eval calls a scalar-eval or row-eval handle with args. Row-eval
// responses carry the produced rows under rows.
func (s *Server) Eval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "handle")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	args, err := argsOf(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode args: %v", err)
	}
	ctx = withRequestID(ctx, req)

	rows := [][]any{}
	result, err := s.runner.Eval(ctx, id, args, executor.RowCollectorFunc(func(row []any) error {
		rows = append(rows, row)
		return nil
	}))
	if err != nil {
		return nil, err
	}

	resultValue, err := jsonValue(result)
	if err != nil {
		return nil, domain.WrapConversion(err, "encode result")
	}
	rowsValue, err := jsonValue(rows)
	if err != nil {
		return nil, domain.WrapConversion(err, "encode rows")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"result": resultValue,
		"rows":   rowsValue,
	}}, nil
}

// Calc calls a dataframe-calc handle. Request fields: handle, metadata
// (string map), contents (list of CSV strings). Response: frames, a list of
// {content, schema}.
func (s *Server) Calc(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "handle")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	contents, err := stringList(req, "contents")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	metadata := make(map[string]string)
	if m := req.GetFields()["metadata"].GetStructValue(); m != nil {
		for k, v := range m.GetFields() {
			sv, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, status.Errorf(codes.InvalidArgument, "metadata %q must be a string", k)
			}
			metadata[k] = sv.StringValue
		}
	}
	ctx = withRequestID(ctx, req)

	var frames []any
	err = s.runner.Calc(ctx, id, metadata, contents, executor.FrameCollectorFunc(func(content, schema string) error {
		frames = append(frames, map[string]any{"content": content, "schema": schema})
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if frames == nil {
		frames = []any{}
	}
	return structpb.NewStruct(map[string]any{"frames": frames})
}

// Close drops a handle.
func (s *Server) Close(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "handle")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	if err := s.runner.Close(id); err != nil {
		return nil, err
	}
	return &structpb.Struct{}, nil
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func stringList(req *structpb.Struct, name string) ([]string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s must be a list of strings", name)
	}
	out := make([]string, len(list.GetValues()))
	for i, item := range list.GetValues() {
		sv, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", name, i)
		}
		out[i] = sv.StringValue
	}
	return out, nil
}

// argsOf decodes the args field through its JSON form so integral numbers
// reach the adapters as json.Number rather than float64.
func argsOf(req *structpb.Struct) (any, error) {
	v, ok := req.GetFields()["args"]
	if !ok {
		return nil, nil
	}
	data, err := protojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var args any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func jsonValue(v any) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Value)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func withRequestID(ctx context.Context, req *structpb.Struct) context.Context {
	if id := stringField(req, "request_id"); id != "" {
		return executor.ContextWithRequestID(ctx, id)
	}
	return ctx
}

// statusOf maps a classified error to a gRPC status.
func statusOf(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, runner.ErrUnknownHandle):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrResolution):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConversion):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrEvaluation):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
