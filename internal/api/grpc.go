package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tradelab.v1.BacktestService"

// Full method names, as used by clients with grpc.ClientConn.Invoke.
const (
	MethodRun            = "/" + ServiceName + "/Run"
	MethodListStrategies = "/" + ServiceName + "/ListStrategies"
	MethodListRuns       = "/" + ServiceName + "/ListRuns"
	MethodGetRun         = "/" + ServiceName + "/GetRun"
)

// BacktestServer is the server API for the BacktestService. Requests and
// responses are JSON-shaped structpb documents.
type BacktestServer interface {
	// Run executes a backtest. Request fields: strategy, symbols, market,
	// begin, end (YYYY-MM-DD), capital. The response is the recorded run.
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// ListStrategies returns {"strategies": [...]}.
	ListStrategies(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// ListRuns returns {"runs": [...]} for the request's optional limit.
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetRun returns the stored run named by the request's id.
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBacktestServer registers srv on s.
func RegisterBacktestServer(s grpc.ServiceRegistrar, srv BacktestServer) {
	s.RegisterService(&BacktestServiceDesc, srv)
}

// BacktestServiceDesc describes the BacktestService for grpc.Server.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: structHandler(MethodRun, BacktestServer.Run)},
		{MethodName: "ListStrategies", Handler: listStrategiesHandler},
		{MethodName: "ListRuns", Handler: structHandler(MethodListRuns, BacktestServer.ListRuns)},
		{MethodName: "GetRun", Handler: structHandler(MethodGetRun, BacktestServer.GetRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradelab/v1/backtest.proto",
}

type structMethod func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, m structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return m(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return m(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func listStrategiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).ListStrategies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListStrategies}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).ListStrategies(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ToStruct converts any JSON-encodable value into a structpb.Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
