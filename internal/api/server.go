// Package api exposes backtests over gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ BacktestServer = (*Server)(nil)

// RunRequest is the decoded form of a Run request.
type RunRequest struct {
	Strategy string   `json:"strategy"`
	Symbols  []string `json:"symbols"`
	Market   string   `json:"market,omitempty"`
	Begin    string   `json:"begin,omitempty"` // YYYY-MM-DD
	End      string   `json:"end,omitempty"`
	Capital  float64  `json:"capital,omitempty"`
}

// Server implements BacktestServer on top of a Backtester.
type Server struct {
	bt       *strategy.Backtester
	registry *strategy.Registry
	runs     store.RunStore // optional
	defaults strategy.Params
	log      *slog.Logger
}

// NewServer creates a Server. runs may be nil, in which case runs are not
// persisted and ListRuns/GetRun report Unimplemented. defaults fills
// Market and Capital when a request omits them.
func NewServer(bt *strategy.Backtester, registry *strategy.Registry, runs store.RunStore, defaults strategy.Params, log *slog.Logger) *Server {
	return &Server{
		bt:       bt,
		registry: registry,
		runs:     runs,
		defaults: defaults,
		log:      log.With("component", "grpc"),
	}
}

// Run executes a backtest and returns the recorded run.
func (s *Server) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RunRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	p, err := s.params(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rep, err := s.bt.Run(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	run := rep.Record()
	if s.runs != nil {
		if err := s.runs.SaveRun(ctx, run); err != nil {
			s.log.Error("saving run failed", "run", run.ID, "error", err)
			return nil, status.Errorf(codes.Internal, "saving run: %v", err)
		}
	}
	return ToStruct(run)
}

// ListStrategies returns the registered strategy names.
func (s *Server) ListStrategies(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	names := s.registry.List()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]any{"strategies": list})
}

// ListRuns returns stored run headers, newest first.
func (s *Server) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unimplemented, "run storage is not configured")
	}
	var req struct {
		Limit int `json:"limit"`
	}
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	runs, err := s.runs.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	if runs == nil {
		runs = []store.Run{}
	}
	return ToStruct(map[string]any{"runs": runs})
}

// GetRun returns one stored run with all of its instruments.
func (s *Server) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.runs == nil {
		return nil, status.Error(codes.Unimplemented, "run storage is not configured")
	}
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(run)
}

func (s *Server) params(req RunRequest) (strategy.Params, error) {
	p := strategy.Params{
		Strategy: req.Strategy,
		Symbols:  req.Symbols,
		Market:   req.Market,
		Capital:  req.Capital,
	}
	if p.Market == "" {
		p.Market = s.defaults.Market
	}
	if p.Capital == 0 {
		p.Capital = s.defaults.Capital
	}
	var err error
	if p.Begin, err = parseDate(req.Begin, false); err != nil {
		return p, fmt.Errorf("begin: %w", err)
	}
	if p.End, err = parseDate(req.End, true); err != nil {
		return p, fmt.Errorf("end: %w", err)
	}
	return p, nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return t, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, strategy.ErrConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, strategy.ErrDataSource):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, store.ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// logUnary logs every unary call with its duration and resulting code.
func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.log.Info("grpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp, err
}

// NewGRPCServer returns a grpc.Server with the BacktestService registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logUnary))
	gs := grpc.NewServer(opts...)
	RegisterBacktestServer(gs, s)
	return gs
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := s.NewGRPCServer()
	errCh := make(chan error, 1)
	go func() { errCh <- gs.Serve(lis) }()
	s.log.Info("listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
		gs.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
