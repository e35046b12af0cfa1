// Package tradelab is a Go client for the tradelab gRPC backtest service.
package tradelab

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"tradelab/internal/api"
	"tradelab/internal/store"
)

// RunRequest selects what the server replays. Dates are YYYY-MM-DD; empty
// dates leave that side of the range open.
type RunRequest = api.RunRequest

// Client talks to a tradelab server.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for addr. Without options the connection is
// plaintext.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run executes a backtest on the server.
func (c *Client) Run(ctx context.Context, req RunRequest) (*store.Run, error) {
	in, err := api.ToStruct(req)
	if err != nil {
		return nil, err
	}
	var run store.Run
	if err := c.call(ctx, api.MethodRun, in, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Strategies lists the strategy names the server can run.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.call(ctx, api.MethodListStrategies, &emptypb.Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// Runs lists stored run headers, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Runs []store.Run `json:"runs"`
	}
	if err := c.call(ctx, api.MethodListRuns, in, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches one stored run.
func (c *Client) GetRun(ctx context.Context, id string) (*store.Run, error) {
	in, err := structpb.NewStruct(map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var run store.Run
	if err := c.call(ctx, api.MethodGetRun, in, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) call(ctx context.Context, method string, in any, v any) error {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	if err := api.FromStruct(out, v); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
