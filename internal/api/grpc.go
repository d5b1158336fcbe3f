package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"mombt/internal/backtest"
	"mombt/internal/store"
)

// Full method names of the mombt.Backtester service.
const (
	backtesterService = "mombt.Backtester"
	runMethod         = "/" + backtesterService + "/Run"
	listRunsMethod    = "/" + backtesterService + "/ListRuns"
)

// BacktesterServer is the gRPC surface. Requests and responses are
// google.protobuf.Struct messages carrying the same fields as the HTTP API.
type BacktesterServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var backtesterServiceDesc = grpc.ServiceDesc{
	ServiceName: backtesterService,
	HandlerType: (*BacktesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
		{MethodName: "ListRuns", Handler: listRunsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mombt/backtester",
}

func runHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktesterServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktesterServer).Run(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listRunsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktesterServer).ListRuns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listRunsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktesterServer).ListRuns(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterGRPC registers the Backtester service on the given gRPC server.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtesterServiceDesc, &grpcService{s: s})
}

type grpcService struct{ s *Server }

func (g *grpcService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	get := structGetter(in)
	req, err := parseBacktestRequest(get("symbol"), get)
	if err != nil {
		return nil, grpcError(err)
	}
	resp, err := g.s.Backtest(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(resp)
}

func (g *grpcService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f, err := parseRunFilter(structGetter(in))
	if err != nil {
		return nil, grpcError(err)
	}
	runs, err := g.s.ListRuns(ctx, f)
	if err != nil {
		return nil, grpcError(err)
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return toStruct(map[string]any{"runs": runs})
}

// grpcError maps domain errors onto status codes the way httpStatus maps
// them onto HTTP statuses.
func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, backtest.ErrInvalidParameter):
		code = codes.InvalidArgument
	case errors.Is(err, backtest.ErrInsufficientData):
		code = codes.FailedPrecondition
	case errors.Is(err, backtest.ErrDataUnavailable), errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errRunsDisabled):
		code = codes.Unimplemented
	}
	return status.Error(code, err.Error())
}

// structGetter reads fields of s as strings. Numbers are formatted without
// a trailing ".0" so integer fields parse with strconv.Atoi.
func structGetter(s *structpb.Struct) func(string) string {
	return func(key string) string {
		v, ok := s.GetFields()[key]
		if !ok {
			return ""
		}
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			return strings.TrimSpace(k.StringValue)
		case *structpb.Value_NumberValue:
			return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			return strconv.FormatBool(k.BoolValue)
		default:
			return ""
		}
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encoding response: %v", err))
	}
	return out, nil
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// BacktesterClient calls a remote mombt.Backtester service.
type BacktesterClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktesterClient wraps an established connection.
func NewBacktesterClient(cc grpc.ClientConnInterface) *BacktesterClient {
	return &BacktesterClient{cc: cc}
}

// Run runs a backtest remotely.
func (c *BacktesterClient) Run(ctx context.Context, req BacktestRequest) (*RunResponse, error) {
	fields := map[string]any{
		"symbol": req.Symbol,
		"start":  req.Start.Format(time.DateOnly),
	}
	if req.Momentum > 0 {
		fields["momentum"] = req.Momentum
	}
	if !req.End.IsZero() {
		fields["end"] = req.End.Format(time.DateOnly)
	}
	if req.Amount != nil {
		fields["amount"] = *req.Amount
	}
	if req.Cost != nil {
		fields["tc"] = *req.Cost
	}
	if req.Leverage != nil {
		fields["leverage"] = *req.Leverage
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, runMethod, in, out); err != nil {
		return nil, err
	}
	var resp RunResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// ListRuns lists saved runs remotely, newest first.
func (c *BacktesterClient) ListRuns(ctx context.Context, f store.RunFilter) ([]store.RunRecord, error) {
	fields := map[string]any{}
	if f.Symbol != "" {
		fields["symbol"] = f.Symbol
	}
	if f.Limit > 0 {
		fields["limit"] = f.Limit
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listRunsMethod, in, out); err != nil {
		return nil, err
	}
	var resp struct {
		Runs []store.RunRecord `json:"runs"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.Runs, nil
}
