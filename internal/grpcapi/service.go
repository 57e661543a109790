// Package grpcapi serves the orchestrator over gRPC with a JSON codec, so
// no generated stubs are needed. Messages are the same JSON objects the
// HTTP API uses.
package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/opentalon/tutorflow/internal/api"
	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/reqid"
	"github.com/opentalon/tutorflow/internal/router"
	"github.com/opentalon/tutorflow/internal/workflow"
)

const (
	ServiceName   = "tutorflow.v1.Orchestrator"
	InvokeMethod  = "/" + ServiceName + "/Invoke"
	StreamMethod  = "/" + ServiceName + "/Stream"
	requestIDKey  = "x-request-id"
	invocationKey = "x-invocation-id"
)

// Event is one message of the Stream method. Clients can decode every
// message into it; the server sends the final one as a DoneEvent.
type Event struct {
	Type          string              `json:"type"`
	InvocationID  string              `json:"invocation_id,omitempty"`
	Tools         []string            `json:"tools,omitempty"`
	Index         *int                `json:"index,omitempty"`
	Tool          string              `json:"tool,omitempty"`
	Payload       extractor.Payload   `json:"payload,omitempty"`
	InputMessage  string              `json:"input_message,omitempty"`
	FinalPayloads []extractor.Payload `json:"final_payloads,omitempty"`
}

// DoneEvent ends a successful stream. Unlike Event it always carries
// input_message and final_payloads, even when nothing was routed.
type DoneEvent struct {
	Type          string              `json:"type"`
	InvocationID  string              `json:"invocation_id"`
	InputMessage  string              `json:"input_message"`
	FinalPayloads []extractor.Payload `json:"final_payloads"`
}

// OrchestratorServer is the handler type registered on the service.
type OrchestratorServer interface {
	Invoke(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResponse, error)
	Stream(req *api.InvokeRequest, stream grpc.ServerStream) error
}

type Service struct {
	wf     api.Invoker
	logger *slog.Logger
}

func NewService(wf api.Invoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{wf: wf, logger: logger}
}

func (s *Service) Invoke(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResponse, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, status.Error(codes.InvalidArgument, api.ErrEmptyMessage.Error())
	}
	id := reqid.New()
	_ = grpc.SetHeader(ctx, metadata.Pairs(invocationKey, id))
	res, err := s.wf.RunWith(reqid.WithID(ctx, id), req.UserMessage)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := api.NewInvokeResponse(res)
	return &resp, nil
}

// Stream sends a routed event, one payload event per queued tool and a
// final done event. A routing failure ends the stream with Unavailable.
func (s *Service) Stream(req *api.InvokeRequest, stream grpc.ServerStream) error {
	if strings.TrimSpace(req.UserMessage) == "" {
		return status.Error(codes.InvalidArgument, api.ErrEmptyMessage.Error())
	}
	var sendErr error
	send := func(ev any) {
		if sendErr == nil {
			sendErr = stream.SendMsg(ev)
		}
	}
	obs := workflow.Funcs{
		Routed: func(ctx context.Context, tools []string) {
			send(&Event{Type: api.EventRouted, InvocationID: reqid.ID(ctx), Tools: tools})
		},
		Payload: func(_ context.Context, i int, tool string, p extractor.Payload) {
			send(&Event{Type: api.EventPayload, Index: &i, Tool: tool, Payload: p})
		},
	}
	res, err := s.wf.RunWith(reqid.WithID(stream.Context(), reqid.New()), req.UserMessage, obs)
	if err != nil {
		return toStatus(err)
	}
	resp := api.NewInvokeResponse(res)
	send(&DoneEvent{Type: api.EventDone, InvocationID: res.InvocationID, InputMessage: resp.InputMessage, FinalPayloads: resp.FinalPayloads})
	return sendErr
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, router.ErrRouting):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.InvokeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrchestratorServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InvokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrchestratorServer).Invoke(ctx, req.(*api.InvokeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	in := new(api.InvokeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OrchestratorServer).Stream(in, stream)
}

// ServiceDesc describes the Orchestrator service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrchestratorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
	Metadata: "tutorflow/v1/orchestrator",
}

// NewServer returns a grpc.Server with the service registered and
// request-id propagation and logging interceptors installed.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unaryInterceptor(svc.logger)),
		grpc.ChainStreamInterceptor(streamInterceptor(svc.logger)),
	)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, svc)
	return srv
}

// withRequestID adopts the caller's x-request-id or mints one. It is a
// correlation id only; each call still gets its own invocation id.
func withRequestID(ctx context.Context) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDKey); len(v) > 0 && v[0] != "" {
			return reqid.WithRequestID(ctx, v[0])
		}
	}
	return reqid.WithRequestID(ctx, reqid.New())
}

func unaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = withRequestID(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"request_id", reqid.RequestID(ctx),
		)
		return resp, err
	}
}

type idStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *idStream) Context() context.Context { return s.ctx }

func streamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withRequestID(ss.Context())
		start := time.Now()
		err := handler(srv, &idStream{ServerStream: ss, ctx: ctx})
		logger.Info("grpc stream",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"request_id", reqid.RequestID(ctx),
		)
		return err
	}
}
