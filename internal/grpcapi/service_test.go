package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/opentalon/tutorflow/internal/api"
	"github.com/opentalon/tutorflow/internal/catalog"
	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/oracle/oracletest"
	"github.com/opentalon/tutorflow/internal/router"
	"github.com/opentalon/tutorflow/internal/workflow"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func dial(t *testing.T, orc *oracletest.Oracle) (*grpc.ClientConn, context.Context) {
	t.Helper()
	cat := catalog.Default()
	ext, err := extractor.New(cat, orc, extractor.Options{Logger: quiet})
	require.NoError(t, err)
	wf := workflow.New(router.New(cat, orc, router.Options{Logger: quiet}), ext, workflow.Options{Logger: quiet})

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewService(wf, quiet))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return conn, ctx
}

func TestInvoke(t *testing.T) {
	conn, ctx := dial(t, oracletest.Derivatives())
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", "grpc-7")

	var (
		resp   api.InvokeResponse
		header metadata.MD
	)
	err := conn.Invoke(ctx, InvokeMethod, &api.InvokeRequest{UserMessage: "notes and cards"}, &resp, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, "notes and cards", resp.InputMessage)
	require.Len(t, resp.FinalPayloads, 2)
	assert.Equal(t, "easy", resp.FinalPayloads[1]["difficulty"])
	first := header.Get("x-invocation-id")
	require.Len(t, first, 1)
	assert.NotEqual(t, "grpc-7", first[0])

	err = conn.Invoke(ctx, InvokeMethod, &api.InvokeRequest{UserMessage: "notes and cards"}, &resp, grpc.Header(&header))
	require.NoError(t, err)
	second := header.Get("x-invocation-id")
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0], second[0], "a repeated x-request-id must not reuse the invocation id")
}

func TestInvokeStatusCodes(t *testing.T) {
	conn, ctx := dial(t, oracletest.Derivatives())
	var resp api.InvokeResponse
	err := conn.Invoke(ctx, InvokeMethod, &api.InvokeRequest{UserMessage: " "}, &resp)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	conn, ctx = dial(t, oracletest.Unreachable())
	err = conn.Invoke(ctx, InvokeMethod, &api.InvokeRequest{UserMessage: "notes"}, &resp)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "routing failed")
}

func TestStream(t *testing.T) {
	conn, ctx := dial(t, oracletest.Derivatives())
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&api.InvokeRequest{UserMessage: "notes and cards"}))
	require.NoError(t, stream.CloseSend())

	var events []Event
	for {
		var ev Event
		err := stream.RecvMsg(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 4)
	assert.Equal(t, api.EventRouted, events[0].Type)
	assert.Equal(t, []string{catalog.NoteMaker, catalog.FlashcardGen}, events[0].Tools)
	require.NotNil(t, events[2].Index)
	assert.Equal(t, 1, *events[2].Index)
	assert.Equal(t, api.EventDone, events[3].Type)
	assert.Len(t, events[3].FinalPayloads, 2)
}

func TestStreamNothingRouted(t *testing.T) {
	conn, ctx := dial(t, &oracletest.Oracle{Route: ""})
	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], StreamMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(&api.InvokeRequest{UserMessage: "What's the capital of France?"}))
	require.NoError(t, stream.CloseSend())

	var raw []json.RawMessage
	for {
		var msg json.RawMessage
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		raw = append(raw, msg)
	}
	require.Len(t, raw, 2)
	var done map[string]any
	require.NoError(t, json.Unmarshal(raw[1], &done))
	assert.Equal(t, api.EventDone, done["type"])
	assert.Equal(t, []any{}, done["final_payloads"])
	assert.Equal(t, "What's the capital of France?", done["input_message"])
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(&router.Error{Err: errors.New("x")})))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(context.DeadlineExceeded)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("x"))))
}
