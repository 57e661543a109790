package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/reqid"
	"github.com/opentalon/tutorflow/internal/router"
	"github.com/opentalon/tutorflow/internal/workflow"
)

// Stream event types sent on /ws.
const (
	EventRouted  = "routed"
	EventPayload = "payload"
	EventDone    = "done"
	EventError   = "error"
)

type routedEvent struct {
	Type         string   `json:"type"`
	InvocationID string   `json:"invocation_id"`
	Tools        []string `json:"tools"`
}

type payloadEvent struct {
	Type    string            `json:"type"`
	Index   int               `json:"index"`
	Tool    string            `json:"tool"`
	Payload extractor.Payload `json:"payload"`
}

type doneEvent struct {
	Type string `json:"type"`
	InvokeResponse
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Stream upgrades to a websocket and serves invoke requests one at a time,
// streaming an event per workflow step.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	for {
		var req InvokeRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read", "err", err)
			}
			return
		}
		if strings.TrimSpace(req.UserMessage) == "" {
			if err := wsjson.Write(ctx, conn, errorEvent{Type: EventError, Error: ErrEmptyMessage.Error()}); err != nil {
				return
			}
			continue
		}
		if err := h.streamOne(ctx, conn, req.UserMessage); err != nil {
			h.logger.Debug("websocket write", "err", err)
			return
		}
	}
}

func (h *Handler) streamOne(ctx context.Context, conn *websocket.Conn, msg string) error {
	ctx = reqid.WithID(ctx, reqid.New())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var (
		mu       sync.Mutex
		writeErr error
	)
	send := func(ctx context.Context, v any) {
		mu.Lock()
		defer mu.Unlock()
		if writeErr == nil {
			writeErr = wsjson.Write(ctx, conn, v)
		}
	}
	obs := workflow.Funcs{
		Routed: func(ctx context.Context, tools []string) {
			send(ctx, routedEvent{Type: EventRouted, InvocationID: reqid.ID(ctx), Tools: tools})
		},
		Payload: func(ctx context.Context, i int, tool string, p extractor.Payload) {
			send(ctx, payloadEvent{Type: EventPayload, Index: i, Tool: tool, Payload: p})
		},
	}

	res, err := h.wf.RunWith(ctx, msg, obs)
	if err != nil {
		ev := errorEvent{Type: EventError, Error: err.Error()}
		if errors.Is(err, router.ErrRouting) {
			ev.Stage = string(workflow.StageRouting)
		}
		send(ctx, ev)
	} else {
		send(ctx, doneEvent{Type: EventDone, InvokeResponse: NewInvokeResponse(res)})
	}
	return writeErr
}
