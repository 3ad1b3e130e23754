// Package sse is the SSE Gateway (C9): a per-task HTTP endpoint that streams
// progress updates to a single browser session. The wire framing is
// hand-rolled over net/http.Flusher — see DESIGN.md for the stdlib
// justification.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/bus"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// Gateway streams task-progress events for GET /tasks/{id}/stream.
type Gateway struct {
	Store  taskstore.Store
	Bus    bus.Bus
	Logger *slog.Logger
}

// payload is the wire shape of one SSE "message" event.
type payload struct {
	TaskID     string          `json:"taskId"`
	Status     string          `json:"status"`
	Progress   int             `json:"progress"`
	OutputData json.RawMessage `json:"outputData,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func taskPayload(t *taskstore.Task) payload {
	return payload{
		TaskID:     t.ID,
		Status:     string(t.Status),
		Progress:   t.Progress,
		OutputData: json.RawMessage(t.OutputData),
		Error:      t.ErrorMessage,
	}
}

// Stream serves one SSE connection for taskID. It writes a synthetic event
// from the current Task Store row before subscribing to the bus, guaranteeing
// a late-attaching client observes the terminal state exactly once even if
// it missed every bus publish.
func (g *Gateway) Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("sse: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	task, err := g.Store.Get(ctx, taskID)
	if err != nil {
		writeEvent(w, "error", payload{TaskID: taskID, Error: "task not found"})
		flusher.Flush()
		return nil
	}
	writeEvent(w, "message", taskPayload(task))
	flusher.Flush()
	if task.Status.Terminal() {
		return nil // S5: late attach after completion sees exactly the terminal event, then closes
	}

	sub, err := g.Bus.Subscribe(ctx, taskID)
	if err != nil {
		writeEvent(w, "error", payload{TaskID: taskID, Error: "progress stream unavailable"})
		flusher.Flush()
		return nil
	}
	defer sub.Close()

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				writeEvent(w, "error", payload{TaskID: taskID, Error: "progress stream closed"})
				flusher.Flush()
				return nil
			}
			writeEvent(w, "message", payload{
				TaskID:     ev.TaskID,
				Status:     string(ev.Status),
				Progress:   ev.Progress,
				OutputData: ev.OutputData,
				Error:      ev.Error,
			})
			flusher.Flush()
			if taskstore.Status(ev.Status).Terminal() {
				return nil
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}
