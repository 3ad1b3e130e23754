package intake

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/funmagic-ai/magiworld-sub000/internal/httpkit"
	"github.com/funmagic-ai/magiworld-sub000/internal/sse"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
	"github.com/funmagic-ai/magiworld-sub000/pkg/apitypes"
)

// ownerIDHeader carries the caller's identity, now that tasks are
// owner-partitioned.
const ownerIDHeader = "X-Owner-Id"

// Routes builds the HTTP route table for the Intake Service + SSE Gateway.
func Routes(svc *Service, store taskstore.Store, gateway *sse.Gateway) []httpkit.Route {
	return []httpkit.Route{
		{Method: http.MethodPost, Pattern: "/tasks", Handler: handleCreate(svc)},
		{Method: http.MethodGet, Pattern: "/tasks", Handler: handleList(store, svc.OwnerKind)},
		{Method: http.MethodGet, Pattern: "/tasks/{id}", Handler: handleGet(store)},
		{Method: http.MethodGet, Pattern: "/tasks/{id}/stream", Handler: handleStream(gateway)},
	}
}

func handleCreate(svc *Service) httpkit.Policy {
	return func(ctx context.Context, rr *httpkit.ReqRes) bool {
		ownerID := rr.R.Header.Get(ownerIDHeader)
		body, err := io.ReadAll(rr.R.Body)
		if err != nil {
			return rr.WriteError(http.StatusBadRequest, "ValidationFailed", "could not read request body")
		}
		var req apitypes.TaskCreateRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return rr.WriteError(http.StatusBadRequest, "ValidationFailed", "invalid JSON body: %v", err)
		}

		task, se := svc.Create(ctx, ownerID, req.ToolSlug, req.InputParams, req.IdempotencyKey, req.ParentTaskID)
		if se != nil {
			return rr.WriteServiceError(se)
		}

		resp := apitypes.TaskCreateResponse{TaskID: task.ID, Status: string(task.Status)}
		respBody, err := json.Marshal(resp)
		if err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "marshal response: %v", err)
		}
		return rr.WriteJSON(http.StatusAccepted, respBody)
	}
}

func handleGet(store taskstore.Store) httpkit.Policy {
	return func(ctx context.Context, rr *httpkit.ReqRes) bool {
		id := rr.R.PathValue("id")
		task, err := store.Get(ctx, id)
		if err == taskstore.ErrNotFound {
			return rr.WriteError(http.StatusNotFound, "NotFound", "task %q not found", id)
		}
		if err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "%v", err)
		}

		out := apitypes.FromTask(task)
		if rr.R.URL.Query().Get("includeChildren") == "true" {
			children, err := store.ListChildren(ctx, id)
			if err != nil {
				return rr.WriteError(http.StatusInternalServerError, "InternalError", "%v", err)
			}
			for _, c := range children {
				out.ChildTasks = append(out.ChildTasks, apitypes.FromTask(c))
			}
		}

		body, err := json.Marshal(out)
		if err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "marshal response: %v", err)
		}
		return rr.WriteJSON(http.StatusOK, body)
	}
}

func handleList(store taskstore.Store, ownerKind taskstore.OwnerKind) httpkit.Policy {
	return func(ctx context.Context, rr *httpkit.ReqRes) bool {
		ownerID := rr.R.Header.Get(ownerIDHeader)
		if ownerID == "" {
			return rr.WriteError(http.StatusBadRequest, "ValidationFailed", "%s header required", ownerIDHeader)
		}
		q := rr.R.URL.Query()
		filter := taskstore.ListFilter{
			OwnerKind: ownerKind,
			OwnerID:   ownerID,
			ToolSlug:  q.Get("toolId"),
			RootOnly:  q.Get("rootOnly") == "true",
		}
		if limitStr := q.Get("limit"); limitStr != "" {
			if limit, err := strconv.Atoi(limitStr); err == nil {
				filter.Limit = limit
			}
		}

		tasks, err := store.ListRecent(ctx, filter)
		if err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "%v", err)
		}

		resp := apitypes.TaskListResponse{Tasks: make([]apitypes.Task, 0, len(tasks))}
		includeChildren := q.Get("includeChildren") == "true"
		for _, t := range tasks {
			out := apitypes.FromTask(t)
			if includeChildren {
				children, err := store.ListChildren(ctx, t.ID)
				if err != nil {
					return rr.WriteError(http.StatusInternalServerError, "InternalError", "%v", err)
				}
				for _, c := range children {
					out.ChildTasks = append(out.ChildTasks, apitypes.FromTask(c))
				}
			}
			resp.Tasks = append(resp.Tasks, out)
		}

		body, err := json.Marshal(resp)
		if err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "marshal response: %v", err)
		}
		return rr.WriteJSON(http.StatusOK, body)
	}
}

func handleStream(gateway *sse.Gateway) httpkit.Policy {
	return func(ctx context.Context, rr *httpkit.ReqRes) bool {
		id := rr.R.PathValue("id")
		if err := gateway.Stream(ctx, rr.RW, rr.R, id); err != nil {
			return rr.WriteError(http.StatusInternalServerError, "InternalError", "%v", err)
		}
		return true
	}
}
