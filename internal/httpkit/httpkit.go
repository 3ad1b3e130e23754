// Package httpkit is the service's HTTP request pipeline: an ordered chain
// of policies terminating in a route dispatch, generalized to task
// resources with a single API surface (no versioning requirement).
package httpkit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/funmagic-ai/magiworld-sub000/internal/svcerr"
)

// ReqRes carries the incoming request and outgoing response writer through
// the policy chain and into the route handler.
type ReqRes struct {
	ID string
	R  *http.Request
	RW *responseWriter

	policies []Policy
	logger   *slog.Logger
}

// Policy is one link in the request-processing chain. It returns true if it
// (or something it called) already wrote a response and the chain should
// stop.
type Policy func(context.Context, *ReqRes) bool

type responseWriter struct {
	http.ResponseWriter
	statusCode          int
	numWriteHeaderCalls int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.numWriteHeaderCalls++
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush forwards to the underlying ResponseWriter's Flusher, if any, so SSE
// handlers can stream through this wrapper. http.ResponseWriter embedding
// alone does not promote Flush (it isn't part of that interface), hence the
// explicit type assertion.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Next invokes the next policy in the chain, popping it off the front.
func (rr *ReqRes) Next(ctx context.Context) bool {
	if len(rr.policies) == 0 {
		return false
	}
	next := rr.policies[0]
	rr.policies = rr.policies[1:]
	return next(ctx, rr)
}

// WriteError writes a formatted ServiceError to the response.
func (rr *ReqRes) WriteError(statusCode int, errorCode, messageFmt string, a ...any) bool {
	return rr.WriteServiceError(svcerr.New(statusCode, errorCode, messageFmt, a...))
}

// WriteServiceError writes se as the HTTP response body and returns true
// (stop processing).
func (rr *ReqRes) WriteServiceError(se *svcerr.ServiceError) bool {
	rr.RW.Header().Set("Content-Type", "application/json")
	rr.RW.WriteHeader(se.StatusCode)
	_, _ = rr.RW.Write([]byte(se.Error()))
	return true
}

// WriteJSON writes statusCode and body (JSON-marshaled by the caller via
// MarshalJSON, already serialized) to the response.
func (rr *ReqRes) WriteJSON(statusCode int, body []byte) bool {
	rr.RW.Header().Set("Content-Type", "application/json")
	rr.RW.Header().Set("Content-Length", strconv.Itoa(len(body)))
	rr.RW.WriteHeader(statusCode)
	if len(body) > 0 {
		_, _ = rr.RW.Write(body)
	}
	return true
}

func (rr *ReqRes) numWriteHeaderCalls() int { return rr.RW.numWriteHeaderCalls }

// Route binds an HTTP method + pattern to a terminal handler.
type Route struct {
	Method  string
	Pattern string
	Handler Policy
}

// BuildHandlerConfig configures BuildHandler.
type BuildHandlerConfig struct {
	Policies []Policy // applied, in order, before route dispatch
	Routes   []Route
	Logger   *slog.Logger
}

// BuildHandler assembles the full policy chain + route dispatch into a single
// http.Handler under a single error-handling contract: exactly one
// WriteError/WriteJSON call per request, panics recovered and logged, and a
// 500 sent if nothing else wrote a response.
func BuildHandler(c BuildHandlerConfig) http.Handler {
	dispatch := newDispatchPolicy(c.Routes)
	policies := append([]Policy{}, c.Policies...)
	policies = append(policies, dispatch)
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rr := &ReqRes{
			ID:       strconv.FormatInt(time.Now().UnixNano(), 10),
			R:        r,
			RW:       &responseWriter{ResponseWriter: w},
			policies: append([]Policy{}, policies...),
			logger:   logger,
		}
		logger.LogAttrs(r.Context(), slog.LevelInfo, "->", slog.String("id", rr.ID), slog.String("method", r.Method), slog.String("url", r.URL.String()))

		defer func() {
			stack := ""
			if v := recover(); v != nil {
				stack = fmt.Sprintf("panic: %v", v)
				fmt.Fprintln(os.Stderr, stack)
			}
			if stack == "" && rr.numWriteHeaderCalls() == 1 {
				logger.LogAttrs(r.Context(), slog.LevelInfo, "<-", slog.String("id", rr.ID), slog.Int("status", rr.RW.statusCode))
				return
			}
			logger.LogAttrs(r.Context(), slog.LevelError, "request error", slog.String("id", rr.ID),
				slog.Int("numWriteHeaderCalls", rr.numWriteHeaderCalls()), slog.String("stack", stack))
			if rr.numWriteHeaderCalls() == 0 {
				rr.WriteError(http.StatusInternalServerError, "InternalServerError", "")
			}
		}()

		rr.Next(r.Context())
	})
}

// smuggler lets a Policy travel through http.ServeMux.ServeHTTP (which sets
// r.PathValue entries as a side effect of matching {name} segments) and
// carries the continue/stop flag back out: net/http only exposes path
// values via ServeHTTP, not via Handler().
type smuggler struct {
	http.ResponseWriter
	ctx  context.Context
	rr   *ReqRes
	stop bool
}

func newDispatchPolicy(routes []Route) Policy {
	mux := http.NewServeMux()
	for _, route := range routes {
		route := route
		mux.HandleFunc(route.Method+" "+route.Pattern, func(w http.ResponseWriter, r *http.Request) {
			s := w.(*smuggler)
			s.rr.R = r // r now carries PathValues set by ServeMux
			s.stop = route.Handler(s.ctx, s.rr)
		})
	}
	return func(ctx context.Context, rr *ReqRes) bool {
		s := &smuggler{ResponseWriter: rr.RW, ctx: ctx, rr: rr}
		mux.ServeHTTP(s, rr.R)
		return s.stop
	}
}
