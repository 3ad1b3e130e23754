package httpkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildHandler_DispatchesToMatchingRoute(t *testing.T) {
	h := BuildHandler(BuildHandlerConfig{
		Routes: []Route{
			{Method: http.MethodGet, Pattern: "/tasks/{id}", Handler: func(ctx context.Context, rr *ReqRes) bool {
				return rr.WriteJSON(http.StatusOK, []byte(`{"id":"`+rr.R.PathValue("id")+`"}`))
			}},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/t1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"t1"}`, rec.Body.String())
}

func TestBuildHandler_UnmatchedRouteWritesDefaultNotFound(t *testing.T) {
	h := BuildHandler(BuildHandlerConfig{Routes: []Route{}})
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildHandler_PanicRecoveredAsInternalServerError(t *testing.T) {
	h := BuildHandler(BuildHandlerConfig{
		Routes: []Route{
			{Method: http.MethodGet, Pattern: "/boom", Handler: func(ctx context.Context, rr *ReqRes) bool {
				panic("boom")
			}},
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGracefulShutdownPolicy_RejectsOnceShuttingDown(t *testing.T) {
	s := NewShutdownCtx(0)
	h := BuildHandler(BuildHandlerConfig{
		Policies: []Policy{NewGracefulShutdownPolicy(s)},
		Routes: []Route{
			{Method: http.MethodGet, Pattern: "/ok", Handler: func(ctx context.Context, rr *ReqRes) bool {
				return rr.WriteJSON(http.StatusOK, []byte(`{}`))
			}},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	s.BeginShutdown(nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}

func TestThrottlingPolicy_RejectsOverLimit(t *testing.T) {
	h := BuildHandler(BuildHandlerConfig{
		Policies: []Policy{NewThrottlingPolicy(1)},
		Routes: []Route{
			{Method: http.MethodGet, Pattern: "/ok", Handler: func(ctx context.Context, rr *ReqRes) bool {
				return rr.WriteJSON(http.StatusOK, []byte(`{}`))
			}},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestShutdownCtx_WaitBlocksUntilInflightDrained(t *testing.T) {
	s := NewShutdownCtx(0)
	s.IncrementInflight()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before DecrementInflight")
	default:
	}

	s.DecrementInflight()
	<-done
}
