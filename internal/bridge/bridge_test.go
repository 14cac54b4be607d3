// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/plughost/plughost/internal/observability"
	"github.com/plughost/plughost/internal/router"
	"github.com/plughost/plughost/pkg/pluginsdk"
)

type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(ctx context.Context, pluginID, symbol string, req []byte) ([]byte, error) {
	args := m.Called(ctx, pluginID, symbol, req)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(c Caller, opts ...Option) *Bridge {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	}, opts...)
	return New(c, opts...)
}

func match(pluginID, symbol, path string, params map[string]string) router.Match {
	return router.Match{
		Route:  router.Route{PluginID: pluginID, Method: "GET", Pattern: path, Symbol: symbol},
		Path:   path,
		Params: params,
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestBridge_ServeRoute_PassesEnvelope(t *testing.T) {
	var seen *pluginsdk.Request
	caller := CallerFunc(func(_ context.Context, pluginID, symbol string, req []byte) ([]byte, error) {
		assert.Equal(t, "currency", pluginID)
		assert.Equal(t, "get_balance", symbol)
		parsed, err := pluginsdk.ParseRequest(req)
		require.NoError(t, err)
		seen = parsed
		return []byte(`{"balance":100}`), nil
	})
	b := newTestBridge(caller)

	r := httptest.NewRequest(http.MethodPost, "/currency/balance/u1?user_id=u1&verbose", strings.NewReader("hi"))
	r.Header.Set("X-Token", "abc")
	rec := httptest.NewRecorder()
	b.ServeRoute(rec, r, match("currency", "get_balance", "/balance/u1", map[string]string{"user": "u1"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance":100}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	require.NotNil(t, seen)
	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "/balance/u1", seen.Path)
	assert.Equal(t, map[string]string{"user_id": "u1", "verbose": ""}, seen.Query)
	assert.Equal(t, map[string]string{"user": "u1"}, seen.Params)
	assert.Equal(t, "abc", seen.Headers["X-Token"])
	assert.Equal(t, 2, seen.BodyLen)
}

func TestBridge_ServeRoute_ReusesRequestID(t *testing.T) {
	b := newTestBridge(CallerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		return []byte(`{}`), nil
	}))

	r := httptest.NewRequest(http.MethodGet, "/p/x", nil)
	r.Header.Set(HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()
	b.ServeRoute(rec, r, match("p", "x", "/x", nil))

	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestBridge_ServeRoute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "handler not found",
			err:        oops.Code(CodeHandlerNotFound).Wrap(ErrHandlerNotFound),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    `handler "get_balance" not found in plugin "currency"`,
		},
		{
			name:       "library missing",
			err:        oops.Code(CodePluginLibraryMissing).Wrap(ErrLibraryMissing),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    `plugin "currency" has no loaded library`,
		},
		{
			name:       "panic",
			err:        oops.Code(CodeHandlerPanic).With("panic", "secret detail").Wrap(ErrHandlerPanic),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "plugin handler panicked",
		},
		{
			name:       "null response",
			err:        oops.Code(CodeNullResponse).Wrap(ErrNullResponse),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    `handler "get_balance" in plugin "currency" returned no response`,
		},
		{
			name:       "unknown failure",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "plugin call failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &mockCaller{}
			caller.On("Call", mock.Anything, "currency", "get_balance", mock.Anything).Return(nil, tt.err)
			b := newTestBridge(caller)

			rec := httptest.NewRecorder()
			b.ServeRoute(rec, httptest.NewRequest(http.MethodGet, "/currency/balance", nil),
				match("currency", "get_balance", "/balance", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
			assert.NotContains(t, rec.Body.String(), "secret detail")
			caller.AssertExpectations(t)
		})
	}
}

func TestBridge_ServeRoute_BodyTooLarge(t *testing.T) {
	caller := &mockCaller{}
	b := newTestBridge(caller, WithMaxBodyBytes(4))

	rec := httptest.NewRecorder()
	b.ServeRoute(rec, httptest.NewRequest(http.MethodPost, "/p/x", strings.NewReader("too long")),
		match("p", "x", "/x", nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request body too large", decodeError(t, rec))
	caller.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBridge_ServeRoute_BodyAtLimit(t *testing.T) {
	caller := &mockCaller{}
	caller.On("Call", mock.Anything, "p", "x", mock.Anything).Return([]byte(`{}`), nil)
	b := newTestBridge(caller, WithMaxBodyBytes(4))

	rec := httptest.NewRecorder()
	b.ServeRoute(rec, httptest.NewRequest(http.MethodPost, "/p/x", strings.NewReader("four")),
		match("p", "x", "/x", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestBridge_ServeRoute_BodyReadFailure(t *testing.T) {
	b := newTestBridge(&mockCaller{})

	rec := httptest.NewRecorder()
	b.ServeRoute(rec, httptest.NewRequest(http.MethodPost, "/p/x", failingReader{}),
		match("p", "x", "/x", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "failed to read request body", decodeError(t, rec))
}

func TestBridge_ServeRoute_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	b := newTestBridge(CallerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		<-release
		return []byte(`{}`), nil
	}), WithCallTimeout(20*time.Millisecond))

	rec := httptest.NewRecorder()
	b.ServeRoute(rec, httptest.NewRequest(http.MethodGet, "/slow/wait", nil), match("slow", "wait", "/wait", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, `handler "wait" in plugin "slow" timed out`, decodeError(t, rec))
}

func TestBridge_ServeRoute_TimeoutNotHit(t *testing.T) {
	b := newTestBridge(CallerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		return []byte(`{"__ffi_response__":true,"status":201}`), nil
	}), WithCallTimeout(time.Second))

	rec := httptest.NewRecorder()
	b.ServeRoute(rec, httptest.NewRequest(http.MethodGet, "/p/x", nil), match("p", "x", "/x", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBridge_ServeRoute_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)

	calls := 0
	b := newTestBridge(CallerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		calls++
		if calls == 2 {
			return nil, oops.Code(CodeHandlerPanic).Wrap(ErrHandlerPanic)
		}
		return []byte(`{}`), nil
	}), WithMetrics(metrics))

	for range 2 {
		b.ServeRoute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/p/x", nil), match("p", "x", "/x", nil))
	}

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PluginCallsTotal.WithLabelValues("p", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PluginCallsTotal.WithLabelValues("p", "500")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PluginCallFailures.WithLabelValues("p", CodeHandlerPanic)), 0)
}

func TestBridge_ServeRoute_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	b := newTestBridge(CallerFunc(func(context.Context, string, string, []byte) ([]byte, error) {
		return nil, oops.Code(CodeNullResponse).Wrap(ErrNullResponse)
	}), WithLogger(logger))

	b.ServeRoute(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/p/x", nil), match("p", "x", "/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "plugin call failed", entry["msg"])
	assert.Equal(t, CodeNullResponse, entry["code"])
	assert.Equal(t, "p", entry["plugin"])
	assert.Equal(t, "x", entry["handler"])
	assert.NotEmpty(t, entry["request_id"])
}
