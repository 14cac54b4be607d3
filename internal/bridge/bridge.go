// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package bridge turns routed HTTP requests into foreign calls into plugin
// libraries and turns the replies back into HTTP responses.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plughost/plughost/internal/observability"
	"github.com/plughost/plughost/internal/router"
	"github.com/plughost/plughost/pkg/errutil"
)

// HeaderRequestID carries the per-call request id. An inbound value is
// reused; otherwise a ULID is generated.
const HeaderRequestID = "X-Request-Id"

// DefaultMaxBodyBytes bounds the request body read into memory.
const DefaultMaxBodyBytes int64 = 32 << 20

// Caller invokes an exported handler symbol of a loaded plugin.
type Caller interface {
	Call(ctx context.Context, pluginID, symbol string, req []byte) ([]byte, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, pluginID, symbol string, req []byte) ([]byte, error)

// Call calls f.
func (f CallerFunc) Call(ctx context.Context, pluginID, symbol string, req []byte) ([]byte, error) {
	return f(ctx, pluginID, symbol, req)
}

// Bridge serves matched routes by calling into plugin libraries.
// It implements router.Handler.
type Bridge struct {
	caller  Caller
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	timeout time.Duration
	maxBody int64
}

var _ router.Handler = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithMetrics records call counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(b *Bridge) { b.tracer = t }
}

// WithLogger sets the logger used for call failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithCallTimeout stops waiting for a handler after d. Zero waits forever.
// The native call itself cannot be interrupted and runs to completion.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithMaxBodyBytes bounds the request body. Zero or less disables the limit.
func WithMaxBodyBytes(n int64) Option {
	return func(b *Bridge) { b.maxBody = n }
}

// New creates a Bridge that invokes handlers through caller.
func New(caller Caller, opts ...Option) *Bridge {
	b := &Bridge{
		caller:  caller,
		tracer:  otel.Tracer("github.com/plughost/plughost/internal/bridge"),
		logger:  slog.Default(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeRoute encodes the request, calls the route's handler and writes the
// decoded reply. Failures are answered with a JSON {"error": ...} body.
func (b *Bridge) ServeRoute(w http.ResponseWriter, r *http.Request, m router.Match) {
	start := time.Now()
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = ulid.Make().String()
	}
	w.Header().Set(HeaderRequestID, requestID)

	ctx, span := b.tracer.Start(r.Context(), "bridge.Call",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("plugin.id", m.Route.PluginID),
			attribute.String("plugin.handler", m.Route.Symbol),
			attribute.String("http.method", r.Method),
			attribute.String("http.route", m.Route.Pattern),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	resp, err := b.handle(ctx, r, m)
	if err != nil {
		status, msg := b.errorStatus(err, m.Route)
		resp = ErrorResponse(status, msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		errutil.LogError(b.logger.With(
			"plugin", m.Route.PluginID,
			"handler", m.Route.Symbol,
			"request_id", requestID,
		), "plugin call failed", err)
		b.metrics.ObserveCall(m.Route.PluginID, status, codeFor(err), time.Since(start))
	} else {
		b.metrics.ObserveCall(m.Route.PluginID, resp.Status, "", time.Since(start))
		if resp.Legacy {
			b.logger.Debug("plugin replied without response marker",
				"plugin", m.Route.PluginID, "handler", m.Route.Symbol)
		}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	resp.Write(w)
}

func (b *Bridge) handle(ctx context.Context, r *http.Request, m router.Match) (*Response, error) {
	body, err := b.readBody(r)
	if err != nil {
		return nil, err
	}

	payload, err := EncodeRequest(RequestInput{
		Method:  r.Method,
		Path:    m.Path,
		Query:   ParseQuery(r.URL.RawQuery),
		Params:  m.Params,
		Headers: FlattenHeaders(r),
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	raw, err := b.call(ctx, m.Route, payload)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(raw), nil
}

func (b *Bridge) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	reader := io.Reader(r.Body)
	if b.maxBody > 0 {
		reader = io.LimitReader(r.Body, b.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, oops.Code(CodeRequestDecode).Wrapf(err, "read request body")
	}
	if b.maxBody > 0 && int64(len(body)) > b.maxBody {
		return nil, oops.Code(CodeBodyTooLarge).
			With("limit", b.maxBody).
			Wrap(ErrBodyTooLarge)
	}
	return body, nil
}

// call invokes the handler, waiting at most b.timeout when one is set.
func (b *Bridge) call(ctx context.Context, route router.Route, payload []byte) ([]byte, error) {
	if b.timeout <= 0 {
		return b.caller.Call(ctx, route.PluginID, route.Symbol, payload)
	}

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := b.caller.Call(ctx, route.PluginID, route.Symbol, payload)
		done <- result{raw, err}
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.raw, res.err
	case <-timer.C:
		return nil, oops.Code(CodeCallTimeout).
			With("plugin", route.PluginID).
			With("handler", route.Symbol).
			With("timeout", b.timeout.String()).
			Wrap(ErrCallTimeout)
	}
}

func (b *Bridge) errorStatus(err error, route router.Route) (int, string) {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errutil.Code(err) == CodeRequestDecode:
		return http.StatusBadRequest, "failed to read request body"
	}
	return statusFor(err, route.PluginID, route.Symbol)
}
