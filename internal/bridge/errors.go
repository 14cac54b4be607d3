// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package bridge

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/plughost/plughost/pkg/errutil"
)

// Error codes attached to bridge failures.
const (
	CodeRequestDecode        = "REQUEST_DECODE"
	CodeBodyTooLarge         = "BODY_TOO_LARGE"
	CodeHandlerNotFound      = "HANDLER_NOT_FOUND"
	CodePluginLibraryMissing = "PLUGIN_LIBRARY_MISSING"
	CodeHandlerPanic         = "HANDLER_PANIC"
	CodeNullResponse         = "NULL_RESPONSE"
	CodeCallTimeout          = "CALL_TIMEOUT"
)

// Sentinel errors for programmatic error checking. Callers wrap them with
// oops so the code and plugin context travel with the error.
var (
	// ErrHandlerNotFound is returned when the library does not export the route's symbol.
	ErrHandlerNotFound = errors.New("handler not exported by plugin library")
	// ErrLibraryMissing is returned when a routed plugin has no loaded library.
	ErrLibraryMissing = errors.New("plugin library not loaded")
	// ErrHandlerPanic is returned when the call boundary panicked.
	ErrHandlerPanic = errors.New("plugin handler panicked")
	// ErrNullResponse is returned when a handler returns a null pointer.
	ErrNullResponse = errors.New("plugin handler returned null")
	// ErrCallTimeout is returned when the host stops waiting on a handler.
	ErrCallTimeout = errors.New("plugin handler timed out")
	// ErrBodyTooLarge is returned when a request body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// panicMessage is the fixed body text for a panicked handler. Panic values
// are logged, never echoed to clients.
const panicMessage = "plugin handler panicked"

// statusFor maps a call error to the HTTP status and client-facing message.
func statusFor(err error, plugin, symbol string) (int, string) {
	switch {
	case errors.Is(err, ErrHandlerPanic):
		return http.StatusInternalServerError, panicMessage
	case errors.Is(err, ErrCallTimeout):
		return http.StatusGatewayTimeout, fmt.Sprintf("handler %q in plugin %q timed out", symbol, plugin)
	case errors.Is(err, ErrHandlerNotFound):
		return http.StatusInternalServerError, fmt.Sprintf("handler %q not found in plugin %q", symbol, plugin)
	case errors.Is(err, ErrLibraryMissing):
		return http.StatusInternalServerError, fmt.Sprintf("plugin %q has no loaded library", plugin)
	case errors.Is(err, ErrNullResponse):
		return http.StatusInternalServerError, fmt.Sprintf("handler %q in plugin %q returned no response", symbol, plugin)
	default:
		return http.StatusInternalServerError, "plugin call failed"
	}
}

// codeFor returns the metrics/log code for err, defaulting to CALL_FAILED.
func codeFor(err error) string {
	if code := errutil.Code(err); code != "" {
		return code
	}
	return "CALL_FAILED"
}
