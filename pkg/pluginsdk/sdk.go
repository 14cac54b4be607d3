// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package pluginsdk provides the wire types for building plughost native plugins.
//
// A native plugin is a shared library exporting one C function per route:
//
//	const char* handler(const uint8_t* req, size_t len, const void* reserved);
//
// The host passes the JSON encoding of a Request and expects a NUL-terminated
// JSON buffer back. A plugin may export free_string(char*) so the host can
// hand the buffer back for release once it has copied it.
//
// Example usage from a Go plugin built with -buildmode=c-shared:
//
//	//export get_balance
//	func get_balance(req *C.uchar, n C.size_t, _ unsafe.Pointer) *C.char {
//		in, err := pluginsdk.ParseRequest(C.GoBytes(unsafe.Pointer(req), C.int(n)))
//		if err != nil {
//			return C.CString(string(pluginsdk.Error(400, err.Error())))
//		}
//		return C.CString(string(pluginsdk.JSON(200, map[string]any{"user": in.Query["user_id"]})))
//	}
package pluginsdk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ResponseMarker is the field that switches the host into structured
// response mode. Payloads without it are treated as a raw JSON body.
const ResponseMarker = "__ffi_response__"

// FreeSymbol is the optional deallocator export looked up by the host.
const FreeSymbol = "free_string"

// Request is the envelope the host passes into a plugin handler.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   map[string]string `json:"query"`
	Params  map[string]string `json:"params"`
	Headers map[string]string `json:"headers"`
	// Body is the standard base64 encoding of the raw request body.
	Body    string `json:"body"`
	BodyLen int    `json:"body_len"`
}

// ParseRequest decodes a request envelope.
func ParseRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid request envelope: %w", err)
	}
	return &r, nil
}

// RawBody returns the decoded request body.
func (r *Request) RawBody() ([]byte, error) {
	if r.Body == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(r.Body)
	if err != nil {
		return nil, fmt.Errorf("invalid body encoding: %w", err)
	}
	return b, nil
}

// Response is the structured envelope a plugin handler returns.
type Response struct {
	Marker     bool              `json:"__ffi_response__"`
	Status     int               `json:"status,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	BodyBase64 string            `json:"body_base64,omitempty"`
}

// Encode serializes the response with the structured-mode marker set.
func (r Response) Encode() []byte {
	r.Marker = true
	data, err := json.Marshal(r)
	if err != nil {
		return Error(500, fmt.Sprintf("encode response: %v", err))
	}
	return data
}

// JSON builds a structured response carrying v as a JSON body.
func JSON(status int, v any) []byte {
	return Response{Status: status, Body: v}.Encode()
}

// Bytes builds a structured response carrying a binary body.
func Bytes(status int, contentType string, body []byte) []byte {
	resp := Response{
		Status:     status,
		BodyBase64: base64.StdEncoding.EncodeToString(body),
	}
	if contentType != "" {
		resp.Headers = map[string]string{"Content-Type": contentType}
	}
	return resp.Encode()
}

// Error builds a structured response with an {"error": msg} body.
func Error(status int, msg string) []byte {
	data, _ := json.Marshal(Response{
		Marker: true,
		Status: status,
		Body:   map[string]string{"error": msg},
	})
	return data
}
