// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package bridge

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/plughost/plughost/pkg/pluginsdk"
)

const (
	headerAllowOrigin = "Access-Control-Allow-Origin"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
	contentTypeText   = "text/plain; charset=utf-8"
)

// Response is a decoded plugin reply ready to be written to a client.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// Legacy is set when the plugin reply lacked the structured marker.
	Legacy bool
}

// DecodeResponse converts a plugin reply into an HTTP response. It never
// fails: anything that is not a structured envelope is served verbatim.
func DecodeResponse(raw []byte) *Response {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return legacyResponse(raw)
	}
	if _, ok := fields[pluginsdk.ResponseMarker]; !ok {
		return legacyResponse(raw)
	}

	resp := &Response{
		Status: decodeStatus(fields["status"]),
		Header: make(http.Header),
		Body:   decodeBody(fields),
	}

	if rawHeaders, ok := fields["headers"]; ok {
		var headers map[string]json.RawMessage
		if err := json.Unmarshal(rawHeaders, &headers); err != nil {
			slog.Debug("ignoring malformed plugin response headers", "error", err)
		}
		for key, rawValue := range headers {
			var value string
			if err := json.Unmarshal(rawValue, &value); err != nil {
				continue
			}
			resp.Header.Set(key, value)
		}
	}

	if resp.Header.Get(headerAllowOrigin) == "" {
		resp.Header.Set(headerAllowOrigin, "*")
	}
	if resp.Header.Get(headerContentType) == "" {
		resp.Header.Set(headerContentType, contentTypeJSON)
	}
	return resp
}

// legacyResponse serves the reply as the body with status 200. Bytes that
// are not JSON are labelled as text.
func legacyResponse(raw []byte) *Response {
	contentType := contentTypeJSON
	if !json.Valid(raw) {
		contentType = contentTypeText
	}
	header := make(http.Header)
	header.Set(headerContentType, contentType)
	header.Set(headerAllowOrigin, "*")
	return &Response{
		Status: http.StatusOK,
		Header: header,
		Body:   bytes.Clone(raw),
		Legacy: true,
	}
}

// decodeStatus returns the envelope status, or 200 when it is missing,
// not an integer, or outside 200..999. Informational statuses cannot
// carry a final body, so they count as malformed.
func decodeStatus(raw json.RawMessage) int {
	if raw == nil {
		return http.StatusOK
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return http.StatusOK
	}
	if f != math.Trunc(f) || f < 200 || f > 999 {
		return http.StatusOK
	}
	return int(f)
}

// decodeBody applies body precedence: body_base64, then a string body,
// then any other JSON body re-serialized, then empty.
func decodeBody(fields map[string]json.RawMessage) []byte {
	if raw, ok := fields["body_base64"]; ok {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err == nil {
			if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				return decoded
			}
		}
	}

	raw, ok := fields["body"]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return bytes.Clone(raw)
	}
	return compact.Bytes()
}

// Write sends the response to w.
func (r *Response) Write(w http.ResponseWriter) {
	for key, values := range r.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		//nolint:errcheck // client may have gone away; nothing left to report to
		w.Write(r.Body)
	}
}

// ErrorResponse builds a JSON {"error": msg} response with permissive CORS.
func ErrorResponse(status int, msg string) *Response {
	body, _ := json.Marshal(map[string]string{"error": msg})
	header := make(http.Header)
	header.Set(headerContentType, contentTypeJSON)
	header.Set(headerAllowOrigin, "*")
	return &Response{Status: status, Header: header, Body: body}
}
