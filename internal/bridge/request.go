// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package bridge

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/samber/oops"

	"github.com/plughost/plughost/pkg/pluginsdk"
)

// RequestInput is everything the host knows about a routed request.
type RequestInput struct {
	Method  string
	Path    string
	Query   map[string]string
	Params  map[string]string
	Headers map[string]string
	Body    []byte
}

// EncodeRequest serializes a request into the envelope passed to plugins.
// Nil maps are encoded as empty objects so plugins never see null.
func EncodeRequest(in RequestInput) ([]byte, error) {
	env := pluginsdk.Request{
		Method:  in.Method,
		Path:    in.Path,
		Query:   orEmpty(in.Query),
		Params:  orEmpty(in.Params),
		Headers: orEmpty(in.Headers),
		Body:    base64.StdEncoding.EncodeToString(in.Body),
		BodyLen: len(in.Body),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, oops.Code(CodeRequestDecode).Wrapf(err, "encode request envelope")
	}
	return data, nil
}

// FlattenHeaders keeps the first value of every header, keyed as received
// by net/http. The Host header is carried over from the request line.
func FlattenHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for key, values := range r.Header {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	if r.Host != "" {
		out["Host"] = r.Host
	}
	return out
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
