// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

// Package main implements the echo example plugin for plughost.
// It answers with what it was sent, which makes it handy for checking a
// host install end to end.
//
// Build as a shared library next to its manifest:
//
//	go build -buildmode=c-shared -o plugins/echo/libecho.so ./plugins/echo
//
// The library exports one function per route in plugin.yaml plus
// free_string, which the host calls on every buffer it receives.
package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/plughost/plughost/pkg/pluginsdk"
)

func reply(data []byte) *C.char {
	return C.CString(string(data))
}

func parse(req *C.uchar, n C.size_t) (*pluginsdk.Request, []byte) {
	in, err := pluginsdk.ParseRequest(C.GoBytes(unsafe.Pointer(req), C.int(n)))
	if err != nil {
		return nil, pluginsdk.Error(400, err.Error())
	}
	return in, nil
}

//export ping
func ping(req *C.uchar, n C.size_t, _ unsafe.Pointer) *C.char {
	if _, failed := parse(req, n); failed != nil {
		return reply(failed)
	}
	return reply(pluginsdk.JSON(200, map[string]string{"pong": "echo"}))
}

//export echo
func echo(req *C.uchar, n C.size_t, _ unsafe.Pointer) *C.char {
	in, failed := parse(req, n)
	if failed != nil {
		return reply(failed)
	}
	body, err := in.RawBody()
	if err != nil {
		return reply(pluginsdk.Error(400, err.Error()))
	}
	contentType := in.Headers["Content-Type"]
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return reply(pluginsdk.Bytes(200, contentType, body))
}

//export describe
func describe(req *C.uchar, n C.size_t, _ unsafe.Pointer) *C.char {
	in, failed := parse(req, n)
	if failed != nil {
		return reply(failed)
	}
	return reply(pluginsdk.JSON(200, map[string]any{
		"method": in.Method,
		"path":   in.Path,
		"query":  in.Query,
		"params": in.Params,
	}))
}

//export free_string
func free_string(p *C.char) {
	C.free(unsafe.Pointer(p))
}

func main() {}
