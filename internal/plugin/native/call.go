// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package native

import (
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/plughost/plughost/internal/bridge"
)

// dlModule is a library opened through the OS dynamic loader. lookup and
// unload are provided per platform.
type dlModule struct {
	path   string
	handle uintptr
	// free is the optional free_string export, or 0.
	free uintptr
}

// Handler resolves name and wraps it as a Func.
func (m *dlModule) Handler(name string) (Func, error) {
	sym, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return func(req []byte) ([]byte, error) {
		return callHandler(sym, m.free, req)
	}, nil
}

// callHandler calls fn(req, len(req), NULL), copies the NUL-terminated
// reply and hands the buffer to free when the library exports one.
func callHandler(fn, free uintptr, req []byte) ([]byte, error) {
	var (
		ptr    uintptr
		pinner runtime.Pinner
	)
	if len(req) > 0 {
		pinner.Pin(&req[0])
		defer pinner.Unpin()
		ptr = uintptr(unsafe.Pointer(&req[0]))
	}

	ret, _, _ := purego.SyscallN(fn, ptr, uintptr(len(req)), 0)
	runtime.KeepAlive(req)
	if ret == 0 {
		return nil, bridge.ErrNullResponse
	}

	reply := copyCString(ret)
	if free != 0 {
		purego.SyscallN(free, ret)
	}
	return reply, nil
}

// copyCString copies the NUL-terminated buffer at p into Go memory.
func copyCString(p uintptr) []byte {
	//nolint:govet // p is C memory owned by the plugin, not a Go pointer
	base := unsafe.Pointer(p)
	n := 0
	for *(*byte)(unsafe.Add(base, n)) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(base), n))
	return out
}
