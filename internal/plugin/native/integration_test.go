// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

//go:build integration

package native_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/plughost/plughost/internal/bridge"
	"github.com/plughost/plughost/internal/plugin"
	"github.com/plughost/plughost/internal/plugin/native"
	"github.com/plughost/plughost/pkg/pluginsdk"
)

// buildFixture compiles testdata/fixture.c into a shared library.
func buildFixture(dir string) string {
	cc, err := exec.LookPath("cc")
	if err != nil {
		Skip("no C compiler available")
	}
	out := filepath.Join(dir, "libfixture."+plugin.LibraryExt())
	src, err := filepath.Abs(filepath.Join("testdata", "fixture.c"))
	Expect(err).NotTo(HaveOccurred())

	cmd := exec.Command(cc, "-shared", "-fPIC", "-o", out, src) //nolint:gosec // test-only compiler invocation
	output, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), string(output))
	return out
}

var _ = Describe("Loader with a real shared library", func() {
	var (
		loader  *native.Loader
		libPath string
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		libPath = buildFixture(GinkgoT().TempDir())
		loader = native.NewLoader()
		Expect(loader.Load("fixture", libPath)).To(Succeed())
		DeferCleanup(func() {
			Expect(loader.Close()).To(Succeed())
		})
	})

	It("calls a structured handler", func() {
		raw, err := loader.Call(ctx, "fixture", "ping", []byte(`{}`))
		Expect(err).NotTo(HaveOccurred())

		resp := bridge.DecodeResponse(raw)
		Expect(resp.Legacy).To(BeFalse())
		Expect(resp.Status).To(Equal(200))
		Expect(resp.Body).To(MatchJSON(`{"pong":true}`))
	})

	It("passes the envelope through pointer and length", func() {
		payload, err := bridge.EncodeRequest(bridge.RequestInput{
			Method: "POST",
			Path:   "/echo",
			Params: map[string]string{"id": "7"},
			Body:   []byte("hello"),
		})
		Expect(err).NotTo(HaveOccurred())

		raw, err := loader.Call(ctx, "fixture", "echo_raw", payload)
		Expect(err).NotTo(HaveOccurred())

		var got pluginsdk.Request
		Expect(json.Unmarshal(raw, &got)).To(Succeed())
		Expect(got.Params).To(HaveKeyWithValue("id", "7"))
		Expect(got.BodyLen).To(Equal(5))
	})

	It("handles an empty request", func() {
		raw, err := loader.Call(ctx, "fixture", "echo_raw", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(BeEmpty())
	})

	It("maps a null reply", func() {
		_, err := loader.Call(ctx, "fixture", "null_reply", []byte(`{}`))
		Expect(err).To(MatchError(bridge.ErrNullResponse))
	})

	It("reports a missing export", func() {
		_, err := loader.Call(ctx, "fixture", "does_not_exist", []byte(`{}`))
		Expect(err).To(MatchError(bridge.ErrHandlerNotFound))
	})

	It("reloads the same id", func() {
		Expect(loader.Load("fixture", libPath)).To(Succeed())
		_, err := loader.Call(ctx, "fixture", "ping", nil)
		Expect(err).NotTo(HaveOccurred())
	})
})
