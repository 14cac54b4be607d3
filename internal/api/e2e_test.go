// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plughost Contributors

package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/plughost/plughost/internal/api"
	"github.com/plughost/plughost/internal/host"
	"github.com/plughost/plughost/internal/plugin"
	"github.com/plughost/plughost/internal/plugin/native"
	"github.com/plughost/plughost/pkg/pluginsdk"
)

// goModule serves handler symbols from Go functions in place of a
// shared library.
type goModule struct {
	handlers map[string]native.Func
}

func (m *goModule) Handler(name string) (native.Func, error) {
	fn, ok := m.handlers[name]
	if !ok {
		return nil, fmt.Errorf("undefined symbol %s", name)
	}
	return fn, nil
}

func (m *goModule) Close() error { return nil }

// moduleSet hands out goModules by plugin directory name.
type moduleSet struct {
	mu      sync.Mutex
	modules map[string]*goModule
	opens   int
}

func (s *moduleSet) open(path string) (native.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	m, ok := s.modules[filepath.Base(filepath.Dir(path))]
	if !ok {
		return nil, fmt.Errorf("cannot open %s", path)
	}
	return m, nil
}

func writePlugin(root, id, manifest string) {
	dir := filepath.Join(root, id)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, plugin.ManifestYAML), []byte(manifest), 0o600)).To(Succeed())
	lib := filepath.Join(dir, "lib"+id+"."+plugin.LibraryExt())
	Expect(os.WriteFile(lib, []byte("not really elf"), 0o600)).To(Succeed())
}

func (s *moduleSet) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func getJSON(url string) (int, map[string]any) {
	resp, err := http.Get(url)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	var out map[string]any
	Expect(json.Unmarshal(body, &out)).To(Succeed(), string(body))
	return resp.StatusCode, out
}

var _ = Describe("Plugin host over HTTP", func() {
	var (
		pluginsDir string
		modules    *moduleSet
		h          *host.Host
		srv        *httptest.Server
	)

	BeforeEach(func() {
		pluginsDir = GinkgoT().TempDir()
		modules = &moduleSet{modules: map[string]*goModule{
			"currency": {handlers: map[string]native.Func{
				"get_balance": func(req []byte) ([]byte, error) {
					in, err := pluginsdk.ParseRequest(req)
					if err != nil {
						return nil, err
					}
					if in.Query["user_id"] == "" {
						return pluginsdk.Error(400, "user_id required"), nil
					}
					return []byte(`{"balance":100}`), nil
				},
				"get_account": func(req []byte) ([]byte, error) {
					in, err := pluginsdk.ParseRequest(req)
					if err != nil {
						return nil, err
					}
					return pluginsdk.JSON(200, map[string]string{"id": in.Params["id"]}), nil
				},
			}},
			"crashy": {handlers: map[string]native.Func{
				"boom": func([]byte) ([]byte, error) { panic("segfault-ish") },
			}},
			"overlay": {handlers: map[string]native.Func{}},
		}}

		writePlugin(pluginsDir, "currency", `
id: currency
version: 1.0.0
has_backend: true
routes:
  - {method: GET, path: /balance, handler: get_balance}
  - {method: GET, path: /accounts/:id, handler: get_account}
`)
		writePlugin(pluginsDir, "crashy", `
id: crashy
version: 0.1.0
has_backend: true
routes:
  - {method: GET, path: /boom, handler: boom}
`)

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		loader := native.NewLoader(native.WithOpener(modules.open), native.WithLogger(logger))

		var err error
		h, err = host.New(host.Config{PluginsDir: pluginsDir},
			host.WithLoader(loader), host.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(context.Background())).To(Succeed())

		srv = httptest.NewServer(api.New(api.Config{}, h, api.WithLogger(logger)))
	})

	AfterEach(func() {
		srv.Close()
		Expect(h.Close()).To(Succeed())
	})

	It("routes a request into the plugin and relays its JSON reply", func() {
		status, body := getJSON(srv.URL + "/currency/balance?user_id=123")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("balance", BeNumerically("==", 100)))
	})

	It("relays a structured reply with the decoded query string", func() {
		var query map[string]string
		modules.modules["currency"].handlers["get_balance"] = func(req []byte) ([]byte, error) {
			in, err := pluginsdk.ParseRequest(req)
			if err != nil {
				return nil, err
			}
			query = in.Query
			return []byte(`{"__ffi_response__":true,"status":200,"body":{"balance":100}}`), nil
		}

		resp, err := http.Get(srv.URL + "/currency/balance?user_id=42")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
		Expect(raw).To(MatchJSON(`{"balance":100}`))
		Expect(query).To(Equal(map[string]string{"user_id": "42"}))
	})

	It("does not reopen unchanged libraries on rescan", func() {
		before := modules.openCount()
		Expect(before).To(Equal(2))

		for range 10 {
			_, err := h.Rescan(context.Background())
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(modules.openCount()).To(Equal(before))

		status, _ := getJSON(srv.URL + "/currency/balance?user_id=1")
		Expect(status).To(Equal(http.StatusOK))
	})

	It("honours structured replies and path parameters", func() {
		status, body := getJSON(srv.URL + "/currency/accounts/acct-9")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("id", "acct-9"))

		status, body = getJSON(srv.URL + "/currency/balance")
		Expect(status).To(Equal(http.StatusBadRequest))
		Expect(body).To(HaveKeyWithValue("error", "user_id required"))
	})

	It("lists discovered plugins", func() {
		resp, err := http.Get(srv.URL + "/api/plugins")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var infos []plugin.Info
		Expect(json.NewDecoder(resp.Body).Decode(&infos)).To(Succeed())
		ids := make([]string, 0, len(infos))
		for _, info := range infos {
			Expect(info.Loaded).To(BeTrue(), info.ID)
			ids = append(ids, info.ID)
		}
		Expect(ids).To(ConsistOf("currency", "crashy"))
	})

	It("drops a removed plugin on rescan and keeps serving the rest", func() {
		Expect(os.RemoveAll(filepath.Join(pluginsDir, "crashy"))).To(Succeed())

		resp, err := http.Post(srv.URL+"/api/plugins/rescan", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		status, body := getJSON(srv.URL + "/crashy/boom")
		Expect(status).To(Equal(http.StatusNotFound))
		Expect(body).To(HaveKeyWithValue("error", "not found"))

		status, _ = getJSON(srv.URL + "/currency/balance?user_id=1")
		Expect(status).To(Equal(http.StatusOK))
	})

	It("picks up a plugin added after start", func() {
		writePlugin(pluginsDir, "overlay", `
id: overlay
version: 2.0.0
has_frontend: true
`)
		Expect(os.MkdirAll(filepath.Join(pluginsDir, "overlay", "frontend"), 0o750)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(pluginsDir, "overlay", "frontend", "index.html"),
			[]byte("<p>overlay</p>"), 0o600)).To(Succeed())

		_, err := h.Rescan(context.Background())
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Get(srv.URL + "/api/plugins/overlay/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		page, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(page)).To(ContainSubstring("overlay"))
	})

	It("contains a panicking handler to its own request", func() {
		status, body := getJSON(srv.URL + "/crashy/boom")
		Expect(status).To(Equal(http.StatusInternalServerError))
		Expect(body).To(HaveKeyWithValue("error", "plugin handler panicked"))

		status, body = getJSON(srv.URL + "/currency/balance?user_id=5")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body).To(HaveKeyWithValue("balance", BeNumerically("==", 100)))
	})

	It("answers preflight for any path", func() {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/currency/balance", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		Expect(strings.Split(resp.Header.Get("Access-Control-Allow-Methods"), ", ")).To(ContainElement("PATCH"))
	})
})
