package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"servingd/internal/config"
	"servingd/internal/httpapi"
	"servingd/internal/manager"
	"servingd/internal/registry"
	"servingd/pkg/types"
)

// stack is one in-process servingd: directory source, manager, watcher and
// HTTP server.
type stack struct {
	root    string
	srv     *httptest.Server
	mgr     *manager.Manager
	watcher *registry.Watcher
}

// createModelsDir lays out <root>/<model>/<version>/ for every version given.
func createModelsDir(t *testing.T, layout map[string][]int64) string {
	t.Helper()
	root := t.TempDir()
	for model, versions := range layout {
		for _, v := range versions {
			addVersion(t, root, model, v)
		}
	}
	return root
}

func addVersion(t *testing.T, root, model string, v int64) {
	t.Helper()
	dir := filepath.Join(root, model, strconv.FormatInt(v, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func newStack(t *testing.T, root string, models ...config.ModelConfig) *stack {
	t.Helper()
	for i := range models {
		models[i].ApplyDefaults()
	}
	src, err := registry.NewDirSource(root, nil)
	if err != nil {
		t.Fatalf("dir source: %v", err)
	}
	mgr, err := manager.NewWithConfig(manager.ManagerConfig{
		Models:            models,
		Source:            src,
		ReconcileInterval: 5 * time.Millisecond,
		MaxRetryBackoff:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	var watched []registry.WatchedModel
	for _, mc := range models {
		if len(mc.Versions) == 0 {
			watched = append(watched, registry.WatchedModel{Name: mc.Name, Policy: mc.VersionPolicy, LatestN: mc.LatestN})
		}
	}
	w := registry.NewWatcher(registry.WatcherConfig{
		Root:     root,
		Interval: 20 * time.Millisecond,
		Models:   watched,
		Aspirer:  mgr,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("watcher: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		w.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})
	return &stack{root: root, srv: srv, mgr: mgr, watcher: w}
}

func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func (s *stack) send(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(b))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

// tryInfer posts one inference without failing the test, so it is safe to
// call from other goroutines.
func (s *stack) tryInfer(model, version string, payload any) (int, types.InferResponse, error) {
	var out types.InferResponse
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, out, err
	}
	b, err := json.Marshal(types.InferRequest{Model: model, Version: version, Payload: raw})
	if err != nil {
		return 0, out, err
	}
	resp, err := http.Post(s.srv.URL+"/infer", "application/json", bytes.NewReader(b))
	if err != nil {
		return 0, out, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, out, err
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, &out); err != nil {
			return resp.StatusCode, out, fmt.Errorf("decode infer response %q: %w", body, err)
		}
	}
	return resp.StatusCode, out, nil
}

func (s *stack) infer(t *testing.T, model, version string, payload any) (int, types.InferResponse) {
	t.Helper()
	code, out, err := s.tryInfer(model, version, payload)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	return code, out
}

func (s *stack) status(t *testing.T) types.StatusResponse {
	t.Helper()
	_, body := s.get(t, "/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status %q: %v", body, err)
	}
	return st
}

// loaded returns the loaded versions of model as reported by /models.
func (s *stack) loaded(t *testing.T, model string) []int64 {
	t.Helper()
	_, body := s.get(t, "/models")
	var mr types.ModelsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("decode models %q: %v", body, err)
	}
	for _, m := range mr.Models {
		if m.Name == model {
			return m.Loaded
		}
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalVersions(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
