package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"servingd/internal/batching"
	"servingd/internal/config"
	"servingd/internal/engine"
	"servingd/internal/lifecycle"
	"servingd/internal/registry"
	"servingd/pkg/types"
)

func req(model, version, payload string) types.InferRequest {
	return types.InferRequest{Model: model, Version: version, Payload: json.RawMessage(payload)}
}

func TestNewWithConfig_Errors(t *testing.T) {
	if _, err := NewWithConfig(ManagerConfig{}); err == nil {
		t.Fatalf("expected error for nil source")
	}
	src := newMemSource("m", 1)
	bad := modelConfig("m", nil, func(mc *config.ModelConfig) { mc.Engine = "nope" })
	if _, err := NewWithConfig(ManagerConfig{Source: src, Models: []config.ModelConfig{bad}}); err == nil {
		t.Fatalf("expected unknown engine error")
	}
	dup := modelConfig("m", nil, nil)
	if _, err := NewWithConfig(ManagerConfig{Source: src, Models: []config.ModelConfig{dup, dup}}); err == nil {
		t.Fatalf("expected duplicate model error")
	}
}

func TestInfer_EchoAndVersionResolution(t *testing.T) {
	src := newMemSource("m", 1, 2)
	fast := func(mc *config.ModelConfig) { mc.BatchTimeoutMicros = new(int) }
	m := newTestManager(t, src, nil, modelConfig("m", []int64{1, 2}, fast))
	waitLoaded(t, m, "m", 1)
	waitLoaded(t, m, "m", 2)

	for _, tc := range []struct {
		version string
		want    int64
	}{{"", 2}, {"latest", 2}, {"1", 1}} {
		resp, err := m.Infer(context.Background(), req("m", tc.version, `{"x":1}`))
		if err != nil {
			t.Fatalf("version %q: %v", tc.version, err)
		}
		if resp.Version != tc.want || resp.BatchSize != 1 || resp.BatchID == "" {
			t.Fatalf("version %q: unexpected response %+v", tc.version, resp)
		}
		b, _ := json.Marshal(resp.Result)
		if string(b) != `{"x":1}` {
			t.Fatalf("result=%s", b)
		}
	}
	if st := m.Status(); st.InferTotal != 3 || st.InferErrorsTotal != 0 {
		t.Fatalf("counters: %+v", st)
	}
}

func TestInfer_Errors(t *testing.T) {
	src := newMemSource("m", 1)
	m := newTestManager(t, src, nil, modelConfig("m", []int64{1}, nil))
	waitLoaded(t, m, "m", 1)
	ctx := context.Background()

	if _, err := m.Infer(ctx, req("other", "", "1")); !IsModelNotFound(err) {
		t.Fatalf("expected not found for unknown model, got %v", err)
	}
	if _, err := m.Infer(ctx, req("m", "7", "1")); !IsModelNotFound(err) {
		t.Fatalf("expected not found for unloaded version, got %v", err)
	}
	_, err := m.Infer(ctx, req("m", "x", "1"))
	var he interface{ StatusCode() int }
	if !errors.As(err, &he) || he.StatusCode() != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if st := m.Status(); st.InferErrorsTotal != 3 {
		t.Fatalf("error counter=%d", st.InferErrorsTotal)
	}
}

func TestInfer_ConcurrentRequestsShareBatch(t *testing.T) {
	src := newMemSource("m", 1)
	cfg := modelConfig("m", []int64{1}, func(mc *config.ModelConfig) {
		mc.MaxBatchSize = 4
		timeout := int(time.Hour / time.Microsecond)
		mc.BatchTimeoutMicros = &timeout
	})
	m := newTestManager(t, src, nil, cfg)
	waitLoaded(t, m, "m", 1)

	var wg sync.WaitGroup
	resps := make([]types.InferResponse, 4)
	errs := make([]error, 4)
	for i := range resps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resps[i], errs[i] = m.Infer(context.Background(), req("m", "1", "1"))
		}(i)
	}
	wg.Wait()
	for i := range resps {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if resps[i].BatchSize != 4 || resps[i].BatchID != resps[0].BatchID {
			t.Fatalf("request %d not batched with the others: %+v", i, resps[i])
		}
	}
}

func TestInfer_CancelWhileQueued(t *testing.T) {
	src := newMemSource("m", 1)
	cfg := modelConfig("m", []int64{1}, func(mc *config.ModelConfig) {
		timeout := int(time.Hour / time.Microsecond)
		mc.BatchTimeoutMicros = &timeout
	})
	m := newTestManager(t, src, nil, cfg)
	waitLoaded(t, m, "m", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Infer(ctx, req("m", "1", "1")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	st := m.Status()
	if st.Models[0].OpenBatchSize != 0 || st.Models[0].EnqueuedBatches != 0 {
		t.Fatalf("cancelled task left in queue: %+v", st.Models[0])
	}
	for _, vs := range st.Models[0].Versions {
		if vs.InFlight != 0 {
			t.Fatalf("reference leaked: %+v", vs)
		}
	}
}

// gateEngine blocks every batch until release is closed.
type gateEngine struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateEngine) Execute(ctx context.Context, b *batching.Batch) ([]any, error) {
	g.entered <- struct{}{}
	<-g.release
	return b.Payloads(), nil
}

func TestInfer_TooBusy(t *testing.T) {
	g := &gateEngine{entered: make(chan struct{}, 4), release: make(chan struct{})}
	engines := engine.NewRegistry()
	if err := engines.Register("gate", engine.Static(g)); err != nil {
		t.Fatalf("register: %v", err)
	}
	src := newMemSource("m", 1)
	cfg := modelConfig("m", []int64{1}, func(mc *config.ModelConfig) {
		mc.Engine = "gate"
		mc.MaxBatchSize = 1
		mc.MaxEnqueuedBatches = 1
	})
	m := newTestManager(t, src, engines, cfg)
	waitLoaded(t, m, "m", 1)

	done := make(chan error, 2)
	go func() { _, err := m.Infer(context.Background(), req("m", "1", "1")); done <- err }()
	<-g.entered
	go func() { _, err := m.Infer(context.Background(), req("m", "1", "2")); done <- err }()
	waitFor(t, "second batch enqueued", func() bool { return m.Status().Models[0].EnqueuedBatches == 1 })

	if _, err := m.Infer(context.Background(), req("m", "1", "3")); !IsTooBusy(err) {
		t.Fatalf("expected too busy, got %v", err)
	}
	close(g.release)
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("queued request failed: %v", err)
		}
	}
}

func TestInfer_EngineFailure(t *testing.T) {
	engines := engine.Default()
	boom := errors.New("device lost")
	failing := engine.PerTask(func(ctx context.Context, p any) (any, error) { return nil, boom })
	if err := engines.Register("failing", engine.Static(failing)); err != nil {
		t.Fatalf("register: %v", err)
	}
	src := newMemSource("m", 1)
	m := newTestManager(t, src, engines, modelConfig("m", []int64{1}, func(mc *config.ModelConfig) { mc.Engine = "failing" }))
	waitLoaded(t, m, "m", 1)
	if _, err := m.Infer(context.Background(), req("m", "", "1")); !IsEngineFailure(err) || !errors.Is(err, boom) {
		t.Fatalf("expected engine failure, got %v", err)
	}
}

func TestSetAspiredVersions_Rollout(t *testing.T) {
	src := newMemSource("m", 1, 2)
	m := newTestManager(t, src, nil, modelConfig("m", []int64{1}, nil))
	waitLoaded(t, m, "m", 1)

	if err := m.SetAspiredVersions("other", []int64{1}); !IsModelNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := m.SetAspiredVersions("m", []int64{0}); err == nil {
		t.Fatalf("expected error for version 0")
	}
	if err := m.SetAspiredVersions("m", []int64{2}); err != nil {
		t.Fatalf("SetAspiredVersions: %v", err)
	}
	waitLoaded(t, m, "m", 2)
	waitFor(t, "only v2 serving", func() bool {
		models := m.ListModels()
		return len(models[0].Loaded) == 1 && models[0].Loaded[0] == 2
	})
	resp, err := m.Infer(context.Background(), req("m", "latest", "1"))
	if err != nil || resp.Version != 2 {
		t.Fatalf("expected v2, got %+v err=%v", resp, err)
	}
	if models := m.ListModels(); len(models[0].Versions) != 1 || models[0].Versions[0] != 2 || models[0].Engine != config.DefaultEngine {
		t.Fatalf("ListModels: %+v", models)
	}
}

func TestStatus_ReportsFailedVersion(t *testing.T) {
	src := newMemSource("m", 1)
	cfg := modelConfig("m", []int64{1, 5}, func(mc *config.ModelConfig) {
		retries := 1
		mc.MaxLoadRetries = &retries
		mc.LoadRetryBackoffMs = 1
	})
	m := newTestManager(t, src, nil, cfg)
	waitLoaded(t, m, "m", 1)
	waitFor(t, "v5 failed", func() bool {
		for _, vs := range m.Status().Models[0].Versions {
			if vs.Version == 5 && vs.State == "failed" && vs.Error != "" {
				return true
			}
		}
		return false
	})
	if _, err := m.Infer(context.Background(), req("m", "5", "1")); !IsModelNotFound(err) {
		t.Fatalf("expected not found with detail, got %v", err)
	}
	st := m.Status()
	if st.State != "ready" || len(st.Models) != 1 || st.Models[0].MaxBatchSize != config.DefaultMaxBatchSize {
		t.Fatalf("status: %+v", st)
	}
}

func TestClose_UnloadsAndRejects(t *testing.T) {
	src := newMemSource("m", 1)
	m, err := NewWithConfig(ManagerConfig{
		Models:            []config.ModelConfig{modelConfig("m", []int64{1}, nil)},
		Source:            src,
		ReconcileInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitLoaded(t, m, "m", 1)
	if !m.Ready() {
		t.Fatalf("expected ready")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if src.loadedCount() != 0 {
		t.Fatalf("versions still loaded after Close")
	}
	if _, err := m.Infer(context.Background(), req("m", "1", "1")); !IsUnavailable(err) {
		t.Fatalf("expected unavailable after close, got %v", err)
	}
	if m.Status().State != "stopped" {
		t.Fatalf("state=%s", m.Status().State)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestManager_WithDirSourceAndWatcher(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"m/1", "m/2"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	src, err := registry.NewDirSource(root, nil)
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	mc := modelConfig("m", nil, nil)
	m := newTestManager(t, src, nil, mc)
	w := registry.NewWatcher(registry.WatcherConfig{
		Root:    root,
		Aspirer: m,
		Models:  []registry.WatchedModel{{Name: mc.Name, Policy: mc.VersionPolicy, LatestN: mc.LatestN}},
	})
	w.ScanOnce()
	waitLoaded(t, m, "m", 2)
	if _, err := m.lc.GetAvailableServable("m", 1); err == nil {
		t.Fatalf("latest policy should not load v1")
	}
	if src.Loaded() != 1 {
		t.Fatalf("source loaded=%d", src.Loaded())
	}
}

func TestAwait_CompletedTaskKeepsResultAfterCtxEnds(t *testing.T) {
	src := newMemSource("m", 1)
	fast := func(mc *config.ModelConfig) { mc.BatchTimeoutMicros = new(int) }
	m := newTestManager(t, src, nil, modelConfig("m", []int64{1}, fast))
	waitLoaded(t, m, "m", 1)

	task := batching.NewTask("m", 1, "payload")
	if err := m.sched.Submit(task); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Wait picks either ready case at random; repeat so both orders are hit.
	for i := 0; i < 50; i++ {
		res, err := m.await(ctx, task)
		if err != nil || res != "payload" {
			t.Fatalf("iteration %d: res=%v err=%v", i, res, err)
		}
	}
}

func TestSetAspiredVersions_RejectedAfterClose(t *testing.T) {
	src := newMemSource("m", 1, 2)
	m := newTestManager(t, src, nil, modelConfig("m", []int64{1}, nil))
	waitLoaded(t, m, "m", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := m.SetAspiredVersions("m", []int64{2})
	if !errors.Is(err, lifecycle.ErrManagerStopped) || !IsUnavailable(err) {
		t.Fatalf("expected ErrManagerStopped after close, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if src.loadedCount() != 0 {
		t.Fatalf("version loaded after close")
	}
}
