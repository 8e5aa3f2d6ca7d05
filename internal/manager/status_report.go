package manager

import (
	"time"

	"servingd/internal/lifecycle"
	"servingd/pkg/types"
)

// Ready reports whether at least one version is available.
func (m *Manager) Ready() bool {
	return m.lc.Ready()
}

func (m *Manager) snapshotByName() map[string]lifecycle.ModelStatus {
	snap := m.lc.Snapshot()
	out := make(map[string]lifecycle.ModelStatus, len(snap))
	for _, ms := range snap {
		out[ms.Name] = ms
	}
	return out
}

// ListModels returns the configured models in config order, with their
// aspired and loaded versions.
func (m *Manager) ListModels() []types.Model {
	snap := m.snapshotByName()
	out := make([]types.Model, 0, len(m.order))
	for _, name := range m.order {
		mc := m.models[name]
		tm := types.Model{Name: name, Engine: mc.Engine, Versions: []int64{}}
		if ms, ok := snap[name]; ok {
			tm.Versions = append(tm.Versions, ms.Aspired...)
			for _, vs := range ms.Versions {
				if vs.State == lifecycle.StateLoaded && vs.Aspired {
					tm.Loaded = append(tm.Loaded, vs.Version)
				}
			}
		}
		out = append(out, tm)
	}
	return out
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	snap := m.snapshotByName()
	now := time.Now()
	resp := types.StatusResponse{
		State:            "loading",
		UptimeSeconds:    int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
		InferTotal:       m.inferTotal.Load(),
		InferErrorsTotal: m.inferErrors.Load(),
		Models:           make([]types.ModelStatus, 0, len(m.order)),
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	switch {
	case closed:
		resp.State = "stopped"
	case m.lc.Ready():
		resp.State = "ready"
	}
	for _, name := range m.order {
		ts := types.ModelStatus{Name: name, Aspired: []int64{}, Versions: []types.VersionStatus{}}
		if ms, ok := snap[name]; ok {
			ts.Aspired = append(ts.Aspired, ms.Aspired...)
			for _, vs := range ms.Versions {
				ts.Versions = append(ts.Versions, types.VersionStatus{
					Version:  vs.Version,
					State:    string(vs.State),
					Aspired:  vs.Aspired,
					InFlight: vs.InFlight,
					Attempts: vs.Attempts,
					Error:    vs.Error,
				})
			}
		}
		if st, ok := m.sched.Stats(name); ok {
			ts.OpenBatchSize = st.OpenTasks
			ts.EnqueuedBatches = st.Enqueued
			ts.MaxBatchSize = st.MaxBatchSize
			ts.MaxEnqueuedBatches = st.MaxEnqueued
		}
		resp.Models = append(resp.Models, ts)
	}
	return resp
}
