package manager

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"servingd/internal/batching"
	"servingd/pkg/types"
)

// resolveVersion maps the request version string onto a version number.
// "" and "latest" pick the highest available version.
func (m *Manager) resolveVersion(model, version string) (int64, error) {
	version = strings.TrimSpace(version)
	if version == "" || strings.EqualFold(version, "latest") {
		return m.lc.LatestVersion(model)
	}
	v, err := strconv.ParseInt(version, 10, 64)
	if err != nil || v <= 0 {
		return 0, badRequestError{msg: "invalid version: " + version}
	}
	return v, nil
}

// Infer submits one task and waits for its batch to execute. If ctx ends
// while the task is still in an open batch the task is withdrawn; once its
// batch is sealed the result is discarded.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	resp, err := m.infer(ctx, req)
	m.inferTotal.Add(1)
	if err != nil {
		m.inferErrors.Add(1)
	}
	return resp, err
}

func (m *Manager) infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	if _, ok := m.models[req.Model]; !ok {
		return types.InferResponse{}, ErrModelNotFound(req.Model)
	}
	v, err := m.resolveVersion(req.Model, req.Version)
	if err != nil {
		return types.InferResponse{}, err
	}
	task := batching.NewTask(req.Model, v, req.Payload)
	if err := m.sched.Submit(task); err != nil {
		return types.InferResponse{}, err
	}
	res, err := m.await(ctx, task)
	if err != nil {
		return types.InferResponse{}, err
	}
	resp := types.InferResponse{Model: req.Model, Version: v, Result: res}
	if b := task.Batch(); b != nil {
		resp.BatchID = b.ID()
		resp.BatchSize = b.Size()
	}
	return resp, nil
}

// await waits for task. When ctx ends first the task is withdrawn if it is
// still queued; a task that completed in the meantime keeps its result.
func (m *Manager) await(ctx context.Context, task *batching.Task) (any, error) {
	res, err := task.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return res, err
	}
	switch cerr := m.sched.Cancel(task); {
	case cerr == nil:
		m.log.Debug().Str("event", "task_canceled").Str("model", task.Model).Int64("version", task.Version).Msg("task withdrawn before sealing")
	case errors.Is(cerr, batching.ErrTaskDone):
		return task.Result()
	}
	return nil, err
}
