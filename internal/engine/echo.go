package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"servingd/internal/batching"
)

// EchoName is the registry name of the echo engine.
const EchoName = "echo"

// Echo returns every task payload unchanged as its result. An optional delay
// simulates per-batch backend latency.
type Echo struct {
	Delay time.Duration
}

// NewEcho is the Factory for Echo. It accepts a "delay_ms" param.
func NewEcho(model string, params map[string]string) (batching.Engine, error) {
	e := &Echo{}
	if s, ok := params["delay_ms"]; ok {
		ms, err := strconv.Atoi(s)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid delay_ms %q", s)
		}
		e.Delay = time.Duration(ms) * time.Millisecond
	}
	return e, nil
}

func (e *Echo) Execute(ctx context.Context, b *batching.Batch) ([]any, error) {
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return b.Payloads(), nil
}
