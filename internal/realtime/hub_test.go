package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyreflow/engine/pkg/run"
)

type fakeRunReader struct {
	runs map[string]*run.Run
}

func (f *fakeRunReader) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return f.runs[id], nil
}

func drain(t *testing.T, ch <-chan any, timeout time.Duration) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_EmitsStatusLogAndStepDeltas(t *testing.T) {
	r := &run.Run{
		ID:     "r1",
		Status: run.StatusRunning,
		Logs:   []run.LogLine{{Index: 0, Message: "started"}},
		Steps:  []*run.StepRun{{StepID: "s1", Status: run.StepStatusRunning, Attempts: 1}},
	}
	reader := &fakeRunReader{runs: map[string]*run.Run{"r1": r}}
	hub := NewHub(HubConfig{Store: reader, RunPollInterval: 5 * time.Millisecond, HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	out := make(chan any, 16)
	done := make(chan struct{})
	defer close(done)
	hub.Subscribe("r1", 0, out, done)

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case msg := <-out:
			switch m := msg.(type) {
			case runStatusMessage:
				seen["status"] = true
				assert.Equal(t, run.StatusRunning, m.Status)
			case runLogMessage:
				seen["log"] = true
				assert.Equal(t, "started", m.Message)
			case runStepMessage:
				seen["step"] = true
				assert.Equal(t, "s1", m.StepID)
			}
		case <-deadline:
			t.Fatalf("did not observe all deltas, got %v", seen)
		}
	}
}

func TestHub_DoesNotResendUnchangedStep(t *testing.T) {
	r := &run.Run{
		ID:     "r1",
		Status: run.StatusRunning,
		Steps:  []*run.StepRun{{StepID: "s1", Status: run.StepStatusRunning, Attempts: 1}},
	}
	reader := &fakeRunReader{runs: map[string]*run.Run{"r1": r}}
	hub := NewHub(HubConfig{Store: reader, RunPollInterval: 5 * time.Millisecond, HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	out := make(chan any, 16)
	done := make(chan struct{})
	defer close(done)
	hub.Subscribe("r1", 0, out, done)

	// first poll emits status + step
	_ = drain(t, out, time.Second)
	_ = drain(t, out, time.Second)

	// subsequent polls of an unchanged run must emit nothing further
	select {
	case msg := <-out:
		t.Fatalf("expected no further deltas for unchanged run, got %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Heartbeat(t *testing.T) {
	reader := &fakeRunReader{runs: map[string]*run.Run{}}
	hub := NewHub(HubConfig{Store: reader, RunPollInterval: time.Hour, HeartbeatInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	out := make(chan any, 16)
	done := make(chan struct{})
	defer close(done)
	hub.Subscribe("missing", 0, out, done)

	msg := drain(t, out, time.Second)
	_, ok := msg.(pingMessage)
	require.True(t, ok, "expected a ping heartbeat, got %#v", msg)
}
