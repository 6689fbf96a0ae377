package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fyreflow/engine/pkg/run"
)

// RunReader is the subset of the store the hub polls.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*run.Run, error)
}

// HubConfig configures poll and heartbeat cadence.
type HubConfig struct {
	Store                RunReader
	RunPollInterval      time.Duration
	HeartbeatInterval    time.Duration
	Log                  *slog.Logger
}

// Hub polls RunReader on an interval and emits deltas to every subscriber
// of a run. One Hub serves every connection in the process; each
// connection registers one subscription per subscribe_run message.
type Hub struct {
	store     RunReader
	pollEvery time.Duration
	heartbeat time.Duration
	log       *slog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewHub wires a Hub, defaulting unset intervals to spec.md's defaults
// (200ms poll, 30s heartbeat).
func NewHub(cfg HubConfig) *Hub {
	if cfg.RunPollInterval <= 0 {
		cfg.RunPollInterval = 200 * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Hub{
		store:     cfg.Store,
		pollEvery: cfg.RunPollInterval,
		heartbeat: cfg.HeartbeatInterval,
		log:       cfg.Log,
		subs:      make(map[*subscription]struct{}),
	}
}

// subscription is one client's view of one run: the cursor and last-sent
// fingerprints the diff loop compares fresh polls against.
type subscription struct {
	runID      string
	out        chan<- any
	cursor     int
	lastStatus run.Status
	haveStatus bool
	lastStep   map[string]run.Fingerprint
	done       <-chan struct{}
}

// Subscribe registers out to receive deltas for runID starting at cursor,
// and returns immediately; the caller is responsible for draining out
// until done is closed.
func (h *Hub) Subscribe(runID string, cursor int, out chan<- any, done <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[&subscription{
		runID:    runID,
		out:      out,
		cursor:   cursor,
		lastStep: make(map[string]run.Fingerprint),
		done:     done,
	}] = struct{}{}
}

// Run drives the poll loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	pollTicker := time.NewTicker(h.pollEvery)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(h.heartbeat)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			h.pollOnce(ctx)
		case <-heartbeatTicker.C:
			h.broadcastHeartbeat()
		}
	}
}

func (h *Hub) pollOnce(ctx context.Context) {
	h.mu.Lock()
	live := make([]*subscription, 0, len(h.subs))
	for s := range h.subs {
		select {
		case <-s.done:
			delete(h.subs, s)
			continue
		default:
		}
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		r, err := h.store.GetRun(ctx, s.runID)
		if err != nil {
			continue
		}
		h.diffAndSend(s, r)
	}
}

func (h *Hub) diffAndSend(s *subscription, r *run.Run) {
	if !s.haveStatus || s.lastStatus != r.Status {
		s.lastStatus = r.Status
		s.haveStatus = true
		send(s.out, runStatusMessage{Type: typeRunStatus, RunID: s.runID, Status: r.Status})
	}

	for _, line := range r.Logs {
		if line.Index < s.cursor {
			continue
		}
		send(s.out, runLogMessage{Type: typeRunLog, RunID: s.runID, Index: line.Index, Message: line.Message})
		s.cursor = line.Index + 1
	}

	for _, step := range r.Steps {
		fp := step.Fingerprint()
		if prev, ok := s.lastStep[step.StepID]; ok && prev == fp {
			continue
		}
		s.lastStep[step.StepID] = fp
		var finishedAt *string
		if fp.FinishedAt != nil {
			ts := fp.FinishedAt.Format(time.RFC3339Nano)
			finishedAt = &ts
		}
		send(s.out, runStepMessage{
			Type:       typeRunStep,
			RunID:      s.runID,
			StepID:     step.StepID,
			Status:     fp.Status,
			Attempts:   fp.Attempts,
			OutputLen:  fp.OutputLen,
			FinishedAt: finishedAt,
		})
	}
}

func (h *Hub) broadcastHeartbeat() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		send(s.out, pingMessage{Type: typePing})
	}
}

// send is best-effort: a subscriber whose channel is full is dropped from
// this poll's delta (it will catch up, minus coalesced repeats, on the
// next poll) rather than blocking the whole hub.
func send(out chan<- any, msg any) {
	select {
	case out <- msg:
	default:
	}
}
