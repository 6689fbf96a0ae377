// Package realtime is C10: polling-diff fan-out of run state to subscribed
// WebSocket clients. It never pushes from inside the store; a Hub polls
// the store on an interval and emits deltas to each subscriber.
package realtime

import "github.com/fyreflow/engine/pkg/run"

// inbound message types a client may send.
const (
	typeSubscribeRun     = "subscribe_run"
	typeSubscribePairing = "subscribe_pairing"
)

// outbound message types the hub emits.
const (
	typeHello             = "hello"
	typeSubscribed        = "subscribed"
	typePairingSubscribed = "pairing_subscribed"
	typeRunStatus         = "run_status"
	typeRunLog            = "run_log"
	typeRunStep           = "run_step"
	typePing              = "ping"
)

// inboundMessage is the union of every client→server message shape; only
// the fields relevant to Type are populated.
type inboundMessage struct {
	Type      string `json:"type"`
	RunID     string `json:"runId"`
	Cursor    int    `json:"cursor"`
	SessionID string `json:"sessionId"`
}

type helloMessage struct {
	Type string `json:"type"`
}

type subscribedMessage struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

type pairingSubscribedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type runStatusMessage struct {
	Type   string     `json:"type"`
	RunID  string     `json:"runId"`
	Status run.Status `json:"status"`
}

type runLogMessage struct {
	Type    string `json:"type"`
	RunID   string `json:"runId"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type runStepMessage struct {
	Type       string          `json:"type"`
	RunID      string          `json:"runId"`
	StepID     string          `json:"stepId"`
	Status     run.StepStatus  `json:"status"`
	Attempts   int             `json:"attempts"`
	OutputLen  int             `json:"outputLen"`
	FinishedAt *string         `json:"finishedAt,omitempty"`
}

type pingMessage struct {
	Type string `json:"type"`
}
