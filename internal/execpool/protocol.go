// Package execpool distributes test suite executions to remote workers over
// WebSocket connections. Workers register the languages they can execute and
// receive fully materializable job payloads, so they need no access to the
// orchestrator's database or model gateway.
package execpool

import "encoding/json"

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Worker -> Coordinator messages

// RegisterMessage sent when a worker first connects. Languages lists the
// toolchains the worker host has installed; jobs for other languages are
// never routed to it.
type RegisterMessage struct {
	WorkerID  string   `json:"worker_id"`
	MaxJobs   int      `json:"max_jobs"`
	Languages []string `json:"languages"`
}

// ReadyMessage sent when worker has available job slots
type ReadyMessage struct {
	Slots int `json:"slots"`
}

// OutputMessage sent for streaming command output
type OutputMessage struct {
	JobID  string `json:"job_id"`
	Stream string `json:"stream"` // "setup" or "test"
	Data   string `json:"data"`
}

// CompleteMessage sent when a job finishes. SetupFailed distinguishes a
// broken environment from a failing suite.
type CompleteMessage struct {
	JobID       string `json:"job_id"`
	ExitCode    int    `json:"exit_code"`
	SetupFailed bool   `json:"setup_failed,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// ErrorMessage sent when a job fails before completion
type ErrorMessage struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// Coordinator -> Worker messages

// JobMessage assigns one suite execution to a worker. Files maps logical
// artifact paths to contents; the worker materializes them into a fresh
// directory before running anything.
type JobMessage struct {
	JobID        string            `json:"job_id"`
	Language     string            `json:"language"`
	Files        map[string]string `json:"files"`
	SetupCommand string            `json:"setup_command,omitempty"`
	TestCommand  string            `json:"test_command"`
	TimeoutSecs  int               `json:"timeout_secs,omitempty"`
}

// CancelMessage requests job cancellation
type CancelMessage struct {
	JobID string `json:"job_id"`
}

// JobResult is the coordinator-side aggregate of one job's messages
type JobResult struct {
	JobID        string
	ExitCode     int
	SetupFailed  bool
	Output       string
	DurationSecs float64
}

// Message type constants
const (
	TypeRegister = "register"
	TypeReady    = "ready"
	TypeOutput   = "output"
	TypeComplete = "complete"
	TypeError    = "error"
	TypeJob      = "job"
	TypeCancel   = "cancel"
	TypePing     = "ping"
	TypePong     = "pong"
)
