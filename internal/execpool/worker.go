package execpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/harness"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// pingWait is how long the worker waits for a coordinator ping before
// treating the connection as dead.
const pingWait = 90 * time.Second

// writeWait is time allowed to write a control message
const writeWait = 10 * time.Second

func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// WorkerConfig configures the worker client
type WorkerConfig struct {
	ServerURL string
	WorkerID  string
	MaxJobs   int
	Languages []string
	WorkDir   string
}

// Validate checks the config is valid
func (c *WorkerConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.MaxJobs <= 0 {
		return fmt.Errorf("max_jobs must be positive")
	}
	if len(c.Languages) == 0 {
		return fmt.Errorf("at least one language is required")
	}
	return nil
}

// Worker is a suite-execution agent that connects to a coordinator
type Worker struct {
	config WorkerConfig
	conn   *websocket.Conn
	mu     sync.Mutex

	slots   int
	slotsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	jobsMu sync.Mutex
	jobs   map[string]context.CancelFunc
}

// NewWorker creates a new worker client
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		config: config,
		slots:  config.MaxJobs,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]context.CancelFunc),
	}, nil
}

// Connect establishes connection to the coordinator
func (w *Worker) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.config.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		deadline := time.Now().Add(writeWait)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	return w.send(TypeRegister, RegisterMessage{
		WorkerID:  w.config.WorkerID,
		MaxJobs:   w.config.MaxJobs,
		Languages: w.config.Languages,
	})
}

// Run starts the worker loop
func (w *Worker) Run() error {
	if err := w.sendReady(); err != nil {
		return err
	}

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		_, message, err := w.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		w.conn.SetReadDeadline(time.Now().Add(pingWait))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[worker] invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeJob:
			var job JobMessage
			if err := json.Unmarshal(env.Payload, &job); err != nil {
				log.Printf("[worker] invalid job message: %v", err)
				continue
			}
			go w.handleJob(job)

		case TypePing:
			w.send(TypePong, nil)

		case TypeCancel:
			var cancel CancelMessage
			if err := json.Unmarshal(env.Payload, &cancel); err != nil {
				log.Printf("[worker] invalid cancel message: %v", err)
				continue
			}
			log.Printf("[worker] cancelling job %s", cancel.JobID)
			w.cancelJob(cancel.JobID)
		}
	}
}

// RunWithReconnect runs the worker with automatic reconnection
func (w *Worker) RunWithReconnect() error {
	attempt := 0

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		if err := w.Connect(); err != nil {
			delay := calculateBackoff(attempt)
			log.Printf("[worker] connection failed: %v, retrying in %v", err, delay)
			attempt++

			select {
			case <-w.ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		attempt = 0
		log.Printf("[worker] connected to coordinator")

		err := w.Run()

		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
			w.conn = nil
		}
		w.mu.Unlock()

		if err != nil {
			log.Printf("[worker] disconnected: %v", err)
		}

		select {
		case <-w.ctx.Done():
			return nil
		default:
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

func (w *Worker) handleJob(job JobMessage) {
	if !w.acquireSlot() {
		w.send(TypeError, ErrorMessage{JobID: job.JobID, Message: "no slots available"})
		return
	}
	defer func() {
		w.releaseSlot()
		w.untrackJob(job.JobID)
		w.sendReady()
	}()

	timeout := time.Duration(job.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	ctx, cancel := context.WithTimeout(w.ctx, timeout)
	defer cancel()
	w.trackJob(job.JobID, cancel)

	start := time.Now()
	complete, errMsg := w.executeJob(ctx, job)
	if errMsg != "" {
		w.send(TypeError, ErrorMessage{JobID: job.JobID, Message: errMsg})
		return
	}
	complete.DurationMs = time.Since(start).Milliseconds()
	w.send(TypeComplete, complete)
}

// executeJob materializes the payload and runs the setup and test commands.
// All command output is streamed back before completion so the coordinator
// can attach it to the result.
func (w *Worker) executeJob(ctx context.Context, job JobMessage) (CompleteMessage, string) {
	complete := CompleteMessage{JobID: job.JobID}

	dir, err := os.MkdirTemp(w.config.WorkDir, "council-job-")
	if err != nil {
		return complete, fmt.Sprintf("creating workspace: %v", err)
	}
	defer os.RemoveAll(dir)

	artifacts := make([]*domain.Artifact, 0, len(job.Files))
	for path, content := range job.Files {
		artifacts = append(artifacts, &domain.Artifact{Path: path, Content: content})
	}
	if err := harness.Materialize(dir, artifacts); err != nil {
		return complete, fmt.Sprintf("materializing files: %v", err)
	}

	if job.SetupCommand != "" {
		exitCode, output, err := runShell(ctx, dir, job.SetupCommand)
		w.send(TypeOutput, OutputMessage{JobID: job.JobID, Stream: "setup", Data: output})
		if err != nil {
			return complete, fmt.Sprintf("setup: %v", err)
		}
		if exitCode != 0 || ctx.Err() != nil {
			complete.ExitCode = exitCode
			complete.SetupFailed = true
			return complete, ""
		}
	}

	exitCode, output, err := runShell(ctx, dir, job.TestCommand)
	w.send(TypeOutput, OutputMessage{JobID: job.JobID, Stream: "test", Data: output})
	if err != nil {
		return complete, fmt.Sprintf("test: %v", err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return complete, fmt.Sprintf("test run timed out after %ds", job.TimeoutSecs)
	}
	complete.ExitCode = exitCode
	return complete, ""
}

func runShell(ctx context.Context, dir, command string) (int, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var buf strings.Builder
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), buf.String(), nil
		}
		return 0, buf.String(), err
	}
	return 0, buf.String(), nil
}

func (w *Worker) acquireSlot() bool {
	w.slotsMu.Lock()
	defer w.slotsMu.Unlock()
	if w.slots <= 0 {
		return false
	}
	w.slots--
	return true
}

func (w *Worker) releaseSlot() {
	w.slotsMu.Lock()
	defer w.slotsMu.Unlock()
	if w.slots < w.config.MaxJobs {
		w.slots++
	}
}

func (w *Worker) availableSlots() int {
	w.slotsMu.Lock()
	defer w.slotsMu.Unlock()
	return w.slots
}

func (w *Worker) sendReady() error {
	return w.send(TypeReady, ReadyMessage{Slots: w.availableSlots()})
}

func (w *Worker) send(msgType string, payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *Worker) trackJob(jobID string, cancel context.CancelFunc) {
	w.jobsMu.Lock()
	defer w.jobsMu.Unlock()
	w.jobs[jobID] = cancel
}

func (w *Worker) untrackJob(jobID string) {
	w.jobsMu.Lock()
	defer w.jobsMu.Unlock()
	delete(w.jobs, jobID)
}

func (w *Worker) cancelJob(jobID string) {
	w.jobsMu.Lock()
	cancel, ok := w.jobs[jobID]
	if ok {
		delete(w.jobs, jobID)
	}
	w.jobsMu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}
