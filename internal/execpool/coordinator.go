package execpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/harness"
)

// CoordinatorConfig configures the coordinator
type CoordinatorConfig struct {
	ListenAddr        string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Coordinator accepts worker connections and routes suite executions to
// them. It satisfies harness.Runner, so the orchestrator can swap it in for
// the local harness without caring where suites actually run.
type Coordinator struct {
	config     CoordinatorConfig
	toolchains map[string]harness.Toolchain
	registry   *Registry
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	server *http.Server

	outputMu     sync.Mutex
	outputBuffer map[string]*strings.Builder
}

// NewCoordinator creates a coordinator. local is the fallback runner used
// when no connected worker supports a job's language; it may be nil.
func NewCoordinator(cfg CoordinatorConfig, languages map[string]config.LanguageConfig, local *harness.Local) (*Coordinator, error) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}

	toolchains, err := harness.Toolchains(languages)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:     cfg,
		toolchains: toolchains,
		registry:   NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		outputBuffer: make(map[string]*strings.Builder),
	}

	var localFn LocalFunc
	if local != nil {
		localFn = c.runLocal(local)
	}
	c.dispatcher = NewDispatcher(c.registry, localFn)
	c.dispatcher.SetSendFunc(c.sendJobToWorker)
	return c, nil
}

// Registry returns the worker registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Run executes one language's suite on the pool and classifies the outcome
// the same way the local harness does.
func (c *Coordinator) Run(ctx context.Context, runID, language string, artifacts []*domain.Artifact) (*domain.TestResult, error) {
	tc, ok := c.toolchains[language]
	if !ok {
		return nil, fmt.Errorf("no toolchain configured for language %s", language)
	}

	files := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		if !domain.ValidPath(a.Path) {
			return nil, fmt.Errorf("artifact path %q escapes workspace", a.Path)
		}
		files[a.Path] = a.Content
	}

	job := &JobMessage{
		JobID:        uuid.NewString(),
		Language:     language,
		Files:        files,
		SetupCommand: tc.SetupCommand,
		TestCommand:  tc.TestCommand,
		TimeoutSecs:  int(tc.Timeout.Seconds()),
	}

	resultCh := c.dispatcher.Submit(job)
	c.dispatcher.TryDispatch()

	start := time.Now()
	select {
	case jr := <-resultCh:
		return c.toTestResult(runID, language, tc, jr, start), nil
	case <-ctx.Done():
		if workerID := c.dispatcher.Forget(job.JobID); workerID != "" {
			if err := c.sendCancelToWorker(workerID, job.JobID); err != nil {
				log.Printf("[execpool] cancel of job %s on %s failed: %v", job.JobID, workerID, err)
			}
		}
		return nil, ctx.Err()
	case <-time.After(tc.Timeout + time.Minute):
		// The worker itself enforces the toolchain timeout; this guard only
		// fires when a worker vanished without the read loop noticing.
		c.dispatcher.Forget(job.JobID)
		return &domain.TestResult{
			RunID:     runID,
			Language:  language,
			Outcome:   domain.OutcomeError,
			Output:    fmt.Sprintf("no result from pool within %s", tc.Timeout+time.Minute),
			Duration:  time.Since(start),
			CreatedAt: start,
		}, nil
	}
}

func (c *Coordinator) toTestResult(runID, language string, tc harness.Toolchain, jr *JobResult, start time.Time) *domain.TestResult {
	result := &domain.TestResult{
		RunID:     runID,
		Language:  language,
		Output:    jr.Output,
		Duration:  time.Duration(jr.DurationSecs * float64(time.Second)),
		CreatedAt: start,
	}
	switch {
	case jr.SetupFailed || jr.ExitCode < 0:
		result.Outcome = domain.OutcomeError
	case jr.ExitCode == 0:
		result.Outcome = domain.OutcomePassed
	default:
		result.Outcome = domain.OutcomeFailed
		result.Failures = tc.ParseFailures(jr.Output)
	}
	return result
}

// runLocal adapts the local harness into the dispatcher's fallback shape
func (c *Coordinator) runLocal(local *harness.Local) LocalFunc {
	return func(job *JobMessage) *JobResult {
		artifacts := make([]*domain.Artifact, 0, len(job.Files))
		for path, content := range job.Files {
			artifacts = append(artifacts, &domain.Artifact{Path: path, Content: content})
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(job.TimeoutSecs)*time.Second)
		defer cancel()

		result, err := local.Run(ctx, job.JobID, job.Language, artifacts)
		if err != nil {
			return &JobResult{JobID: job.JobID, ExitCode: -1, Output: err.Error()}
		}

		jr := &JobResult{
			JobID:        job.JobID,
			Output:       result.Output,
			DurationSecs: result.Duration.Seconds(),
		}
		switch result.Outcome {
		case domain.OutcomePassed:
			jr.ExitCode = 0
		case domain.OutcomeFailed:
			jr.ExitCode = 1
		default:
			jr.ExitCode = -1
			jr.SetupFailed = true
		}
		return jr
	}
}

// HandleWebSocket handles incoming WebSocket connections from workers
func (c *Coordinator) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[execpool] upgrade failed: %v", err)
		return
	}
	go c.handleWorkerConnection(conn)
}

func (c *Coordinator) handleWorkerConnection(conn *websocket.Conn) {
	var workerID string
	defer func() {
		conn.Close()
		if workerID != "" {
			c.registry.Unregister(workerID)
			c.dispatcher.RequeueWorkerJobs(workerID)
			c.dispatcher.TryDispatch()
			log.Printf("[execpool] worker %s disconnected", workerID)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[execpool] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.HeartbeatTimeout))

		var env EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("[execpool] invalid message: %v", err)
			continue
		}

		switch env.Type {
		case TypeRegister:
			var reg RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				log.Printf("[execpool] invalid register: %v", err)
				continue
			}
			workerID = reg.WorkerID
			c.registry.Register(&ConnectedWorker{
				ID:        reg.WorkerID,
				MaxJobs:   reg.MaxJobs,
				Slots:     reg.MaxJobs,
				Languages: reg.Languages,
				Conn:      conn,
			})
			log.Printf("[execpool] worker %s registered (max_jobs=%d languages=%v)",
				reg.WorkerID, reg.MaxJobs, reg.Languages)

		case TypeReady:
			var ready ReadyMessage
			if err := json.Unmarshal(env.Payload, &ready); err != nil {
				log.Printf("[execpool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if w := c.registry.Get(workerID); w != nil {
				w.UpdateSlots(ready.Slots)
				c.dispatcher.TryDispatch()
			}

		case TypeOutput:
			var output OutputMessage
			if err := json.Unmarshal(env.Payload, &output); err != nil {
				log.Printf("[execpool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			c.accumulateOutput(output.JobID, output.Data)

		case TypeComplete:
			var complete CompleteMessage
			if err := json.Unmarshal(env.Payload, &complete); err != nil {
				log.Printf("[execpool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			output := c.getAndClearOutput(complete.JobID)
			c.dispatcher.Complete(complete.JobID, &JobResult{
				JobID:        complete.JobID,
				ExitCode:     complete.ExitCode,
				SetupFailed:  complete.SetupFailed,
				Output:       output,
				DurationSecs: float64(complete.DurationMs) / 1000,
			})

		case TypeError:
			var errMsg ErrorMessage
			if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
				log.Printf("[execpool] failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			output := c.getAndClearOutput(errMsg.JobID)
			c.dispatcher.Complete(errMsg.JobID, &JobResult{
				JobID:    errMsg.JobID,
				ExitCode: -1,
				Output:   output + "Error: " + errMsg.Message,
			})

		case TypePong:
			if w := c.registry.Get(workerID); w != nil {
				w.SetLastHeartbeat(time.Now())
			}
		}
	}
}

func (c *Coordinator) sendJobToWorker(w *ConnectedWorker, job *JobMessage) error {
	data, err := MarshalEnvelope(TypeJob, job)
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

func (c *Coordinator) sendCancelToWorker(workerID, jobID string) error {
	w := c.registry.Get(workerID)
	if w == nil {
		return fmt.Errorf("worker %s not found", workerID)
	}
	data, err := MarshalEnvelope(TypeCancel, CancelMessage{JobID: jobID})
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

// Start starts the coordinator server and blocks until it stops
func (c *Coordinator) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.HandleWebSocket)
	mux.HandleFunc("/status", c.HandleStatus)

	c.server = &http.Server{
		Addr:    c.config.ListenAddr,
		Handler: mux,
	}

	go c.heartbeatLoop(ctx)

	log.Printf("[execpool] coordinator listening on %s", c.config.ListenAddr)
	return c.server.ListenAndServe()
}

// Stop stops the coordinator server
func (c *Coordinator) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

// HandleStatus returns the current worker and queue state
func (c *Coordinator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	workers := []map[string]interface{}{}
	for _, worker := range c.registry.All() {
		maxJobs, slots, connectedAt := worker.GetStatus()
		workers = append(workers, map[string]interface{}{
			"id":              worker.ID,
			"max_jobs":        maxJobs,
			"active_jobs":     maxJobs - slots,
			"languages":       worker.Languages,
			"connected_since": connectedAt.Format(time.RFC3339),
		})
	}

	status := map[string]interface{}{
		"workers":     workers,
		"queued_jobs": c.dispatcher.QueuedCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendHeartbeats()
		}
	}
}

func (c *Coordinator) sendHeartbeats() {
	for _, w := range c.registry.All() {
		w.writeMu.Lock()
		w.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := w.Conn.WriteMessage(websocket.PingMessage, nil)
		w.Conn.SetWriteDeadline(time.Time{})
		w.writeMu.Unlock()

		if err != nil {
			log.Printf("[execpool] ping to %s failed: %v", w.ID, err)
			w.Conn.Close()
		}
	}
}

func (c *Coordinator) accumulateOutput(jobID, data string) {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()

	if c.outputBuffer[jobID] == nil {
		c.outputBuffer[jobID] = &strings.Builder{}
	}
	c.outputBuffer[jobID].WriteString(data)
}

func (c *Coordinator) getAndClearOutput(jobID string) string {
	c.outputMu.Lock()
	defer c.outputMu.Unlock()

	if buf, ok := c.outputBuffer[jobID]; ok {
		output := buf.String()
		delete(c.outputBuffer, jobID)
		return output
	}
	return ""
}
