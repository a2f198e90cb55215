package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/orchestrator"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

type fakeTrigger struct {
	store      *runstore.Store
	triggerErr error
	cancelErr  error
	cancelled  []string
}

func (f *fakeTrigger) Trigger(feature string, languages []string, branch string, priority domain.Priority) (*domain.Run, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	run := &domain.Run{
		ID:        uuid.New().String(),
		Feature:   feature,
		Languages: languages,
		Branch:    branch,
		Priority:  priority,
		Status:    domain.RunPending,
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if err := f.store.CreateRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (f *fakeTrigger) Cancel(runID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

type fakeApprover struct {
	store *runstore.Store
}

func (f *fakeApprover) Approve(runID string) error {
	return f.store.ApproveChangeSet(runID)
}

func newTestServer(t *testing.T) (*Server, *runstore.Store, *fakeTrigger) {
	t.Helper()
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	trigger := &fakeTrigger{store: store}
	srv := NewServer(store, trigger, &fakeApprover{store: store}, ":0")
	return srv, store, trigger
}

func seedRun(t *testing.T, store *runstore.Store, status domain.RunStatus) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:        uuid.New().String(),
		Feature:   "add profile editing",
		Languages: []string{"python"},
		Status:    domain.RunPending,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("creating run: %v", err)
	}
	if status != domain.RunPending {
		if err := store.MarkRunning(run.ID); err != nil {
			t.Fatalf("marking running: %v", err)
		}
		if status.Terminal() {
			if err := store.FinishRun(run.ID, status, "", "", ""); err != nil {
				t.Fatalf("finishing run: %v", err)
			}
		}
	}
	run.Status = status
	return run
}

func TestTriggerRun(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"feature_description": "add profile editing", "target_languages": ["python", "typescript"], "requested_branch_name": "feat/profile"}`
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp RunResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ID == "" {
		t.Error("expected a run ID in the response")
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if len(resp.Languages) != 2 {
		t.Errorf("languages = %v, want 2 entries", resp.Languages)
	}
}

func TestTriggerRunRejectsInvalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty feature", `{"feature_description": "", "target_languages": ["python"]}`},
		{"no languages", `{"feature_description": "something", "target_languages": []}`},
		{"bad priority", `{"feature_description": "something", "target_languages": ["python"], "priority": "urgent"}`},
		{"malformed json", `{feature`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(tc.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestTriggerWithoutOrchestrator(t *testing.T) {
	store, err := runstore.New(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	srv := NewServer(store, nil, nil, ":0")

	body := `{"feature_description": "x", "target_languages": ["python"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestListRuns(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedRun(t, store, domain.RunPending)
	seedRun(t, store, domain.RunSucceeded)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var runs []RunResponse
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestListRunsFiltersByStatus(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedRun(t, store, domain.RunPending)
	seedRun(t, store, domain.RunSucceeded)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?status=succeeded", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var runs []RunResponse
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != "succeeded" {
		t.Errorf("status = %q, want succeeded", runs[0].Status)
	}
}

func TestRunDetail(t *testing.T) {
	srv, store, _ := newTestServer(t)
	run := seedRun(t, store, domain.RunSucceeded)

	if err := store.AppendArtifact(&domain.Artifact{
		RunID: run.ID, Path: "src/main.py", Language: "python",
		Stage: domain.StageCode, Content: "print('hi')",
	}); err != nil {
		t.Fatalf("appending artifact: %v", err)
	}
	if err := store.RecordTestResult(&domain.TestResult{
		RunID: run.ID, Language: "python", Attempt: 1,
		Outcome:  domain.OutcomePassed,
		Duration: 2 * time.Second,
	}); err != nil {
		t.Fatalf("recording result: %v", err)
	}
	if err := store.SaveReviewReport(&domain.ReviewReport{
		RunID:    run.ID,
		Findings: []domain.Finding{{Severity: "minor", File: "src/main.py", Message: "missing docstring"}},
	}); err != nil {
		t.Fatalf("saving review: %v", err)
	}
	if err := store.SaveChangeSet(&domain.ChangeSet{
		RunID: run.ID, Ref: "council/run-1234", ReviewState: domain.ReviewUnreviewed,
	}); err != nil {
		t.Fatalf("saving changeset: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var detail RunDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if detail.Run.ID != run.ID {
		t.Errorf("run ID = %q, want %q", detail.Run.ID, run.ID)
	}
	if len(detail.Results) != 1 || detail.Results[0].Outcome != "passed" {
		t.Errorf("results = %+v, want one passed result", detail.Results)
	}
	if len(detail.Artifacts) != 1 || detail.Artifacts[0].Path != "src/main.py" {
		t.Errorf("artifacts = %+v, want src/main.py", detail.Artifacts)
	}
	if detail.Review == nil || len(detail.Review.Findings) != 1 {
		t.Errorf("review = %+v, want one finding", detail.Review)
	}
	if detail.ChangeSet == nil || detail.ChangeSet.Ref != "council/run-1234" {
		t.Errorf("changeset = %+v, want ref council/run-1234", detail.ChangeSet)
	}
}

func TestRunDetailNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCancelRun(t *testing.T) {
	srv, store, trigger := newTestServer(t)
	run := seedRun(t, store, domain.RunPending)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/runs/%s/cancel", run.ID), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(trigger.cancelled) != 1 || trigger.cancelled[0] != run.ID {
		t.Errorf("cancelled = %v, want [%s]", trigger.cancelled, run.ID)
	}
}

func TestCancelConflict(t *testing.T) {
	srv, store, trigger := newTestServer(t)
	trigger.cancelErr = fmt.Errorf("run already finished")
	run := seedRun(t, store, domain.RunSucceeded)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/runs/%s/cancel", run.ID), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestApproveRun(t *testing.T) {
	srv, store, _ := newTestServer(t)
	run := seedRun(t, store, domain.RunSucceeded)
	if err := store.SaveChangeSet(&domain.ChangeSet{
		RunID: run.ID, Ref: "council/run-abcd", ReviewState: domain.ReviewUnreviewed,
	}); err != nil {
		t.Fatalf("saving changeset: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/runs/%s/approve", run.ID), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	cs, err := store.GetChangeSet(run.ID)
	if err != nil {
		t.Fatalf("getting changeset: %v", err)
	}
	if cs.ReviewState != domain.ReviewApproved {
		t.Errorf("review state = %q, want approved", cs.ReviewState)
	}
}

func TestApproveUnpublishedRun(t *testing.T) {
	srv, store, _ := newTestServer(t)
	run := seedRun(t, store, domain.RunPending)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/runs/%s/approve", run.ID), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestStatusCounts(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedRun(t, store, domain.RunPending)
	seedRun(t, store, domain.RunRunning)
	seedRun(t, store, domain.RunSucceeded)
	seedRun(t, store, domain.RunFailed)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 4 {
		t.Errorf("total = %d, want 4", resp.Total)
	}
	if resp.Pending != 1 || resp.Running != 1 || resp.Succeeded != 1 || resp.Failed != 1 {
		t.Errorf("counts = %+v, want one of each", resp)
	}
}

func TestEventHubDeliversTypedEvents(t *testing.T) {
	hub := newEventHub()
	client := hub.subscribe()

	hub.publish(orchestrator.Event{
		RunID:    "r1",
		Type:     "stage",
		Stage:    domain.StageRefining,
		Language: "python",
		Attempt:  2,
	})

	select {
	case ev := <-client:
		if ev.Stage != domain.StageRefining || ev.Language != "python" || ev.Attempt != 2 {
			t.Errorf("event = %+v, want refining/python/attempt 2", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	hub.unsubscribe(client)
	if _, open := <-client; open {
		t.Error("channel still open after unsubscribe")
	}
}

func TestEventHubDropsSlowClients(t *testing.T) {
	hub := newEventHub()
	client := hub.subscribe()

	// Fill the client's buffer and then some; publish must never block.
	for i := 0; i < 32; i++ {
		hub.publish(orchestrator.Event{RunID: "r1", Type: "result"})
	}

	drained := 0
	for range client {
		drained++
	}
	if drained != 16 {
		t.Errorf("drained %d events, want 16 (buffer) before drop", drained)
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	srv, _, _ := newTestServer(t)

	done := make(chan struct{})
	go func() {
		srv.Broadcast(orchestrator.Event{RunID: "r1", Type: "finished", Status: domain.RunSucceeded})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked with no clients connected")
	}
}

func TestEventStream(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// The client registers asynchronously, so keep publishing until the
	// stream produces a frame.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				srv.Broadcast(orchestrator.Event{RunID: "r1", Type: "stage", Stage: domain.StagePlanning})
				time.Sleep(10 * time.Millisecond)
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: stage" {
		t.Errorf("event line = %q, want %q", eventLine, "event: stage")
	}

	var ev orchestrator.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev); err != nil {
		t.Fatalf("decoding event payload: %v", err)
	}
	if ev.RunID != "r1" || ev.Stage != domain.StagePlanning {
		t.Errorf("payload = %+v, want run r1 planning", ev)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/runs", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
