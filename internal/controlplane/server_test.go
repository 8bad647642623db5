package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/zphelps/jarvis/internal/attention"
	"github.com/zphelps/jarvis/internal/events"
	"github.com/zphelps/jarvis/internal/executor"
	"github.com/zphelps/jarvis/internal/jobs"
	"github.com/zphelps/jarvis/internal/llm"
	"github.com/zphelps/jarvis/internal/models"
	"github.com/zphelps/jarvis/internal/orchestrator"
	"github.com/zphelps/jarvis/internal/store"
)

type stubPlanner struct{}

func (stubPlanner) Decompose(context.Context, models.DispatchRequest) (*models.DecompositionResult, llm.Usage, error) {
	return nil, llm.Usage{}, fmt.Errorf("planner not wired in tests")
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "jarvis.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	orch := orchestrator.New(st, jobs.NewQueue(st), events.NewPublisher(st),
		attention.NewNotifier(st), stubPlanner{}, executor.NewRegistry())
	ts := httptest.NewServer(NewServer(NewService(st, orch), "127.0.0.1:0").Handler())

	t.Cleanup(func() {
		ts.Close()
		st.Close()
	})
	return ts, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestDispatchAndGetTask(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{
		Description: "plan a dinner party",
		Priority:    models.PriorityHigh,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("dispatch status = %d", resp.StatusCode)
	}

	var task models.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatal(err)
	}
	if task.UserID != DefaultUser || task.Status != models.TaskStatusPending {
		t.Errorf("task = %+v", task)
	}

	// The dispatch queued a planning job.
	job, err := st.ClaimDueJob()
	if err != nil || job == nil || job.Kind != models.JobDecompose {
		t.Fatalf("expected decompose job, got %+v (%v)", job, err)
	}

	get, err := http.Get(ts.URL + "/tasks/" + task.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", get.StatusCode)
	}
}

func TestDispatchRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{Description: ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank description status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{Description: "x", Priority: "asap"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad priority status = %d", resp.StatusCode)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/tasks/ghost")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListTasksWithFilters(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, desc := range []string{"first", "second"} {
		resp := postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{Description: desc})
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/tasks?status=pending")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tasks []models.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Errorf("pending tasks = %d, want 2", len(tasks))
	}

	resp2, err := http.Get(ts.URL + "/tasks?status=completed")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	tasks = nil
	if err := json.NewDecoder(resp2.Body).Decode(&tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("completed tasks = %d, want 0", len(tasks))
	}
}

func TestTaskEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{Description: "with history"})
	var task models.Task
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	evResp, err := http.Get(ts.URL + "/tasks/" + task.ID + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer evResp.Body.Close()

	var evs []models.Event
	if err := json.NewDecoder(evResp.Body).Decode(&evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != models.EventTaskCreated {
		t.Errorf("events = %+v", evs)
	}
	if _, ok := evs[0].Payload.(models.CreatedPayload); !ok {
		t.Errorf("payload type = %T", evs[0].Payload)
	}

	missing, _ := http.Get(ts.URL + "/tasks/ghost/events")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing task events status = %d", missing.StatusCode)
	}
}

func TestCancelAndConflicts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/dispatches", models.DispatchRequest{Description: "cancel me"})
	var task models.Task
	json.NewDecoder(resp.Body).Decode(&task)
	resp.Body.Close()

	c := postJSON(t, ts.URL+"/tasks/"+task.ID+"/cancel", cancelRequest{Reason: "nevermind"})
	c.Body.Close()
	if c.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", c.StatusCode)
	}

	// A second cancel hits a terminal state.
	c2 := postJSON(t, ts.URL+"/tasks/"+task.ID+"/cancel", cancelRequest{})
	c2.Body.Close()
	if c2.StatusCode != http.StatusConflict {
		t.Errorf("double cancel status = %d, want 409", c2.StatusCode)
	}

	// Respond and retry are also conflicts on a cancelled task.
	r := postJSON(t, ts.URL+"/tasks/"+task.ID+"/respond", respondRequest{Response: "hello"})
	r.Body.Close()
	if r.StatusCode != http.StatusConflict {
		t.Errorf("respond status = %d, want 409", r.StatusCode)
	}
	rt := postJSON(t, ts.URL+"/tasks/"+task.ID+"/retry", struct{}{})
	rt.Body.Close()
	if rt.StatusCode != http.StatusConflict {
		t.Errorf("retry status = %d, want 409", rt.StatusCode)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	ts, st := newTestServer(t)

	resp, err := http.Get(ts.URL + "/notifications")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var notifications []models.Notification
	if err := json.NewDecoder(resp.Body).Decode(&notifications); err != nil {
		t.Fatal(err)
	}
	if len(notifications) != 0 {
		t.Errorf("notifications = %d, want 0", len(notifications))
	}

	task, err := st.CreateTask(store.CreateTaskParams{UserID: DefaultUser, Description: "noisy"})
	if err != nil {
		t.Fatal(err)
	}
	n, err := st.CreateNotification(task.ID, "", DefaultUser, models.ConversationDecision{
		ShouldSurface: true, Priority: models.SurfaceNextTurn, Reason: "Task completed: noisy",
	})
	if err != nil {
		t.Fatal(err)
	}

	r := postJSON(t, ts.URL+"/notifications/"+n.ID+"/resolve", struct{}{})
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Errorf("resolve status = %d", r.StatusCode)
	}

	r2 := postJSON(t, ts.URL+"/notifications/"+n.ID+"/resolve", struct{}{})
	r2.Body.Close()
	if r2.StatusCode != http.StatusNotFound {
		t.Errorf("double resolve status = %d, want 404", r2.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}
