package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/common/logger"
	"github.com/IgnatG/langextract-api/internal/task"
)

type stubService struct {
	submitID   string
	submitErr  error
	tasks      map[string]*task.Task
	cancelled  bool
	cancelErr  error
	lastSubmit task.Request
}

func (s *stubService) Submit(ctx context.Context, req task.Request) (string, error) {
	s.lastSubmit = req
	return s.submitID, s.submitErr
}

func (s *stubService) SubmitBatch(ctx context.Context, reqs []task.Request, callbackURL string, headers map[string]string) (string, []string, error) {
	if s.submitErr != nil {
		return "", nil, s.submitErr
	}
	ids := make([]string, len(reqs))
	for i := range reqs {
		ids[i] = s.submitID
	}
	return "batch-1", ids, nil
}

func (s *stubService) GetStatus(ctx context.Context, taskID string) (*task.Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, apperrors.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

func (s *stubService) Cancel(ctx context.Context, taskID string) (bool, error) {
	return s.cancelled, s.cancelErr
}

type healthyPinger struct{ err error }

func (p healthyPinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(svc *stubService) *httptest.Server {
	s := NewServer(svc, healthyPinger{}, logger.NewNoOpLogger())
	return httptest.NewServer(s.Handler())
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"raw_text":           "Acme Corp hired Jane Doe.",
		"prompt_description": "Extract organizations and people",
		"model":              "gpt-4o",
		"passes":             2,
	}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleExtract_Accepted(t *testing.T) {
	svc := &stubService{submitID: "task-123"}
	srv := newTestServer(svc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/extract", validBody())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "task-123", out["task_id"])
	assert.Equal(t, "PENDING", out["status"])
	assert.Equal(t, 2, svc.lastSubmit.Passes)
}

func TestHandleExtract_SchemaRejectsMissingPrompt(t *testing.T) {
	srv := newTestServer(&stubService{submitID: "task-123"})
	defer srv.Close()

	body := validBody()
	delete(body, "prompt_description")

	resp := postJSON(t, srv.URL+"/api/v1/extract", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
}

func TestHandleExtract_SchemaRejectsBadExample(t *testing.T) {
	srv := newTestServer(&stubService{submitID: "task-123"})
	defer srv.Close()

	body := validBody()
	body["examples"] = []map[string]interface{}{
		{"text": "Globex promoted John Smith.", "extractions": []map[string]interface{}{
			{"extraction_class": "organization"},
		}},
	}

	resp := postJSON(t, srv.URL+"/api/v1/extract", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleExtract_CallbackHeadersPassThrough(t *testing.T) {
	svc := &stubService{submitID: "task-123"}
	srv := newTestServer(svc)
	defer srv.Close()

	body := validBody()
	body["callback_url"] = "https://hooks.example.com/done"
	body["callback_headers"] = map[string]string{"X-Client-Ref": "order-42"}

	resp := postJSON(t, srv.URL+"/api/v1/extract", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "order-42", svc.lastSubmit.CallbackHeaders["X-Client-Ref"])
}

func TestHandleExtract_SchemaRejectsNonStringCallbackHeader(t *testing.T) {
	srv := newTestServer(&stubService{submitID: "task-123"})
	defer srv.Close()

	body := validBody()
	body["callback_headers"] = map[string]interface{}{"X-Client-Ref": 42}

	resp := postJSON(t, srv.URL+"/api/v1/extract", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleExtract_ServiceValidationError(t *testing.T) {
	svc := &stubService{submitErr: apperrors.NewValidationError("exactly one of raw_text and document_url must be set")}
	srv := newTestServer(svc)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/extract", validBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
	assert.Contains(t, out["details"], "exactly one")
}

func TestHandleGetTask(t *testing.T) {
	svc := &stubService{tasks: map[string]*task.Task{
		"task-123": {ID: "task-123", State: task.StateSuccess},
	}}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/tasks/task-123")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "task-123", out["task_id"])
	assert.Equal(t, "SUCCESS", out["status"])
}

func TestHandleGetTask_NotFound(t *testing.T) {
	srv := newTestServer(&stubService{tasks: map[string]*task.Task{}})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/tasks/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "TASK_NOT_FOUND", out["code"])
}

func TestHandleCancelTask(t *testing.T) {
	svc := &stubService{cancelled: true}
	srv := newTestServer(svc)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/tasks/task-123", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, true, out["cancelled"])
}

func TestHandleExtractBatch(t *testing.T) {
	svc := &stubService{submitID: "task-123"}
	srv := newTestServer(svc)
	defer srv.Close()

	body := map[string]interface{}{
		"requests":     []map[string]interface{}{validBody(), validBody()},
		"callback_url": "https://hooks.example.com/batch",
	}
	resp := postJSON(t, srv.URL+"/api/v1/extract/batch", body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "batch-1", out["batch_id"])
	assert.Len(t, out["task_ids"], 2)
}

func TestHandleExtractBatch_RejectsEmpty(t *testing.T) {
	srv := newTestServer(&stubService{})
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/extract/batch", map[string]interface{}{"requests": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubService{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz_Unhealthy(t *testing.T) {
	s := NewServer(&stubService{}, healthyPinger{err: assert.AnError}, logger.NewNoOpLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
