package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msouza-dev/flowsync/internal/db"
	"github.com/msouza-dev/flowsync/internal/models"
	"github.com/msouza-dev/flowsync/internal/service"
)

type fakeRuleManager struct {
	registered []models.SyncRule
	updateErr  error
	deleteErr  error
}

func (f *fakeRuleManager) Register(ctx context.Context, rule *models.SyncRule) error {
	f.registered = append(f.registered, *rule)
	return nil
}

func (f *fakeRuleManager) Unregister(ctx context.Context, id string) error { return f.deleteErr }

func (f *fakeRuleManager) Update(ctx context.Context, id string, patch *models.SyncRulePatch) error {
	return f.updateErr
}

type fakeRuleReader struct {
	rules map[string]*models.SyncRule
}

func (f *fakeRuleReader) List(ctx context.Context) ([]models.SyncRule, error) {
	var out []models.SyncRule
	for _, r := range f.rules {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRuleReader) Get(ctx context.Context, id string) (*models.SyncRule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return nil, db.ErrRuleNotFound
	}
	return rule, nil
}

type fakeManualSyncer struct {
	taskID     string
	triggerErr error
	awaited    models.UploadTask
}

func (f *fakeManualSyncer) Trigger(ctx context.Context, ruleID string) (string, error) {
	return f.taskID, f.triggerErr
}

func (f *fakeManualSyncer) Await(ctx context.Context, taskID string) (models.UploadTask, error) {
	return f.awaited, nil
}

type fakeTaskReader struct {
	tasks     map[string]models.UploadTask
	cancelErr error
}

func (f *fakeTaskReader) Get(id string) (models.UploadTask, bool) {
	task, ok := f.tasks[id]
	return task, ok
}

func (f *fakeTaskReader) Cancel(id string) error { return f.cancelErr }

type apiFixture struct {
	router http.Handler
	rules  *fakeRuleManager
	reader *fakeRuleReader
	manual *fakeManualSyncer
	tasks  *fakeTaskReader
}

func newAPIFixture() *apiFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx := &apiFixture{
		rules:  &fakeRuleManager{},
		reader: &fakeRuleReader{rules: make(map[string]*models.SyncRule)},
		manual: &fakeManualSyncer{},
		tasks:  &fakeTaskReader{tasks: make(map[string]models.UploadTask)},
	}
	fx.router = NewRouter(fx.rules, fx.reader, fx.manual, fx.tasks, logger)
	return fx
}

func (fx *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRule(t *testing.T) {
	fx := newAPIFixture()

	rec := fx.do(http.MethodPost, "/api/v1/rules", `{
		"table_name": "products",
		"title": "products to crm",
		"sync_on_insert": true,
		"workflow_id_generic": "wf-1",
		"selected_fields": ["name", "price"]
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, fx.rules.registered, 1)

	rule := fx.rules.registered[0]
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "products", rule.TableName)
	assert.True(t, rule.Enabled)
	assert.Equal(t, models.RuleActive, rule.Status)
	assert.Equal(t, []string{"name", "price"}, rule.SelectedFields)
}

func TestCreateRuleMissingTable(t *testing.T) {
	fx := newAPIFixture()

	rec := fx.do(http.MethodPost, "/api/v1/rules", `{"title": "no table"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fx.rules.registered)
}

func TestGetRuleNotFound(t *testing.T) {
	fx := newAPIFixture()

	rec := fx.do(http.MethodGet, "/api/v1/rules/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRuleNotFound(t *testing.T) {
	fx := newAPIFixture()
	fx.rules.updateErr = db.ErrRuleNotFound

	rec := fx.do(http.MethodPatch, "/api/v1/rules/unknown", `{"enabled": false}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSyncAsync(t *testing.T) {
	fx := newAPIFixture()
	fx.manual.taskID = "task-1"

	rec := fx.do(http.MethodPost, "/api/v1/rules/rule-1/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "task-1", body["task_id"])
}

func TestTriggerSyncWait(t *testing.T) {
	fx := newAPIFixture()
	fx.manual.taskID = "task-1"
	fx.manual.awaited = models.UploadTask{
		ID:               "task-1",
		Status:           models.TaskCompleted,
		TotalRecords:     4,
		ProcessedRecords: 4,
		FailedRecords:    1,
	}

	rec := fx.do(http.MethodPost, "/api/v1/rules/rule-1/sync?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.TaskCompleted, body.Status)
	assert.Equal(t, 100, body.Progress)
	assert.Equal(t, 1, body.FailedRecords)
}

func TestTriggerSyncDisabledRule(t *testing.T) {
	fx := newAPIFixture()
	fx.manual.triggerErr = service.ErrRuleDisabled

	rec := fx.do(http.MethodPost, "/api/v1/rules/rule-1/sync", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerSyncUnknownRule(t *testing.T) {
	fx := newAPIFixture()
	fx.manual.triggerErr = service.ErrRuleNotFound

	rec := fx.do(http.MethodPost, "/api/v1/rules/rule-1/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask(t *testing.T) {
	fx := newAPIFixture()
	fx.tasks.tasks["task-1"] = models.UploadTask{
		ID:               "task-1",
		Status:           models.TaskProcessing,
		TotalRecords:     10,
		ProcessedRecords: 3,
	}

	rec := fx.do(http.MethodGet, "/api/v1/tasks/task-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.TaskProcessing, body.Status)
	assert.Equal(t, 30, body.Progress)
}

func TestGetTaskNotFound(t *testing.T) {
	fx := newAPIFixture()

	rec := fx.do(http.MethodGet, "/api/v1/tasks/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask(t *testing.T) {
	fx := newAPIFixture()

	rec := fx.do(http.MethodPost, "/api/v1/tasks/task-1/cancel", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	fx.tasks.cancelErr = service.ErrTaskTerminal
	rec = fx.do(http.MethodPost, "/api/v1/tasks/task-1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
