package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/model"
)

func getStats(t *testing.T, ts *httptest.Server) statsResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return stats
}

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	stats := getStats(t, ts)

	if stats.Batches != 0 || stats.Tasks != 0 {
		t.Errorf("batches/tasks = %d/%d, want 0/0", stats.Batches, stats.Tasks)
	}
	if stats.AvgTaskDurationMS != 0 {
		t.Errorf("avg_task_duration_ms = %f, want 0", stats.AvgTaskDurationMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	info := loadTestModel(t, ts, nil)

	wrongWidth := engine.TensorSet{
		"features": {Type: engine.F32, Shape: engine.Shape{1, 2}, Data: []float32{1, 2}},
	}
	_, b := submitBatch(t, ts, submitBatchRequest{
		ModelID: info.ID,
		Inputs:  []engine.TensorSet{featureInput(1, 2, 3, 4), featureInput(4, 3, 2, 1), wrongWidth},
	})
	waitForBatch(t, ts, b.ID)
	submitBatch(t, ts, submitBatchRequest{ModelID: info.ID})

	stats := getStats(t, ts)

	if stats.Batches != 2 {
		t.Errorf("batches = %d, want 2", stats.Batches)
	}
	if stats.BatchesByStatus[model.BatchStatusCompleted] != 2 {
		t.Errorf("completed batches = %d, want 2", stats.BatchesByStatus[model.BatchStatusCompleted])
	}
	if stats.Tasks != 3 {
		t.Errorf("tasks = %d, want 3", stats.Tasks)
	}
	if stats.TasksByStatus[model.TaskStatusSucceeded] != 2 {
		t.Errorf("succeeded tasks = %d, want 2", stats.TasksByStatus[model.TaskStatusSucceeded])
	}
	if stats.TasksByStatus[model.TaskStatusFailed] != 1 {
		t.Errorf("failed tasks = %d, want 1", stats.TasksByStatus[model.TaskStatusFailed])
	}
}
