package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/model"
)

type sseEvent struct {
	name string
	data string
}

// readEvents reads named SSE events until the stream ends.
func readEvents(t *testing.T, url string) []sseEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/batches/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsLiveBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	info := loadTestModel(t, ts, map[string]string{"INFERENCE_DELAY_MS": "100"})

	status, b := submitBatch(t, ts, submitBatchRequest{
		ModelID: info.ID,
		Inputs: []engine.TensorSet{
			featureInput(1, 0, 0, 0),
			featureInput(0, 1, 0, 0),
			featureInput(0, 0, 1, 0),
		},
		TimeoutMS: 2000,
	})
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", status)
	}

	events := readEvents(t, ts.URL+"/v1/batches/"+b.ID+"/events")
	want := []string{"result", "result", "result", "finish", "done"}
	if got := eventNames(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}

	seen := make(map[int]bool)
	for _, ev := range events[:3] {
		var r model.TaskResult
		if err := json.Unmarshal([]byte(ev.data), &r); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if r.BatchID != b.ID {
			t.Errorf("BatchID = %q, want %q", r.BatchID, b.ID)
		}
		seen[r.Index] = true
	}
	if len(seen) != 3 {
		t.Errorf("result indexes = %v, want 0..2 once each", seen)
	}

	var final model.Batch
	if err := json.Unmarshal([]byte(events[3].data), &final); err != nil {
		t.Fatalf("decode finish: %v", err)
	}
	if final.Status != model.BatchStatusCompleted || len(final.Results) != 3 {
		t.Errorf("finish = %s with %d results, want completed with 3", final.Status, len(final.Results))
	}
	for i, r := range final.Results {
		if r.Index != i {
			t.Errorf("finish Results[%d].Index = %d", i, r.Index)
		}
	}
}

func TestStreamEventsCompletedBatchReplays(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	info := loadTestModel(t, ts, nil)

	_, b := submitBatch(t, ts, submitBatchRequest{
		ModelID: info.ID,
		Inputs:  []engine.TensorSet{featureInput(1, 0, 0, 0), featureInput(0, 1, 0, 0)},
	})
	waitForBatch(t, ts, b.ID)

	events := readEvents(t, ts.URL+"/v1/batches/"+b.ID+"/events")
	want := []string{"result", "result", "finish", "done"}
	if got := eventNames(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}

	var first model.TaskResult
	if err := json.Unmarshal([]byte(events[0].data), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Index != 0 {
		t.Errorf("replayed results start at index %d, want 0", first.Index)
	}
}

func TestStreamEventsEmptyBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	info := loadTestModel(t, ts, nil)

	_, b := submitBatch(t, ts, submitBatchRequest{ModelID: info.ID})

	events := readEvents(t, ts.URL+"/v1/batches/"+b.ID+"/events")
	want := []string{"finish", "done"}
	if got := eventNames(events); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}
