package api

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seantiz/asyncinfer/internal/engine"
)

const eventsRoute = "/v1/batches/{id}/events"

func TestEventStreamsTrackedSeparately(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	info := loadTestModel(t, ts, nil)

	_, b := submitBatch(t, ts, submitBatchRequest{
		ModelID: info.ID,
		Inputs:  []engine.TensorSet{featureInput(1, 0, 0, 0)},
	})
	waitForBatch(t, ts, b.ID)

	httpRequestDuration.DeleteLabelValues("GET", eventsRoute)
	eventStreamDuration.DeleteLabelValues(eventsRoute)

	readEvents(t, ts.URL+"/v1/batches/"+b.ID+"/events")

	if httpRequestDuration.DeleteLabelValues("GET", eventsRoute) {
		t.Error("event stream was observed in the request duration histogram")
	}
	if !eventStreamDuration.DeleteLabelValues(eventsRoute) {
		t.Error("event stream lifetime was not observed")
	}
	if got := testutil.ToFloat64(eventStreamsOpen); got != 0 {
		t.Errorf("open streams = %v after the stream ended, want 0", got)
	}
}
