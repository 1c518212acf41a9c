package jobs

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nimburion/orchestra/pkg/client"
	"github.com/nimburion/orchestra/pkg/config"
	"github.com/nimburion/orchestra/pkg/testutil"
)

func TestClientWorker_EndToEnd(t *testing.T) {
	engine := testutil.NewFakeEngine(t)
	engine.Script(http.MethodPost, "/jobs/activation",
		testutil.Reply{Status: http.StatusOK, Body: map[string]any{"jobs": []map[string]any{
			{"type": "ship", "jobKey": "101", "retries": 3, "variables": map[string]any{"orderId": "A-1"}},
			{"type": "ship", "jobKey": "102", "retries": 3, "variables": map[string]any{"orderId": "A-2"}},
		}}},
		testutil.Reply{Status: http.StatusOK, Body: map[string]any{"jobs": []any{}}},
	)
	engine.Script(http.MethodPost, "/jobs/{jobKey}/completion", testutil.Reply{Status: http.StatusNoContent})
	engine.Script(http.MethodPost, "/jobs/{jobKey}/error", testutil.Reply{Status: http.StatusNoContent})

	cfg := config.DefaultConfig()
	cfg.Client.RestAddress = engine.URL()
	cfg.Worker.PollInterval = 5 * time.Millisecond
	cfg.Worker.Name = "shipping"
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	w, err := NewClientWorker(c, JobWorkerConfig{JobType: "ship"}, func(_ context.Context, job *ActivatedJob) (map[string]any, error) {
		if job.Variables["orderId"] == "A-2" {
			return nil, NewBPMNError("ADDRESS_INVALID", "no street", nil)
		}
		return map[string]any{"shipped": true}, nil
	})
	if err != nil {
		t.Fatalf("NewClientWorker() error = %v", err)
	}
	if got := w.Config().WorkerName; got != "shipping" {
		t.Fatalf("worker name = %q, want client default", got)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return engine.CallCount(http.MethodPost, "/jobs/{jobKey}/completion") == 1 &&
			engine.CallCount(http.MethodPost, "/jobs/{jobKey}/error") == 1
	})

	completion := engine.Calls(http.MethodPost, "/jobs/{jobKey}/completion")[0]
	if completion.Vars["jobKey"] != "101" {
		t.Errorf("completed job %q, want 101", completion.Vars["jobKey"])
	}
	var activation client.ActivateJobsRequest
	if err := engine.Calls(http.MethodPost, "/jobs/activation")[0].Decode(&activation); err != nil {
		t.Fatalf("decode activation: %v", err)
	}
	if activation.Worker != "shipping" || activation.MaxJobsToActivate != cfg.Worker.MaxConcurrentJobs {
		t.Errorf("activation request = %+v", activation)
	}

	// closing the client stops the tracked worker
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.IsRunning() {
		t.Fatal("worker should stop when its client is closed")
	}
}
