package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

func TestFakeEngine_ScriptedRepliesRepeatLast(t *testing.T) {
	engine := NewFakeEngine(t)
	engine.Script(http.MethodPost, "/jobs/{jobKey}/completion",
		ProblemReply(http.StatusServiceUnavailable, "RESOURCE_EXHAUSTED", "busy"),
		Reply{Status: http.StatusNoContent},
	)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(engine.URL()+"/jobs/42/completion", "application/json", bytes.NewBufferString(`{"variables":{"ok":true}}`))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		_ = resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	if statuses[0] != http.StatusServiceUnavailable || statuses[1] != http.StatusNoContent || statuses[2] != http.StatusNoContent {
		t.Fatalf("statuses = %v", statuses)
	}

	calls := engine.Calls(http.MethodPost, "/jobs/{jobKey}/completion")
	if len(calls) != 3 {
		t.Fatalf("recorded %d calls, want 3", len(calls))
	}
	if calls[0].Vars["jobKey"] != "42" || calls[0].Path != APIPrefix+"/jobs/42/completion" {
		t.Fatalf("unexpected call %+v", calls[0])
	}
	var body struct {
		Variables map[string]any `json:"variables"`
	}
	if err := calls[0].Decode(&body); err != nil || body.Variables["ok"] != true {
		t.Fatalf("Decode() = %+v, %v", body, err)
	}
}

func TestFakeEngine_UnknownRouteReturnsProblem(t *testing.T) {
	engine := NewFakeEngine(t)

	resp, err := http.Get(engine.URL() + "/nowhere")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var problem map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem["title"] != "NOT_FOUND" {
		t.Fatalf("problem = %v", problem)
	}
}

func TestFakeEngine_HandleRecordsCalls(t *testing.T) {
	engine := NewFakeEngine(t)
	engine.Handle(http.MethodGet, "/topology", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"gatewayVersion": r.Header.Get("X-Probe")})
	})

	req, _ := http.NewRequest(http.MethodGet, engine.URL()+"/topology", nil)
	req.Header.Set("X-Probe", "8.7.0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	payload, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !bytes.Contains(payload, []byte(`"8.7.0"`)) {
		t.Fatalf("payload = %s", payload)
	}
	if engine.CallCount(http.MethodGet, "/topology") != 1 {
		t.Fatalf("CallCount() = %d, want 1", engine.CallCount(http.MethodGet, "/topology"))
	}
}
