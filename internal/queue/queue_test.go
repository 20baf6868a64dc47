package queue

import (
	"encoding/json"
	"testing"
)

func TestKeyNamespacing(t *testing.T) {
	q := New(nil, "embedding")
	if got := q.readyKey(); got != "c8:queue:embedding" {
		t.Errorf("readyKey = %q", got)
	}
	if got := q.delayedKey(); got != "c8:queue:embedding:delayed" {
		t.Errorf("delayedKey = %q", got)
	}
}

func TestJobCodec_ForceOmittedWhenFalse(t *testing.T) {
	payload, err := json.Marshal(Job{SolutionID: "sol-1", Attempt: 2})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"solution_id":"sol-1","attempt":2}` {
		t.Errorf("payload = %s", payload)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if job.SolutionID != "sol-1" || job.Attempt != 2 || job.Force {
		t.Errorf("job = %+v", job)
	}
}
