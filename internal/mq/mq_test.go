package mq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParsePayload_TaskInvoke(t *testing.T) {
	id := uuid.New()
	msg := &Message{
		ID:   "1",
		Type: MessageTypeTaskInvoke,
		Payload: map[string]any{
			"task_id":      "second",
			"execution_id": id.String(),
			"input":        map[string]any{"parallel_no": 1.0},
			"timeout_ms":   1500.0,
		},
	}

	payload, err := ParsePayload[TaskInvokePayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.TaskID != "second" || payload.ExecutionID != id || payload.TimeoutMs != 1500 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestDecodeResult(t *testing.T) {
	body, err := json.Marshal(&Message{
		ID:        "r1",
		Type:      MessageTypeTaskResult,
		Payload:   TaskResultPayload{Error: "Exception", Cause: map[string]any{"errorMessage": "boom"}},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	res, err := decodeResult(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error != "Exception" {
		t.Errorf("expected Exception, got %q", res.Error)
	}
	cause, ok := res.Cause.(map[string]any)
	if !ok || cause["errorMessage"] != "boom" {
		t.Errorf("expected structured cause, got %#v", res.Cause)
	}
}

func TestDecodeResult_Invalid(t *testing.T) {
	if _, err := decodeResult([]byte("not json")); err == nil {
		t.Error("expected error for invalid body")
	}
}
