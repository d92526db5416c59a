package genproto

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"
)

func TestEncoder(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "encode request message",
			msgType: MessageTypeRequest,
			data:    &RequestMessage{ID: "req-1", Params: json.RawMessage(`{"tree_id":"t"}`)},
		},
		{
			name:    "encode event message",
			msgType: MessageTypeEvent,
			data:    &EventMessage{RequestID: "req-1", Level: "info", Message: "Drafting tests"},
		},
		{
			name:    "encode error message",
			msgType: MessageTypeError,
			data:    &ErrorMessage{RequestID: "req-1", Code: "RATE_LIMITED", Message: "slow down", Retryable: true},
		},
		{
			name:    "invalid message type",
			msgType: MessageType("READY"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewEncoder(&buf).Encode(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if !strings.HasSuffix(buf.String(), "\n") || strings.Count(buf.String(), "\n") != 1 {
				t.Errorf("expected exactly one newline-terminated frame, got %q", buf.String())
			}
			var msg Message
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
			}
		})
	}
}

func TestEncoder_RejectsInvalidPayloads(t *testing.T) {
	enc := NewEncoder(io.Discard)
	if err := enc.EncodeRequest(&RequestMessage{ID: "req-1"}); err == nil {
		t.Error("expected request without params to be rejected")
	}
	if err := enc.EncodeEvent(&EventMessage{RequestID: "req-1", Level: "fatal"}); err == nil {
		t.Error("expected unknown event level to be rejected")
	}
}

func TestEventDefaultsToInfo(t *testing.T) {
	evt := &EventMessage{RequestID: "req-1"}
	if err := evt.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if evt.Level != "info" {
		t.Errorf("Level = %q, want info", evt.Level)
	}
}

func TestConversation(t *testing.T) {
	var wire bytes.Buffer
	enc := NewEncoder(&wire)

	type result struct {
		Tests []string `json:"tests"`
	}
	if err := enc.EncodeEvent(&EventMessage{RequestID: "req-1", Message: "working"}); err != nil {
		t.Fatal(err)
	}
	if err := enc.EncodeDone("req-1", result{Tests: []string{"TestA"}}, 1500*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(&wire)
	msg, err := dec.Decode()
	if err != nil || msg.Type != MessageTypeEvent {
		t.Fatalf("expected EVENT, got %+v (%v)", msg, err)
	}

	msg, err = dec.Decode()
	if err != nil || msg.Type != MessageTypeDone {
		t.Fatalf("expected DONE, got %+v (%v)", msg, err)
	}
	var done DoneMessage
	if err := ParseData(msg.Data, &done); err != nil {
		t.Fatal(err)
	}
	var got result
	if err := ParseData(done.Result, &got); err != nil {
		t.Fatal(err)
	}
	if done.RequestID != "req-1" || done.Duration != 1.5 || len(got.Tests) != 1 {
		t.Errorf("unexpected done frame: %+v %+v", done, got)
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecoder(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		msgType MessageType
	}{
		{
			name:    "decode request message",
			input:   `{"type":"REQUEST","timestamp":"2024-01-01T00:00:00Z","data":{"id":"req-1","params":{"tree_id":"t"}}}`,
			msgType: MessageTypeRequest,
		},
		{
			name:    "decode error message",
			input:   `{"type":"ERROR","timestamp":"2024-01-01T00:00:00Z","data":{"code":"BAD","message":"no","retryable":false}}`,
			msgType: MessageTypeError,
		},
		{
			name:    "unknown message type",
			input:   `{"type":"CMD","timestamp":"2024-01-01T00:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `{invalid json`,
			wantErr: true,
		},
		{
			name:    "empty line",
			input:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewDecoder(strings.NewReader(tt.input + "\n")).Decode()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && msg.Type != tt.msgType {
				t.Errorf("Message type = %v, want %v", msg.Type, tt.msgType)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "valid request",
			input: `{"type":"REQUEST","timestamp":"2024-01-01T00:00:00Z","data":{"id":"req-1","timeout":300,"params":{"tree_id":"t"}}}`,
		},
		{
			name:    "wrong message type",
			input:   `{"type":"EVENT","timestamp":"2024-01-01T00:00:00Z","data":{}}`,
			wantErr: true,
		},
		{
			name:    "missing request id",
			input:   `{"type":"REQUEST","timestamp":"2024-01-01T00:00:00Z","data":{"params":{}}}`,
			wantErr: true,
		},
		{
			name:    "negative timeout",
			input:   `{"type":"REQUEST","timestamp":"2024-01-01T00:00:00Z","data":{"id":"req-1","timeout":-1,"params":{}}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewDecoder(strings.NewReader(tt.input + "\n")).DecodeRequest()
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (req.ID != "req-1" || req.Timeout != 300) {
				t.Errorf("unexpected request: %+v", req)
			}
		})
	}
}
