// Package genproto defines the line-delimited JSON protocol spoken between
// the engine and an external acceptance-test generator over stdio.
//
// The engine writes one REQUEST frame to the generator's stdin and closes
// it. The generator answers on stdout with any number of EVENT frames
// followed by exactly one DONE or ERROR frame.
package genproto

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeRequest carries a generation request from the engine
	MessageTypeRequest MessageType = "REQUEST"
	// MessageTypeEvent carries progress from the generator
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone carries the generated tests
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError reports that generation failed
	MessageTypeError MessageType = "ERROR"
)

// Message is the envelope of every frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RequestMessage asks the generator for acceptance tests.
type RequestMessage struct {
	ID string `json:"id"`

	// Timeout is the time the engine will wait, in seconds. Zero means no
	// limit was set.
	Timeout int `json:"timeout,omitempty"`

	Params json.RawMessage `json:"params"`
}

// EventMessage is a progress report.
type EventMessage struct {
	RequestID string            `json:"request_id"`
	Level     string            `json:"level"` // debug, info, warn
	Message   string            `json:"message"`
	Progress  *ProgressInfo     `json:"progress,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ProgressInfo contains progress tracking information.
type ProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Unit    string `json:"unit"`
}

// DoneMessage completes a request.
type DoneMessage struct {
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result"`
	Duration  float64         `json:"duration"` // seconds
}

// ErrorMessage fails a request. Retryable failures are tried again with
// backoff.
type ErrorMessage struct {
	RequestID string            `json:"request_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeRequest, MessageTypeEvent, MessageTypeDone, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the request message is valid.
func (r *RequestMessage) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request ID is required")
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if len(r.Params) == 0 {
		return fmt.Errorf("request params are required")
	}
	return nil
}

// Validate checks the event and defaults its level to info.
func (evt *EventMessage) Validate() error {
	if evt.RequestID == "" {
		return fmt.Errorf("request ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	switch evt.Level {
	case "debug", "info", "warn":
		return nil
	default:
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
}
