package embed

import (
	"encoding/json"
	"fmt"
)

// MessageType names the kind of a worker message.
type MessageType string

const (
	TypeEmbed    MessageType = "embed"
	TypeProgress MessageType = "progress"
)

// Status reports how far a reply's task has come.
type Status string

const (
	StatusProgress Status = "progress"
	StatusReady    Status = "ready"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Request is sent to the worker. ID is echoed back in the reply.
type Request struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Payload string      `json:"payload"`
}

// Reply is sent by the worker, either for a request (ID set) or as a
// readiness broadcast (ID empty).
type Reply struct {
	Type     MessageType `json:"type"`
	Status   Status      `json:"status"`
	ID       string      `json:"id,omitempty"`
	Result   []float32   `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Progress *float64    `json:"progress,omitempty"`
}

// Encode serializes the request to JSON.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest deserializes a request from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return &r, nil
}

// Encode serializes the reply to JSON.
func (r *Reply) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeReply deserializes a reply from JSON.
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return &r, nil
}

// settles reports whether the reply ends the task it belongs to.
func (r *Reply) settles() bool {
	return r.Status == StatusComplete || r.Status == StatusError
}

func progressReply(pct float64) *Reply {
	return &Reply{Type: TypeProgress, Status: StatusProgress, Progress: &pct}
}
