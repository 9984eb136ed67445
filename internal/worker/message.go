package worker

import "fmt"

// MessageType tags every message crossing the pipeline boundary.
type MessageType string

const (
	// TypeStatus carries a streamed partial result for a running job.
	TypeStatus MessageType = "STATUS"
	// TypeResult carries the single final result of a job.
	TypeResult MessageType = "RESULT"
	// TypeError carries the single terminal error of a failed job.
	TypeError MessageType = "ERROR"
)

// Message is the envelope for all pipeline responses. It is a tagged
// result: Payload is set on STATUS and RESULT, Err on ERROR, never both.
type Message struct {
	Type          MessageType
	Pipeline      string
	CorrelationID string
	Payload       any
	Err           error
}

// String returns a compact representation for logging.
func (m Message) String() string {
	if m.Err != nil {
		return fmt.Sprintf("Message{%s %s/%s err=%v}", m.Type, m.Pipeline, m.CorrelationID, m.Err)
	}
	return fmt.Sprintf("Message{%s %s/%s}", m.Type, m.Pipeline, m.CorrelationID)
}
