package wire

import "fmt"

// Frame kinds carried on a host websocket
const (
	FrameRequest  = "request"
	FrameResponse = "response"
	FrameSignal   = "signal"
)

// ResponseError is the payload type the host uses for structured failures
const ResponseError = "error"

// Frame is the outer message written as one binary websocket message
type Frame struct {
	Type string `codec:"type"`
	ID   uint64 `codec:"id"`
	Data []byte `codec:"data"`
}

// Payload is the tagged body of a request or response
type Payload struct {
	Type string `codec:"type"`
	Data []byte `codec:"data"`
}

// HostError is a structured error value returned by the host
type HostError struct {
	Type   string `codec:"type"`
	Reason string `codec:"reason"`
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// NewPayload encodes v as the body of a payload tagged with typ.
// A nil v produces an empty body.
func NewPayload(typ string, v interface{}) (*Payload, error) {
	p := &Payload{Type: typ}
	if v == nil {
		return p, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	p.Data = data
	return p, nil
}

// ErrorPayload wraps a host error as a response payload
func ErrorPayload(errType, reason string) *Payload {
	p, _ := NewPayload(ResponseError, &HostError{Type: errType, Reason: reason})
	return p
}

// Into decodes the payload body into v
func (p *Payload) Into(v interface{}) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%s: empty payload", p.Type)
	}
	return Unmarshal(p.Data, v)
}

// Err returns the host error carried by an error payload, or nil
func (p *Payload) Err() *HostError {
	if p.Type != ResponseError {
		return nil
	}
	var he HostError
	if err := Unmarshal(p.Data, &he); err != nil {
		return &HostError{Type: "malformed_error", Reason: err.Error()}
	}
	return &he
}
