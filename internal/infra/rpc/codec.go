package rpc

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

const Version = "2.0"

// Request is an outbound call expecting a reply. IDs are host-assigned
// positive integers, strictly increasing for the lifetime of the allocator,
// independent of process identity.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is fire-and-forget: same envelope, no ID, and the server
// must not reply to it.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response carries exactly one of Result or Error plus the originating
// request's ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsError reports whether the response carries an error. Result and Error
// are mutually exclusive on the wire.
func (r *Response) IsError() bool {
	return r != nil && r.Error != nil
}

// ErrorMessage extracts the error message when present.
func (r *Response) ErrorMessage() (string, bool) {
	if !r.IsError() {
		return "", false
	}
	return r.Error.Message, true
}

// IDGenerator allocates request IDs. It is constructor-injected rather than
// package-global so independent connections stay independently testable;
// one generator is shared across a correlation layer's restarts so IDs are
// never reused even when the underlying process is replaced.
type IDGenerator struct {
	seq atomic.Int64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next ID. The first call returns 1.
func (g *IDGenerator) Next() int64 {
	return g.seq.Add(1)
}

// Codec builds and encodes wire envelopes.
type Codec struct {
	ids *IDGenerator
}

func NewCodec(ids *IDGenerator) *Codec {
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &Codec{ids: ids}
}

// NewRequest allocates the next ID and wraps method/params in a request
// envelope. params may be nil, a json.RawMessage, or any marshalable value.
func (c *Codec) NewRequest(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Request{
		JSONRPC: Version,
		ID:      c.ids.Next(),
		Method:  method,
		Params:  raw,
	}, nil
}

func (c *Codec) NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	return &Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
	}, nil
}

// EncodeRequest produces the canonical single-line JSON form.
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

func EncodeNotification(note *Notification) ([]byte, error) {
	return json.Marshal(note)
}

func DecodeResponse(raw []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch typed := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return typed, nil
	default:
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(raw), nil
	}
}
