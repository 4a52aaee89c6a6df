package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// ResponseTag prefixes a successful reply.
	ResponseTag = "RESPONSE:"
	// ErrorTag prefixes a failed reply.
	ErrorTag = "ERROR:"
	// ReadyLine is the handshake a pipe-mode backend prints once it can serve requests.
	ReadyLine = "READY"
)

// maxQuotedLine bounds how much of an offending line ends up in error messages and logs.
const maxQuotedLine = 256

var (
	ErrParamsNotObject = errors.New("params must encode to a JSON object")
	ErrUnknownTag      = errors.New("line carries neither a RESPONSE: nor an ERROR: tag")
	ErrMissingID       = errors.New("frame has no id")
)

// Request is sent bridge->backend, one per line.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// MarshalLine encodes the request as a single newline-terminated line.
func (r Request) MarshalLine() ([]byte, error) {
	params := r.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	b, err := json.Marshal(Request{ID: r.ID, Method: r.Method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding request %d: %w", r.ID, err)
	}
	return append(b, '\n'), nil
}

// Response is the payload after ResponseTag.
type Response struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// Fault is the payload after ErrorTag.
type Fault struct {
	ID      *int64 `json:"id"`
	Message string `json:"message"`
}

type Kind int

const (
	KindResponse Kind = iota + 1
	KindFault
	KindReady
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindFault:
		return "fault"
	case KindReady:
		return "ready"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Inbound is a classified backend->bridge frame.
// Result is set for KindResponse, Message for KindFault. KindReady carries neither.
type Inbound struct {
	Kind    Kind
	ID      int64
	Result  json.RawMessage
	Message string
}

// ParseError reports a line that is not a valid frame.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed frame %q: %s", Quote(e.Line), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Quote shortens a line for inclusion in logs.
func Quote(line string) string {
	if len(line) <= maxQuotedLine {
		return line
	}
	return line[:maxQuotedLine] + "..."
}

// Decode classifies one complete line (without its newline).
func Decode(line []byte) (Inbound, error) {
	line = bytes.TrimRight(line, " \t\r\n")

	switch {
	case string(line) == ReadyLine:
		return Inbound{Kind: KindReady}, nil

	case bytes.HasPrefix(line, []byte(ResponseTag)):
		var resp Response
		if err := json.Unmarshal(line[len(ResponseTag):], &resp); err != nil {
			return Inbound{}, &ParseError{Line: string(line), Err: err}
		}
		if resp.ID == nil {
			return Inbound{}, &ParseError{Line: string(line), Err: ErrMissingID}
		}
		result := resp.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return Inbound{Kind: KindResponse, ID: *resp.ID, Result: result}, nil

	case bytes.HasPrefix(line, []byte(ErrorTag)):
		var fault Fault
		if err := json.Unmarshal(line[len(ErrorTag):], &fault); err != nil {
			return Inbound{}, &ParseError{Line: string(line), Err: err}
		}
		if fault.ID == nil {
			return Inbound{}, &ParseError{Line: string(line), Err: ErrMissingID}
		}
		return Inbound{Kind: KindFault, ID: *fault.ID, Message: fault.Message}, nil
	}

	return Inbound{}, &ParseError{Line: string(line), Err: ErrUnknownTag}
}

// EncodeParams turns caller-supplied params into the JSON object carried by a Request.
// nil and JSON null become {}; anything that is not an object is rejected.
func EncodeParams(params any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch p := params.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) && len(bytes.TrimSpace(p)) > 0 {
			return nil, fmt.Errorf("%w: invalid JSON", ErrParamsNotObject)
		}
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding params: %w", err)
		}
		raw = b
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, ErrParamsNotObject
	}
	return json.RawMessage(trimmed), nil
}
