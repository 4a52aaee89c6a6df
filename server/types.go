package server

import "encoding/json"

type Status struct {
	State   string `json:"state"`
	Session string `json:"session"`
	Error   string `json:"error,omitempty"`
}

type InvokeResponse struct {
	Result json.RawMessage `json:"result"`
}

// ErrorBody describes a failed call. Kind is one of the Kind* constants.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

const (
	KindUnknownMethod      = "unknown_method"
	KindBackendError       = "backend_error"
	KindInvalidParams      = "invalid_params"
	KindBackendUnavailable = "backend_unavailable"
	KindNotInitialized     = "not_initialized"
	KindTimeout            = "timeout"
	KindInternal           = "internal"
)

// wsRequest is a call sent by a WebSocket client. ID is echoed back untouched, so clients may use
// numbers or strings.
type wsRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wsResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}
