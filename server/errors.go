package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/guseggert/omrbridge/dispatch"
	"github.com/guseggert/omrbridge/frame"
	"github.com/guseggert/omrbridge/rpc"
)

// classify maps a call error onto an HTTP status and an error kind.
func classify(err error) (int, ErrorBody) {
	var (
		unknown *dispatch.UnknownMethodError
		remote  *rpc.RemoteError
	)
	body := ErrorBody{Message: err.Error()}
	switch {
	case errors.As(err, &unknown):
		body.Kind = KindUnknownMethod
		return http.StatusNotFound, body
	case errors.As(err, &remote):
		body.Kind = KindBackendError
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, frame.ErrParamsNotObject):
		body.Kind = KindInvalidParams
		return http.StatusBadRequest, body
	case errors.Is(err, rpc.ErrNotInitialized):
		body.Kind = KindNotInitialized
		return http.StatusServiceUnavailable, body
	case errors.Is(err, rpc.ErrBackendUnavailable):
		body.Kind = KindBackendUnavailable
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded):
		body.Kind = KindTimeout
		return http.StatusGatewayTimeout, body
	default:
		body.Kind = KindInternal
		return http.StatusInternalServerError, body
	}
}
