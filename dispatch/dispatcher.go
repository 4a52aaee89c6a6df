package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guseggert/omrbridge/rpc"
	"go.uber.org/zap"
)

// Caller issues one call to the backend. *bridge.Bridge and *rpc.Correlator implement it.
type Caller interface {
	Call(method string, params any) *rpc.Future
}

type UnknownMethodError struct {
	Name string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method %q", e.Name)
}

// DecodeError means the backend's result did not have the expected shape.
type DecodeError struct {
	Method string
	Result json.RawMessage
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s result: %s", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Dispatcher struct {
	log    *zap.SugaredLogger
	caller Caller
}

type Option func(d *Dispatcher)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		d.log = l.Named("dispatch")
	}
}

func New(caller Caller, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:    zap.NewNop().Sugar(),
		caller: caller,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Go starts the call without waiting for it.
func (d *Dispatcher) Go(name string, params any) (*rpc.Future, error) {
	if _, ok := Lookup(name); !ok {
		d.log.Debugw("rejecting unknown method", "Method", name)
		return nil, &UnknownMethodError{Name: name}
	}
	return d.caller.Call(name, params), nil
}

// Invoke calls name and waits for its result. If ctx ends first the call keeps running and its reply
// is discarded.
func (d *Dispatcher) Invoke(ctx context.Context, name string, params any) (json.RawMessage, error) {
	f, err := d.Go(name, params)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Invoke calls name and decodes its result into T.
func Invoke[T any](ctx context.Context, d *Dispatcher, name string, params any) (T, error) {
	var v T
	raw, err := d.Invoke(ctx, name, params)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &DecodeError{Method: name, Result: raw, Err: err}
	}
	return v, nil
}
