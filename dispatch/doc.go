// Package dispatch is the public call surface of the bridge.
//
// A Dispatcher checks an operation name against the closed catalogue of backend methods and forwards
// the parameters untouched. Parameter validation is the backend's job: a rejected call comes back as
// an *rpc.RemoteError carrying the backend's message.
package dispatch
