// Package bridge runs the OMR backend as a child process and exposes it as a set of asynchronous calls.
//
// A Bridge is created once by the application's composition root and handed to whatever needs to
// talk to the backend. Calls made before the backend is ready are queued and sent in order once it
// is. If the backend exits or its connection drops, every outstanding call fails with
// rpc.ErrBackendUnavailable; nothing is restarted automatically.
package bridge
