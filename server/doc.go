// Package server exposes the bridge to the UI process over loopback HTTP and WebSocket.
//
// Routes:
//
//	GET  /health          bridge state and session
//	GET  /methods         the method catalogue
//	POST /invoke/:method  JSON params in, {"result": ...} out
//	GET  /ws              many concurrent calls over one WebSocket
package server
