// Package worker turns a child process's unordered message channel into a
// request/response API.
//
// A Worker injects a request identifier into every outgoing payload,
// listens for the inbound message echoing that identifier and returns it.
// Any error event on the channel fails every call that is still waiting.
//
// Key operations:
// - New: wrap a Channel supplied by the caller
// - Run: send one payload and wait for its correlated response
// - Kill: terminate the underlying channel
//
// Concurrent Run calls on one Worker are correlated independently. The
// Worker imposes no timeouts; bound a call with the context passed to Run.
package worker
