// Package monitor follows a running evaluation from the client side.
//
// A Monitor connects to the dispatcher through a Connector, yields every
// broadcast message in order, and survives transient network failures by
// reconnecting. Because the dispatcher always opens a stream with a full
// snapshot, a reconnect never needs replay.
//
// Tracking is an explicit state machine:
//
//	Connecting -> Streaming -> Done
//	     |            |
//	     v            v
//	  Backoff <-------+
//	     |
//	     v
//	  Failed
//
// Transient failures (connection refused, timeouts, a dropped connection)
// share one counter. The counter is reset once a stream has delivered a
// message; after Policy.MaxRetries consecutive failures Track gives up with
// a *FatalConnectionError. Fatal failures, such as a rejected handshake or a
// malformed message, abort immediately.
package monitor
