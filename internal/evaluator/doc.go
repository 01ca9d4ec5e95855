// Package evaluator serves one ensemble evaluation.
//
// Producers stream events to GET /dispatch and monitors follow the merged
// snapshot on GET /client, both over websockets. Evaluator.Run wires the
// dispatcher, the HTTP server, the job queue and an internal monitor that
// decides the final outcome.
package evaluator
