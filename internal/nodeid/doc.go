// internal/nodeid/doc.go

/*
Package nodeid provides a structured, type-safe representation for the
hierarchical source addresses carried by evaluation events.

The canonical format is a slash-separated sequence of key/value segments,
e.g., `/ensemble/ee-0/real/3/step/0/job/1`. Trailing segments are optional,
so `/ensemble/ee-0` addresses the ensemble itself and
`/ensemble/ee-0/real/3/step/0` addresses a step.

This package enforces the address schema and centralizes all formatting
and parsing logic, so the snapshot and dispatcher packages never handle raw
path strings.
*/
package nodeid
