// Package event defines the wire-level events exchanged between producers,
// the dispatcher and monitors.
//
// An Event is a small, CloudEvents-like record: a Kind taken from a closed
// registry, the Source address of the entity it concerns, a unique ID, a
// timestamp and an optional Data payload. On the wire it is encoded as
//
//	{"type": "...", "source": "/ensemble/...", "id": "...", "time": "...", "data": {...}}
//
// Kinds fall into three groups. Snapshot kinds (ensemble-*, step-*, job-*)
// describe state transitions of entities and are folded into the snapshot.
// Broadcast kinds (ee-snapshot, ee-snapshot-update, ee-terminated) flow from
// the dispatcher to monitors. Request kinds (ee-user-cancel, ee-user-done)
// flow from monitors back to the dispatcher.
package event
